// Package acl implements the access-control model shared by the object
// store and the virtual file store: permission bit masks, ACL descriptors,
// the process-wide default-ACL template and the check functions every
// operation consults before touching the backend.
//
// Permission bits use three nibbles (owner, group, everyone), read=0x4 and
// write=0x2 within each nibble, so the configured defaults read like Unix
// modes: 0x644 for objects, 0x664 for files. A delete check tests the
// write bit, a list check tests the read bit.
package acl

// Permission bit masks.
const (
	UserRead   uint16 = 0x400
	UserWrite  uint16 = 0x200
	GroupRead  uint16 = 0x040
	GroupWrite uint16 = 0x020
	EveryRead  uint16 = 0x004
	EveryWrite uint16 = 0x002

	UserRW = UserRead | UserWrite

	// DefaultObjectPerm and DefaultFilePerm are the bit masks stamped on
	// new records when no template is configured.
	DefaultObjectPerm = UserRW | GroupRead | EveryRead              // 0x644
	DefaultFilePerm   = UserRW | GroupRead | GroupWrite | EveryRead // 0x664
)

// Access is the kind of access an operation requires.
type Access int

const (
	AccessRead Access = iota + 1
	AccessWrite
	AccessDelete
	AccessList
)

// String returns the lower-case access name.
func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessDelete:
		return "delete"
	case AccessList:
		return "list"
	default:
		return "unknown"
	}
}

// nibbleBit returns the everyone-class bit for the access kind; shift it
// by 4 for the group class and by 8 for the owner class.
func nibbleBit(a Access) uint16 {
	switch a {
	case AccessRead, AccessList:
		return EveryRead
	case AccessWrite, AccessDelete:
		return EveryWrite
	default:
		return 0
	}
}

// ObjectACL is the access descriptor attached to a stored object.
// Object guards the object record itself; State guards the associated
// runtime state and is only present on objects of type "state".
type ObjectACL struct {
	Owner      string `json:"owner,omitempty"`
	OwnerGroup string `json:"ownerGroup,omitempty"`
	Object     uint16 `json:"object,omitempty"`
	State      uint16 `json:"state,omitempty"`
}

// FileACL is the access descriptor attached to a file meta record.
type FileACL struct {
	Owner       string `json:"owner,omitempty"`
	OwnerGroup  string `json:"ownerGroup,omitempty"`
	Permissions uint16 `json:"permissions,omitempty"`

	// Read and Write are derived convenience flags filled into directory
	// listing rows for the requesting actor; they are not stored.
	Read  bool `json:"read,omitempty"`
	Write bool `json:"write,omitempty"`
}

// Template is the process-wide default-ACL policy stamped on new objects
// and files that carry no explicit ACL.
type Template struct {
	Owner      string `json:"owner" mapstructure:"owner"`
	OwnerGroup string `json:"ownerGroup" mapstructure:"ownerGroup"`
	Object     uint16 `json:"object" mapstructure:"object"`
	State      uint16 `json:"state" mapstructure:"state"`
	File       uint16 `json:"file" mapstructure:"file"`
}

// Clone returns a copy of the template.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Security identifies the administrative principals. Administrative
// identity short-circuits every check without inspecting the target's ACL.
type Security struct {
	AdminUser  string `mapstructure:"admin_user" yaml:"admin_user"`
	AdminGroup string `mapstructure:"admin_group" yaml:"admin_group"`
}

// DefaultSecurity returns the platform's stock admin principals.
func DefaultSecurity() Security {
	return Security{
		AdminUser:  "system.user.admin",
		AdminGroup: "system.group.administrator",
	}
}

// Actor is the identity a check runs against: the calling user, its
// primary group and the full resolved group list.
type Actor struct {
	User   string
	Group  string
	Groups []string
}

// IsAdmin reports whether the actor holds administrative identity.
func (a Actor) IsAdmin(sec Security) bool {
	if a.User == sec.AdminUser {
		return true
	}
	if a.Group == sec.AdminGroup {
		return true
	}
	for _, g := range a.Groups {
		if g == sec.AdminGroup {
			return true
		}
	}
	return false
}

// InGroup reports whether the actor belongs to the named group.
func (a Actor) InGroup(group string) bool {
	if group == "" {
		return false
	}
	if a.Group == group {
		return true
	}
	for _, g := range a.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// checkBits grants access when the actor is the owner and the owner-class
// bit is set, belongs to the owner group and the group-class bit is set,
// or the everyone-class bit is set.
func checkBits(owner, ownerGroup string, perms uint16, actor Actor, access Access) bool {
	bit := nibbleBit(access)
	if bit == 0 {
		return false
	}
	if actor.User == owner {
		return perms&(bit<<8) != 0
	}
	if actor.InGroup(ownerGroup) {
		return perms&(bit<<4) != 0
	}
	return perms&bit != 0
}

// CheckObject validates the requested access against an object's ACL.
// A nil ACL is treated as owned by the default template at check time;
// with no template configured either, access is granted (legacy records
// predating any ACL policy).
func CheckObject(a *ObjectACL, actor Actor, access Access, sec Security, def *Template) bool {
	if actor.IsAdmin(sec) {
		return true
	}
	if a == nil {
		if def == nil {
			return true
		}
		return checkBits(def.Owner, def.OwnerGroup, def.Object, actor, access)
	}
	return checkBits(a.Owner, a.OwnerGroup, a.Object, actor, access)
}

// CheckFile validates the requested access against a file meta record's
// ACL. The semantics parallel CheckObject with the file permission integer
// in place of the object bit mask.
func CheckFile(a *FileACL, actor Actor, access Access, sec Security, def *Template) bool {
	if actor.IsAdmin(sec) {
		return true
	}
	if a == nil {
		if def == nil {
			return true
		}
		return checkBits(def.Owner, def.OwnerGroup, def.File, actor, access)
	}
	return checkBits(a.Owner, a.OwnerGroup, a.Permissions, actor, access)
}
