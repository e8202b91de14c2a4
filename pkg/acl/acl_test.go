package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testTemplate() *Template {
	return &Template{
		Owner:      "system.user.admin",
		OwnerGroup: "system.group.administrator",
		Object:     DefaultObjectPerm,
		State:      DefaultObjectPerm,
		File:       DefaultFilePerm,
	}
}

func TestAdminBypassesChecks(t *testing.T) {
	sec := DefaultSecurity()
	denied := &ObjectACL{Owner: "system.user.someone", Object: 0}

	admin := Actor{User: "system.user.admin"}
	assert.True(t, CheckObject(denied, admin, AccessWrite, sec, nil))

	adminGroup := Actor{User: "system.user.worker", Groups: []string{"system.group.administrator"}}
	assert.True(t, CheckObject(denied, adminGroup, AccessDelete, sec, nil))
}

func TestOwnerGroupEveryoneClasses(t *testing.T) {
	sec := DefaultSecurity()
	a := &ObjectACL{
		Owner:      "system.user.alice",
		OwnerGroup: "system.group.users",
		Object:     UserRW | GroupRead, // 0x640
	}

	owner := Actor{User: "system.user.alice"}
	assert.True(t, CheckObject(a, owner, AccessRead, sec, nil))
	assert.True(t, CheckObject(a, owner, AccessWrite, sec, nil))

	member := Actor{User: "system.user.bob", Groups: []string{"system.group.users"}}
	assert.True(t, CheckObject(a, member, AccessRead, sec, nil))
	assert.False(t, CheckObject(a, member, AccessWrite, sec, nil))

	stranger := Actor{User: "system.user.eve"}
	assert.False(t, CheckObject(a, stranger, AccessRead, sec, nil))
	assert.False(t, CheckObject(a, stranger, AccessWrite, sec, nil))
}

func TestDeleteRequiresWriteBitListRequiresReadBit(t *testing.T) {
	sec := DefaultSecurity()
	a := &ObjectACL{Owner: "system.user.alice", Object: UserRW}
	owner := Actor{User: "system.user.alice"}

	assert.True(t, CheckObject(a, owner, AccessDelete, sec, nil))
	assert.True(t, CheckObject(a, owner, AccessList, sec, nil))

	readOnly := &ObjectACL{Owner: "system.user.alice", Object: UserRead}
	assert.False(t, CheckObject(readOnly, owner, AccessDelete, sec, nil))
	assert.True(t, CheckObject(readOnly, owner, AccessList, sec, nil))
}

func TestNilACLFallsBackToTemplate(t *testing.T) {
	sec := DefaultSecurity()
	def := testTemplate()

	// 0x644: everyone reads, only the template owner writes.
	stranger := Actor{User: "system.user.eve"}
	assert.True(t, CheckObject(nil, stranger, AccessRead, sec, def))
	assert.False(t, CheckObject(nil, stranger, AccessWrite, sec, def))

	// Without any template the legacy record is open.
	assert.True(t, CheckObject(nil, stranger, AccessWrite, sec, nil))
}

func TestCheckFilePermissions(t *testing.T) {
	sec := DefaultSecurity()
	a := &FileACL{
		Owner:       "system.user.alice",
		OwnerGroup:  "system.group.users",
		Permissions: DefaultFilePerm, // 0x664
	}

	member := Actor{User: "system.user.bob", Group: "system.group.users"}
	assert.True(t, CheckFile(a, member, AccessWrite, sec, nil))

	stranger := Actor{User: "system.user.eve"}
	assert.True(t, CheckFile(a, stranger, AccessRead, sec, nil))
	assert.False(t, CheckFile(a, stranger, AccessWrite, sec, nil))
}

func TestTemplateHolderReload(t *testing.T) {
	h := NewTemplateHolder(nil)
	assert.Nil(t, h.Load())

	tpl := testTemplate()
	h.Reload(tpl)

	snapshot := h.Load()
	assert.Equal(t, tpl.Owner, snapshot.Owner)

	// Mutating the source after Reload does not affect the stored value.
	tpl.Owner = "system.user.other"
	assert.Equal(t, "system.user.admin", h.Load().Owner)
}

func TestAccessRightsAllows(t *testing.T) {
	r := AccessRights{Read: true, List: true}
	assert.True(t, r.Allows(AccessRead))
	assert.True(t, r.Allows(AccessList))
	assert.False(t, r.Allows(AccessWrite))
	assert.False(t, r.Allows(AccessDelete))

	full := FullRights()
	assert.True(t, full.Object.Allows(AccessDelete))
	assert.True(t, full.File.Allows(AccessWrite))
}
