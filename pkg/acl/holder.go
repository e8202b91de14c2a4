package acl

import (
	"context"
	"sync/atomic"
)

// TemplateHolder is the process-wide default-ACL template. Reads take an
// immutable snapshot; Reload replaces the whole value atomically, so a
// concurrent reload can never be observed half-written.
type TemplateHolder struct {
	current atomic.Pointer[Template]
}

// NewTemplateHolder creates a holder seeded with the given template
// (which may be nil when no default-ACL policy is configured yet).
func NewTemplateHolder(t *Template) *TemplateHolder {
	h := &TemplateHolder{}
	h.current.Store(t.Clone())
	return h
}

// Load returns the current template snapshot, or nil when no policy is
// configured.
func (h *TemplateHolder) Load() *Template {
	return h.current.Load()
}

// Reload replaces the template. The caller keeps no reference to the
// stored value; subsequent mutations of t are not observed.
func (h *TemplateHolder) Reload(t *Template) {
	h.current.Store(t.Clone())
}

// AccessRights is one class of aggregated operation-level rights an actor
// holds, independent of any particular target.
type AccessRights struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Delete bool `json:"delete"`
	List   bool `json:"list"`
}

// Allows reports whether the rights include the access kind.
func (r AccessRights) Allows(access Access) bool {
	switch access {
	case AccessRead:
		return r.Read
	case AccessWrite:
		return r.Write
	case AccessDelete:
		return r.Delete
	case AccessList:
		return r.List
	default:
		return false
	}
}

// OperationRights aggregates an actor's operation-level rights for the
// object keyspace and the file keyspace, as granted by the groups the
// actor belongs to.
type OperationRights struct {
	Object AccessRights `json:"object"`
	File   AccessRights `json:"file"`
}

// FullRights grants everything; resolved for administrative actors.
func FullRights() OperationRights {
	all := AccessRights{Read: true, Write: true, Delete: true, List: true}
	return OperationRights{Object: all, File: all}
}

// Resolver resolves a user name to its group memberships and aggregated
// operation rights. Implemented by the store's group directory; resolved
// once per call chain and cached on the call's option bag.
type Resolver interface {
	Resolve(ctx context.Context, user string) (groups []string, rights OperationRights, err error)
}
