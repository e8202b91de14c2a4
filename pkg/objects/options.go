package objects

import (
	"context"

	"github.com/ottohome/objectdb/pkg/acl"
)

// Options carries the calling identity and per-call parameters of a store
// operation. A nil *Options means the administrative default identity.
//
// The resolved actor and its aggregated rights are cached on the value,
// so one group-directory lookup serves a whole call chain.
type Options struct {
	// User and Group identify the caller. An empty User defaults to the
	// administrative user.
	User  string
	Group string

	// Owner and OwnerGroup override the ownership stamped onto records
	// created or re-owned by this call.
	Owner      string
	OwnerGroup string

	// Mode is the permission bit mask applied by chmod operations and
	// stamped onto newly created files.
	Mode uint16

	// ModeSet reports whether Mode was given; a zero mask is a valid mode.
	ModeSet bool

	// MimeType overrides the content type inferred from a written file's
	// extension.
	MimeType string

	// VirtualFile marks a write as a directory placeholder: only the meta
	// record is stored.
	VirtualFile bool

	actor    *acl.Actor
	rights   *acl.OperationRights
	resolved bool
}

// WithUser is a convenience constructor for calls on behalf of a user.
func WithUser(user string) *Options {
	return &Options{User: user}
}

// resolve fills the actor and rights cache, consulting the group
// directory once for non-administrative users.
func (o *Options) resolve(ctx context.Context, sec acl.Security, resolver acl.Resolver) (acl.Actor, acl.OperationRights, error) {
	if o == nil {
		actor := acl.Actor{User: sec.AdminUser, Group: sec.AdminGroup}
		return actor, acl.FullRights(), nil
	}
	if o.resolved {
		return *o.actor, *o.rights, nil
	}

	actor := acl.Actor{User: o.User, Group: o.Group}
	if actor.User == "" {
		actor.User = sec.AdminUser
	}

	var rights acl.OperationRights
	if actor.IsAdmin(sec) {
		rights = acl.FullRights()
	} else {
		groups, r, err := resolver.Resolve(ctx, actor.User)
		if err != nil {
			return acl.Actor{}, acl.OperationRights{}, err
		}
		actor.Groups = groups
		rights = r
		if actor.IsAdmin(sec) {
			rights = acl.FullRights()
		}
	}

	o.actor = &actor
	o.rights = &rights
	o.resolved = true
	return actor, rights, nil
}
