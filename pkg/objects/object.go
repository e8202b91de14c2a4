package objects

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ottohome/objectdb/internal/logger"
	"github.com/ottohome/objectdb/pkg/acl"
	"github.com/ottohome/objectdb/pkg/backend"
	"github.com/ottohome/objectdb/pkg/keys"
	storeerrors "github.com/ottohome/objectdb/pkg/objects/errors"
)

// GetObject reads one object, enforcing read access against its ACL.
// A missing object yields a NotFound error; an unparsable payload is
// logged and reported as NotFound as well.
func (s *Store) GetObject(ctx context.Context, id string, opts *Options) (*Object, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("getObject", time.Since(started)) }()

	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}

	raw, err := s.backend.Get(ctx, s.ns.ObjectKey(id))
	if err != nil {
		return nil, s.opErr("getObject", mapBackendErr(err, id))
	}
	obj, err := decodeObject(id, raw)
	if err != nil {
		logger.Error("stored object not parsable", "id", id, "error", err)
		return nil, s.opErr("getObject", storeerrors.NewNotFound(id))
	}

	if !actor.IsAdmin(s.sec) {
		if !rights.Object.Read || !acl.CheckObject(obj.ACL, actor, acl.AccessRead, s.sec, s.template.Load()) {
			return nil, s.opErr("getObject", storeerrors.NewPermissionDenied(id))
		}
	}
	return obj, nil
}

// ObjectExists reports whether an object id is present, without reading
// or permission-checking its content.
func (s *Store) ObjectExists(ctx context.Context, id string) (bool, error) {
	_, err := s.backend.Get(ctx, s.ns.ObjectKey(id))
	if err == backend.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, mapBackendErr(err, id)
	}
	return true, nil
}

// SetObject stores an object under id, overwriting any previous value.
// Sticky settings of the stored object are carried forward, the
// protected block is enforced and a default ACL is stamped when none is
// given. The full object is broadcast to subscribers.
func (s *Store) SetObject(ctx context.Context, id string, obj *Object, opts *Options) error {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("setObject", time.Since(started)) }()
	return s.opErr("setObject", s.setObject(ctx, id, obj, opts))
}

func (s *Store) setObject(ctx context.Context, id string, obj *Object, opts *Options) error {
	if !keys.ValidID(id) {
		return storeerrors.NewInvalidID(id)
	}
	if obj == nil {
		return storeerrors.NewInvalidParameter("object must not be nil")
	}
	if err := checkAlias(obj); err != nil {
		return err
	}

	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return err
	}

	old, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if old != nil && !actor.IsAdmin(s.sec) {
		if !rights.Object.Write || !acl.CheckObject(old.ACL, actor, acl.AccessWrite, s.sec, s.template.Load()) {
			return storeerrors.NewPermissionDenied(id)
		}
	}

	obj.ID = id

	incoming := obj.toMap()
	var oldMap map[string]any
	if old != nil {
		oldMap = old.toMap()
	}
	applySticky(s.preserve.list(), oldMap, incoming)
	if err := checkNonEditable(id, oldMap, incoming); err != nil {
		return err
	}
	merged := objectFromMap(incoming)
	s.injectDefaultACL(ctx, merged, opts, actor)
	*obj = *merged

	data, err := obj.MarshalJSON()
	if err != nil {
		return storeerrors.NewInvalidParameter("object not serializable: " + err.Error())
	}
	if err := s.backend.Set(ctx, s.ns.ObjectKey(id), data); err != nil {
		return mapBackendErr(err, id)
	}
	s.publish(ctx, id, obj)
	return nil
}

// ExtendObject deep-merges a partial object into the stored one (or into
// an empty object when none exists) and stores the result. Explicit null
// values in the patch delete the corresponding field. The merged object
// is returned and broadcast.
func (s *Store) ExtendObject(ctx context.Context, id string, patch *Object, opts *Options) (*Object, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("extendObject", time.Since(started)) }()

	obj, err := s.extendObject(ctx, id, patch, opts)
	if err != nil {
		return nil, s.opErr("extendObject", err)
	}
	return obj, nil
}

func (s *Store) extendObject(ctx context.Context, id string, patch *Object, opts *Options) (*Object, error) {
	if !keys.ValidID(id) {
		return nil, storeerrors.NewInvalidID(id)
	}
	if patch == nil {
		return nil, storeerrors.NewInvalidParameter("patch must not be nil")
	}
	if err := checkAlias(patch); err != nil {
		return nil, err
	}

	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}

	old, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if old != nil && !actor.IsAdmin(s.sec) {
		if !rights.Object.Write || !acl.CheckObject(old.ACL, actor, acl.AccessWrite, s.sec, s.template.Load()) {
			return nil, storeerrors.NewPermissionDenied(id)
		}
	}

	base := map[string]any{}
	var oldMap map[string]any
	if old != nil {
		oldMap = old.toMap()
		base = cloneValue(oldMap).(map[string]any)
	}
	patch.ID = id
	deepMerge(base, patch.toMap())
	applySticky(s.preserve.list(), oldMap, base)
	if err := checkNonEditable(id, oldMap, base); err != nil {
		return nil, err
	}

	merged := objectFromMap(base)
	merged.ID = id
	s.injectDefaultACL(ctx, merged, opts, actor)

	data, err := merged.MarshalJSON()
	if err != nil {
		return nil, storeerrors.NewInvalidParameter("object not serializable: " + err.Error())
	}
	if err := s.backend.Set(ctx, s.ns.ObjectKey(id), data); err != nil {
		return nil, mapBackendErr(err, id)
	}
	s.publish(ctx, id, merged)
	return merged, nil
}

// DelObject deletes an object and broadcasts a deletion tombstone.
// Deleting a missing object reports NotFound.
func (s *Store) DelObject(ctx context.Context, id string, opts *Options) error {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("delObject", time.Since(started)) }()
	return s.opErr("delObject", s.delObject(ctx, id, opts))
}

func (s *Store) delObject(ctx context.Context, id string, opts *Options) error {
	if !keys.ValidID(id) {
		return storeerrors.NewInvalidID(id)
	}
	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return err
	}

	old, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if old == nil {
		return storeerrors.NewNotFound(id)
	}
	if !actor.IsAdmin(s.sec) {
		if !rights.Object.Delete || !acl.CheckObject(old.ACL, actor, acl.AccessDelete, s.sec, s.template.Load()) {
			return storeerrors.NewPermissionDenied(id)
		}
	}

	if err := s.backend.Del(ctx, s.ns.ObjectKey(id)); err != nil {
		return mapBackendErr(err, id)
	}
	s.publish(ctx, id, nil)
	return nil
}

// GetKeys enumerates object ids matching a glob pattern, sorted. For
// non-administrative callers only readable objects contribute their id.
func (s *Store) GetKeys(ctx context.Context, pattern string, opts *Options) ([]string, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("getKeys", time.Since(started)) }()

	ids, err := s.getKeys(ctx, pattern, opts)
	if err != nil {
		return nil, s.opErr("getKeys", err)
	}
	return ids, nil
}

func (s *Store) getKeys(ctx context.Context, pattern string, opts *Options) ([]string, error) {
	if pattern == "" {
		return nil, storeerrors.NewInvalidParameter("empty pattern")
	}
	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin(s.sec) && !rights.Object.List {
		return nil, storeerrors.NewPermissionDenied(pattern)
	}

	matcher, err := keys.CompileMatcher(pattern)
	if err != nil {
		return nil, storeerrors.NewInvalidParameter("invalid pattern " + pattern)
	}

	backendKeys, err := s.backend.Keys(ctx, s.ns.Objects+pattern)
	if err != nil {
		return nil, mapBackendErr(err, pattern)
	}
	sort.Strings(backendKeys)

	var ids []string
	for _, key := range backendKeys {
		id, ok := s.ns.ObjectID(key)
		if ok && matcher.Match(id) {
			ids = append(ids, id)
		}
	}
	if actor.IsAdmin(s.sec) {
		return ids, nil
	}

	// Permission filter: drop ids the caller may not read.
	fullKeys := make([]string, len(ids))
	for i, id := range ids {
		fullKeys[i] = s.ns.ObjectKey(id)
	}
	values, err := s.backend.MGet(ctx, fullKeys)
	if err != nil {
		return nil, mapBackendErr(err, pattern)
	}
	readable := ids[:0]
	for i, raw := range values {
		if raw == nil {
			continue
		}
		obj, err := decodeObject(ids[i], raw)
		if err != nil {
			logger.Error("stored object not parsable", "id", ids[i], "error", err)
			continue
		}
		if acl.CheckObject(obj.ACL, actor, acl.AccessRead, s.sec, s.template.Load()) {
			readable = append(readable, ids[i])
		}
	}
	return readable, nil
}

// GetObjects batch-fetches objects by id. The result is positional:
// slot i belongs to ids[i] and carries either the object or the error
// that hid it from this caller.
func (s *Store) GetObjects(ctx context.Context, ids []string, opts *Options) ([]ObjectResult, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("getObjects", time.Since(started)) }()

	if len(ids) == 0 {
		return nil, nil
	}
	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}

	fullKeys := make([]string, len(ids))
	for i, id := range ids {
		fullKeys[i] = s.ns.ObjectKey(id)
	}
	values, err := s.backend.MGet(ctx, fullKeys)
	if err != nil {
		return nil, s.opErr("getObjects", mapBackendErr(err, ""))
	}

	admin := actor.IsAdmin(s.sec)
	result := make([]ObjectResult, len(ids))
	for i, raw := range values {
		if raw == nil {
			result[i] = ObjectResult{Err: storeerrors.NewNotFound(ids[i])}
			continue
		}
		obj, err := decodeObject(ids[i], raw)
		if err != nil {
			logger.Error("stored object not parsable", "id", ids[i], "error", err)
			result[i] = ObjectResult{Err: err}
			continue
		}
		if !admin && (!rights.Object.Read || !acl.CheckObject(obj.ACL, actor, acl.AccessRead, s.sec, s.template.Load())) {
			result[i] = ObjectResult{Err: storeerrors.NewPermissionDenied(ids[i])}
			continue
		}
		result[i] = ObjectResult{Object: obj}
	}
	return result, nil
}

// GetObjectsByPattern fetches all objects whose id matches a glob
// pattern, readable by the caller.
func (s *Store) GetObjectsByPattern(ctx context.Context, pattern string, opts *Options) ([]*Object, error) {
	ids, err := s.GetKeys(ctx, pattern, opts)
	if err != nil {
		return nil, err
	}
	slots, err := s.GetObjects(ctx, ids, opts)
	if err != nil {
		return nil, err
	}
	result := make([]*Object, 0, len(slots))
	for _, slot := range slots {
		if slot.Object != nil {
			result = append(result, slot.Object)
		}
	}
	return result, nil
}

// FindObject resolves an id or a display name to an object id. An exact
// id hit wins; otherwise all objects are scanned for a matching
// common.name (restricted to typ when non-empty). When nothing matches,
// the input comes back as the id with an empty name.
func (s *Store) FindObject(ctx context.Context, idOrName, typ string, opts *Options) (id, name string, err error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("findObject", time.Since(started)) }()

	obj, err := s.GetObject(ctx, idOrName, opts)
	if err != nil && !storeerrors.IsNotFound(err) {
		return "", "", err
	}
	if obj != nil && (typ == "" || obj.Type == typ) {
		objName, _ := obj.Common["name"].(string)
		return obj.ID, objName, nil
	}

	candidates, err := s.GetObjectsByPattern(ctx, "*", opts)
	if err != nil {
		return "", "", err
	}
	for _, candidate := range candidates {
		if typ != "" && candidate.Type != typ {
			continue
		}
		if objName, _ := candidate.Common["name"].(string); objName == idOrName {
			return candidate.ID, objName, nil
		}
	}
	return idOrName, "", nil
}

// ChownObject re-owns every object matching the pattern, one at a time,
// and returns the modified objects. Owner must be given; an empty
// OwnerGroup is backfilled with the owner's first group.
func (s *Store) ChownObject(ctx context.Context, pattern string, opts *Options) ([]*Object, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("chownObject", time.Since(started)) }()

	if opts == nil || opts.Owner == "" {
		return nil, s.opErr("chownObject", storeerrors.NewInvalidParameter("new owner missing"))
	}
	ownerGroup := opts.OwnerGroup
	if ownerGroup == "" {
		if groups, _, err := s.resolver.Resolve(ctx, opts.Owner); err == nil && len(groups) > 0 {
			ownerGroup = groups[0]
		}
	}

	return s.updateMatching(ctx, "chownObject", pattern, opts, acl.AccessWrite, func(obj *Object) {
		if obj.ACL == nil {
			obj.ACL = &acl.ObjectACL{Object: acl.DefaultObjectPerm}
		}
		obj.ACL.Owner = opts.Owner
		if ownerGroup != "" {
			obj.ACL.OwnerGroup = ownerGroup
		}
	})
}

// ChmodObject applies the permission mask in Options.Mode to every
// object matching the pattern and returns the modified objects.
func (s *Store) ChmodObject(ctx context.Context, pattern string, opts *Options) ([]*Object, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("chmodObject", time.Since(started)) }()

	if opts == nil || !opts.ModeSet {
		return nil, s.opErr("chmodObject", storeerrors.NewInvalidParameter("permission mask missing"))
	}

	return s.updateMatching(ctx, "chmodObject", pattern, opts, acl.AccessWrite, func(obj *Object) {
		if obj.ACL == nil {
			obj.ACL = &acl.ObjectACL{}
		}
		obj.ACL.Object = opts.Mode
	})
}

// updateMatching applies modify to every object matching pattern the
// caller may access, strictly one object at a time. A concurrent writer
// can interleave between the read and the write of one object; the last
// write wins.
func (s *Store) updateMatching(ctx context.Context, op, pattern string, opts *Options, access acl.Access, modify func(*Object)) ([]*Object, error) {
	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}
	admin := actor.IsAdmin(s.sec)
	if !admin && !rights.Object.Write {
		return nil, s.opErr(op, storeerrors.NewPermissionDenied(pattern))
	}

	ids, err := s.getKeys(ctx, pattern, opts)
	if err != nil {
		return nil, s.opErr(op, err)
	}

	var updated []*Object
	for _, id := range ids {
		raw, err := s.backend.Get(ctx, s.ns.ObjectKey(id))
		if err == backend.ErrNotFound {
			continue
		}
		if err != nil {
			return updated, s.opErr(op, mapBackendErr(err, id))
		}
		obj, err := decodeObject(id, raw)
		if err != nil {
			logger.Error("stored object not parsable", "id", id, "error", err)
			continue
		}
		if !admin && !acl.CheckObject(obj.ACL, actor, access, s.sec, s.template.Load()) {
			continue
		}

		modify(obj)
		data, err := obj.MarshalJSON()
		if err != nil {
			return updated, s.opErr(op, storeerrors.NewParse(id, err))
		}
		if err := s.backend.Set(ctx, s.ns.ObjectKey(id), data); err != nil {
			return updated, s.opErr(op, mapBackendErr(err, id))
		}
		s.publish(ctx, id, obj)
		updated = append(updated, obj)
	}
	return updated, nil
}

// applyDefaultACL stamps the current default template onto every object
// that carries no ACL at all. Run after the default-ACL policy changes.
func (s *Store) applyDefaultACL(ctx context.Context) {
	t := s.template.Load()
	if t == nil {
		return
	}
	backendKeys, err := s.backend.Keys(ctx, s.ns.Objects+"*")
	if err != nil {
		logger.Warn("default ACL sweep aborted", "error", err)
		return
	}
	sort.Strings(backendKeys)

	var stamped int
	for _, key := range backendKeys {
		id, ok := s.ns.ObjectID(key)
		if !ok {
			continue
		}
		raw, err := s.backend.Get(ctx, key)
		if err != nil {
			continue
		}
		obj, err := decodeObject(id, raw)
		if err != nil || obj.ACL != nil {
			continue
		}
		s.injectDefaultACL(ctx, obj, nil, acl.Actor{User: s.sec.AdminUser})
		data, err := obj.MarshalJSON()
		if err != nil {
			continue
		}
		if err := s.backend.Set(ctx, key, data); err != nil {
			logger.Warn("default ACL sweep write failed", "id", id, "error", err)
			continue
		}
		stamped++
	}
	if stamped > 0 {
		logger.Info("default ACL applied to objects without rights", "count", stamped)
	}
}

// DestroyDB removes every key in the configured namespace, objects and
// files alike. Administrative callers only.
func (s *Store) DestroyDB(ctx context.Context, opts *Options) error {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("destroyDB", time.Since(started)) }()

	actor, _, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return err
	}
	if !actor.IsAdmin(s.sec) {
		return s.opErr("destroyDB", storeerrors.NewPermissionDenied("destroy"))
	}

	backendKeys, err := s.backend.Keys(ctx, s.ns.Prefix+"*")
	if err != nil {
		return s.opErr("destroyDB", mapBackendErr(err, ""))
	}
	for _, key := range backendKeys {
		if err := s.backend.Del(ctx, key); err != nil {
			return s.opErr("destroyDB", mapBackendErr(err, key))
		}
	}
	return nil
}

// loadForUpdate reads the stored object for a mutating call. Missing is
// not an error; a broken payload is treated as missing after logging so
// a damaged record can be overwritten.
func (s *Store) loadForUpdate(ctx context.Context, id string) (*Object, error) {
	raw, err := s.backend.Get(ctx, s.ns.ObjectKey(id))
	if err == backend.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, mapBackendErr(err, id)
	}
	obj, err := decodeObject(id, raw)
	if err != nil {
		logger.Error("stored object not parsable, treating as absent", "id", id, "error", err)
		return nil, nil
	}
	return obj, nil
}

// checkAlias rejects alias objects that point at other aliases.
func checkAlias(obj *Object) error {
	if obj == nil || obj.Common == nil {
		return nil
	}
	aliasDef, _ := obj.Common["alias"].(map[string]any)
	if aliasDef == nil {
		return nil
	}
	target, _ := aliasDef["id"].(string)
	if strings.HasPrefix(target, "alias.") {
		return storeerrors.NewInvalidParameter("cannot make alias on alias")
	}
	return nil
}

// opErr counts a failed operation by error code.
func (s *Store) opErr(op string, err error) error {
	if err != nil {
		s.metrics.RecordError(op, storeerrors.CodeOf(err).String())
	}
	return err
}
