package objects

import (
	"context"
	"sort"

	"github.com/ottohome/objectdb/internal/logger"
	"github.com/ottohome/objectdb/pkg/acl"
)

// groupPrefix is the id prefix of the group directory objects.
const groupPrefix = "system.group."

// groupDirectory resolves users to their group memberships and the
// operation rights those groups grant, by scanning the system.group.*
// objects.
type groupDirectory struct {
	store *Store
}

func (d *groupDirectory) Resolve(ctx context.Context, user string) ([]string, acl.OperationRights, error) {
	pattern := d.store.ns.ObjectKey(groupPrefix) + "*"
	keys, err := d.store.backend.Keys(ctx, pattern)
	if err != nil {
		return nil, acl.OperationRights{}, err
	}
	sort.Strings(keys)

	values, err := d.store.backend.MGet(ctx, keys)
	if err != nil {
		return nil, acl.OperationRights{}, err
	}

	var groups []string
	var rights acl.OperationRights
	for i, raw := range values {
		if raw == nil {
			continue
		}
		id, _ := d.store.ns.ObjectID(keys[i])
		obj, err := decodeObject(id, raw)
		if err != nil {
			logger.Warn("skipping unparsable group object", "id", id, "error", err)
			continue
		}
		if !groupHasMember(obj, user) {
			continue
		}
		groups = append(groups, obj.ID)
		mergeGroupRights(&rights, obj)
	}
	return groups, rights, nil
}

func groupHasMember(group *Object, user string) bool {
	members, _ := group.Common["members"].([]any)
	for _, m := range members {
		if s, ok := m.(string); ok && s == user {
			return true
		}
	}
	return false
}

// mergeGroupRights ors the group's granted operation rights into the
// aggregate. The grants live under common.acl.{object,file}.
func mergeGroupRights(rights *acl.OperationRights, group *Object) {
	grants, _ := group.Common["acl"].(map[string]any)
	if grants == nil {
		return
	}
	mergeAccessRights(&rights.Object, grants["object"])
	mergeAccessRights(&rights.File, grants["file"])
}

func mergeAccessRights(dst *acl.AccessRights, v any) {
	m, _ := v.(map[string]any)
	if m == nil {
		return
	}
	dst.Read = dst.Read || boolField(m, "read")
	dst.Write = dst.Write || boolField(m, "write")
	dst.Delete = dst.Delete || boolField(m, "delete")
	dst.List = dst.List || boolField(m, "list")
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
