package objects

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottohome/objectdb/pkg/acl"
	storeerrors "github.com/ottohome/objectdb/pkg/objects/errors"
)

func TestSetGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	err := s.SetObject(ctx, "system.adapter.web.0", &Object{
		Type:   "instance",
		Common: map[string]any{"name": "web", "enabled": true},
		Native: map[string]any{"port": float64(8082)},
	}, nil)
	require.NoError(t, err)

	obj, err := s.GetObject(ctx, "system.adapter.web.0", nil)
	require.NoError(t, err)
	assert.Equal(t, "system.adapter.web.0", obj.ID)
	assert.Equal(t, "instance", obj.Type)
	assert.Equal(t, "web", obj.Common["name"])
	assert.Equal(t, float64(8082), obj.Native["port"])
}

func TestGetObjectMissing(t *testing.T) {
	s, _ := newTestStore(t, Config{})

	_, err := s.GetObject(context.Background(), "no.such.object", nil)
	assert.True(t, storeerrors.IsNotFound(err))
}

func TestSetObjectRejectsInvalidID(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	err := s.SetObject(ctx, "bad*id", &Object{Type: "state"}, nil)
	require.Error(t, err)
	assert.Equal(t, storeerrors.ErrInvalidID, storeerrors.CodeOf(err))

	err = s.SetObject(ctx, "", &Object{Type: "state"}, nil)
	require.Error(t, err)
}

func TestSetObjectRejectsAliasOnAlias(t *testing.T) {
	s, _ := newTestStore(t, Config{})

	err := s.SetObject(context.Background(), "alias.0.light", &Object{
		Type:   "state",
		Common: map[string]any{"alias": map[string]any{"id": "alias.0.other"}},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, storeerrors.ErrInvalidParameter, storeerrors.CodeOf(err))
}

func TestDefaultACLInjection(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "test.plain", &Object{Type: "channel"}, nil))
	obj, err := s.GetObject(ctx, "test.plain", nil)
	require.NoError(t, err)
	require.NotNil(t, obj.ACL)
	assert.Equal(t, "system.user.admin", obj.ACL.Owner)
	assert.Equal(t, "system.group.administrator", obj.ACL.OwnerGroup)
	assert.Equal(t, uint16(0x644), obj.ACL.Object)
	assert.Zero(t, obj.ACL.State)

	// The state permission is stamped on state objects only.
	require.NoError(t, s.SetObject(ctx, "test.state", &Object{Type: "state"}, nil))
	obj, err = s.GetObject(ctx, "test.state", nil)
	require.NoError(t, err)
	require.NotNil(t, obj.ACL)
	assert.Equal(t, uint16(0x644), obj.ACL.State)

	// An explicit ACL is left alone.
	explicit := &acl.ObjectACL{Owner: "system.user.alice", Object: 0x600}
	require.NoError(t, s.SetObject(ctx, "test.explicit", &Object{Type: "channel", ACL: explicit}, nil))
	obj, err = s.GetObject(ctx, "test.explicit", nil)
	require.NoError(t, err)
	assert.Equal(t, "system.user.alice", obj.ACL.Owner)
	assert.Equal(t, uint16(0x600), obj.ACL.Object)
}

func TestStickySettingsCarryForward(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "test.sticky", &Object{
		Type: "state",
		Common: map[string]any{
			"name":   "original",
			"custom": map[string]any{"history.0": map[string]any{"enabled": true}},
		},
	}, nil))

	// A plain overwrite keeps the user settings.
	require.NoError(t, s.SetObject(ctx, "test.sticky", &Object{
		Type:   "state",
		Common: map[string]any{"name": "rewritten"},
	}, nil))
	obj, err := s.GetObject(ctx, "test.sticky", nil)
	require.NoError(t, err)
	assert.Equal(t, "rewritten", obj.Common["name"])
	require.Contains(t, obj.Common, "custom")

	// An explicit null removes them.
	require.NoError(t, s.SetObject(ctx, "test.sticky", &Object{
		Type:   "state",
		Common: map[string]any{"name": "cleared", "custom": nil},
	}, nil))
	obj, err = s.GetObject(ctx, "test.sticky", nil)
	require.NoError(t, err)
	assert.NotContains(t, obj.Common, "custom")
}

func TestExtendObjectDeepMerge(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "test.merge", &Object{
		Type:   "state",
		Common: map[string]any{"name": "lamp", "role": "switch"},
		Native: map[string]any{"addr": float64(7), "stale": true},
	}, nil))

	merged, err := s.ExtendObject(ctx, "test.merge", &Object{
		Common: map[string]any{"role": "light.switch"},
		Native: map[string]any{"stale": nil, "extra": "x"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "lamp", merged.Common["name"])
	assert.Equal(t, "light.switch", merged.Common["role"])
	assert.Equal(t, float64(7), merged.Native["addr"])
	assert.Equal(t, "x", merged.Native["extra"])
	assert.NotContains(t, merged.Native, "stale")

	// The stored value matches what was returned.
	obj, err := s.GetObject(ctx, "test.merge", nil)
	require.NoError(t, err)
	assert.Equal(t, merged.Common, obj.Common)
	assert.Equal(t, merged.Native, obj.Native)
}

func TestExtendObjectCreatesWhenMissing(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	merged, err := s.ExtendObject(ctx, "test.fresh", &Object{
		Type:   "state",
		Common: map[string]any{"name": "fresh"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test.fresh", merged.ID)
	require.NotNil(t, merged.ACL)
}

func TestDelObjectMissingReportsNotFound(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "test.gone", &Object{Type: "state"}, nil))
	require.NoError(t, s.DelObject(ctx, "test.gone", nil))

	_, err := s.GetObject(ctx, "test.gone", nil)
	assert.True(t, storeerrors.IsNotFound(err))

	// The second delete has nothing left to remove.
	err = s.DelObject(ctx, "test.gone", nil)
	assert.True(t, storeerrors.IsNotFound(err))

	err = s.DelObject(ctx, "never.existed", nil)
	assert.True(t, storeerrors.IsNotFound(err))
}

func TestObjectExists(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	ok, err := s.ObjectExists(ctx, "test.exists")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetObject(ctx, "test.exists", &Object{Type: "state"}, nil))
	ok, err = s.ObjectExists(ctx, "test.exists")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNonAdminWriteDenied(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	addGroup(t, s, "system.group.users", "system.user.bob")

	// Stamped with the 0x644 default: everyone reads, only the owner writes.
	require.NoError(t, s.SetObject(ctx, "test.guarded", &Object{
		Type:   "state",
		Common: map[string]any{"name": "guarded"},
	}, nil))

	obj, err := s.GetObject(ctx, "test.guarded", WithUser("system.user.bob"))
	require.NoError(t, err)
	assert.Equal(t, "guarded", obj.Common["name"])

	err = s.SetObject(ctx, "test.guarded", &Object{Type: "state"}, WithUser("system.user.bob"))
	assert.True(t, storeerrors.IsPermissionDenied(err))

	err = s.DelObject(ctx, "test.guarded", WithUser("system.user.bob"))
	assert.True(t, storeerrors.IsPermissionDenied(err))
}

func TestGetKeysSortedAndFiltered(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	addGroup(t, s, "system.group.users", "system.user.bob")

	require.NoError(t, s.SetObject(ctx, "test.b", &Object{Type: "state"}, nil))
	require.NoError(t, s.SetObject(ctx, "test.a", &Object{Type: "state"}, nil))
	require.NoError(t, s.SetObject(ctx, "test.secret", &Object{
		Type: "state",
		ACL:  &acl.ObjectACL{Owner: "system.user.admin", Object: 0x600},
	}, nil))

	ids, err := s.GetKeys(ctx, "test.*", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"test.a", "test.b", "test.secret"}, ids)
	assert.True(t, sort.StringsAreSorted(ids))

	// Unreadable objects do not contribute their id for a plain user.
	ids, err = s.GetKeys(ctx, "test.*", WithUser("system.user.bob"))
	require.NoError(t, err)
	assert.Equal(t, []string{"test.a", "test.b"}, ids)
}

func TestGetObjectsPositionalErrors(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	addGroup(t, s, "system.group.users", "system.user.bob")

	require.NoError(t, s.SetObject(ctx, "test.open", &Object{Type: "state"}, nil))
	require.NoError(t, s.SetObject(ctx, "test.closed", &Object{
		Type: "state",
		ACL:  &acl.ObjectACL{Owner: "system.user.admin", Object: 0x600},
	}, nil))

	slots, err := s.GetObjects(ctx, []string{"test.open", "test.missing", "test.closed"}, WithUser("system.user.bob"))
	require.NoError(t, err)
	require.Len(t, slots, 3)

	require.NotNil(t, slots[0].Object)
	assert.Equal(t, "test.open", slots[0].Object.ID)
	assert.NoError(t, slots[0].Err)

	assert.Nil(t, slots[1].Object)
	assert.True(t, storeerrors.IsNotFound(slots[1].Err))

	assert.Nil(t, slots[2].Object)
	assert.True(t, storeerrors.IsPermissionDenied(slots[2].Err))
}

func TestFindObject(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "hm-rpc.0.lamp", &Object{
		Type:   "state",
		Common: map[string]any{"name": "Living room lamp"},
	}, nil))

	// An exact id hit wins.
	id, name, err := s.FindObject(ctx, "hm-rpc.0.lamp", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "hm-rpc.0.lamp", id)
	assert.Equal(t, "Living room lamp", name)

	// Otherwise the display name is resolved.
	id, name, err = s.FindObject(ctx, "Living room lamp", "state", nil)
	require.NoError(t, err)
	assert.Equal(t, "hm-rpc.0.lamp", id)
	assert.Equal(t, "Living room lamp", name)

	// An unknown name comes back as the id.
	id, name, err = s.FindObject(ctx, "does.not.exist", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "does.not.exist", id)
	assert.Empty(t, name)
}

func TestChownObject(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	addGroup(t, s, "system.group.users", "system.user.alice")

	require.NoError(t, s.SetObject(ctx, "test.owned", &Object{Type: "state"}, nil))

	_, err := s.ChownObject(ctx, "test.owned", nil)
	require.Error(t, err)

	updated, err := s.ChownObject(ctx, "test.owned", &Options{Owner: "system.user.alice"})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "system.user.alice", updated[0].ACL.Owner)
	// The group is backfilled from the new owner's directory entry.
	assert.Equal(t, "system.group.users", updated[0].ACL.OwnerGroup)
}

func TestChmodObject(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "test.mode", &Object{Type: "state"}, nil))

	_, err := s.ChmodObject(ctx, "test.mode", &Options{Mode: 0x600})
	require.Error(t, err)

	updated, err := s.ChmodObject(ctx, "test.mode", &Options{Mode: 0x600, ModeSet: true})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, uint16(0x600), updated[0].ACL.Object)
}

func TestDestroyDBAdminOnly(t *testing.T) {
	s, b := newTestStore(t, Config{})
	ctx := context.Background()

	addGroup(t, s, "system.group.users", "system.user.bob")
	require.NoError(t, s.SetObject(ctx, "test.wipe", &Object{Type: "state"}, nil))
	require.NoError(t, s.WriteFile(ctx, "vis.0", "main/file.txt", []byte("x"), nil))

	err := s.DestroyDB(ctx, WithUser("system.user.bob"))
	assert.True(t, storeerrors.IsPermissionDenied(err))

	require.NoError(t, s.DestroyDB(ctx, nil))
	remaining, err := b.Keys(ctx, "cfg.*")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
