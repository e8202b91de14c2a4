package objects

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeerrors "github.com/ottohome/objectdb/pkg/objects/errors"
)

func seedViewObjects(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "hm-rpc.0.lamp", &Object{
		Type:   "state",
		Common: map[string]any{"name": "Lamp"},
	}, nil))
	require.NoError(t, s.SetObject(ctx, "hm-rpc.0.dimmer", &Object{
		Type:   "state",
		Common: map[string]any{"name": "Dimmer", "custom": map[string]any{"history.0": map[string]any{"enabled": true}}},
	}, nil))
	require.NoError(t, s.SetObject(ctx, "hm-rpc.0.device", &Object{
		Type:   "device",
		Common: map[string]any{"name": "Device"},
	}, nil))
	require.NoError(t, s.SetObject(ctx, "javascript.0.script.test", &Object{
		Type:   "script",
		Common: map[string]any{"name": "test", "engineType": "Javascript/js"},
	}, nil))
}

func rowIDs(result *ViewResult) []string {
	ids := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		ids = append(ids, row.ID)
	}
	return ids
}

func TestGetObjectViewLegacyMapSource(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()
	seedViewObjects(t, s)

	require.NoError(t, s.SetObject(ctx, "_design/system", &Object{
		Extra: map[string]any{
			"views": map[string]any{
				"state": map[string]any{
					"map": "function (doc) { if (doc.type === 'state') emit(doc._id, doc) }",
				},
			},
		},
	}, nil))

	result, err := s.GetObjectView(ctx, "system", "state", ViewParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hm-rpc.0.dimmer", "hm-rpc.0.lamp"}, rowIDs(result))

	obj, ok := result.Rows[0].Value.(*Object)
	require.True(t, ok)
	assert.Equal(t, "state", obj.Type)
}

func TestGetObjectViewEmitName(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()
	seedViewObjects(t, s)

	require.NoError(t, s.SetObject(ctx, "_design/system", &Object{
		Extra: map[string]any{
			"views": map[string]any{
				"devices": map[string]any{
					"map": "function (doc) { if (doc.type === 'device') emit(doc.common.name, doc) }",
				},
			},
		},
	}, nil))

	result, err := s.GetObjectView(ctx, "system", "devices", ViewParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Device"}, rowIDs(result))
}

func TestGetObjectViewRange(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()
	seedViewObjects(t, s)

	require.NoError(t, s.SetObject(ctx, "_design/system", &Object{
		Extra: map[string]any{
			"views": map[string]any{
				"state": map[string]any{
					"map": "function (doc) { if (doc.type === 'state') emit(doc._id, doc) }",
				},
			},
		},
	}, nil))

	result, err := s.GetObjectView(ctx, "system", "state", ViewParams{
		StartKey: "hm-rpc.0.l",
		EndKey:   "hm-rpc.0.z",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hm-rpc.0.lamp"}, rowIDs(result))
}

func TestGetObjectViewMissing(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	_, err := s.GetObjectView(ctx, "nowhere", "state", ViewParams{}, nil)
	assert.True(t, storeerrors.IsNotFound(err))

	require.NoError(t, s.SetObject(ctx, "_design/system", &Object{
		Extra: map[string]any{"views": map[string]any{}},
	}, nil))
	_, err = s.GetObjectView(ctx, "system", "state", ViewParams{}, nil)
	assert.True(t, storeerrors.IsNotFound(err))
}

func TestGetObjectViewUnsupportedMap(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "_design/custom", &Object{
		Extra: map[string]any{
			"views": map[string]any{
				"weird": map[string]any{
					"map": "function (doc) { emit(doc._id, doc.native.value * 2) }",
				},
			},
		},
	}, nil))

	_, err := s.GetObjectView(ctx, "custom", "weird", ViewParams{}, nil)
	require.Error(t, err)
	assert.Equal(t, storeerrors.ErrUnsupportedView, storeerrors.CodeOf(err))
}

func TestApplyViewDeclarative(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()
	seedViewObjects(t, s)

	result, err := s.ApplyView(ctx, map[string]any{
		"match": map[string]any{"type": "script"},
	}, ViewParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"javascript.0.script.test"}, rowIDs(result))

	// The engineType predicate finds the same object.
	result, err = s.ApplyView(ctx, map[string]any{
		"match": map[string]any{"engineType": true},
	}, ViewParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"javascript.0.script.test"}, rowIDs(result))
}

func TestApplyViewCustom(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()
	seedViewObjects(t, s)

	result, err := s.ApplyView(ctx, map[string]any{
		"match": map[string]any{"custom": true},
	}, ViewParams{}, nil)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "hm-rpc.0.dimmer", result.Rows[0].ID)

	// Custom views emit the custom settings, not the whole object.
	value, ok := result.Rows[0].Value.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, value, "history.0")
}

func TestApplyViewStatsReduce(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()
	seedViewObjects(t, s)

	// Object rows carry no numeric values, so the aggregate is empty.
	result, err := s.ApplyView(ctx, map[string]any{
		"match":  map[string]any{"type": "state"},
		"reduce": "_stats",
	}, ViewParams{}, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Rows)
}

func TestReduceRowsMax(t *testing.T) {
	spec := &MapSpec{Kind: kindTypeEquals, Type: "state", Reduce: reduceStats}
	result := reduceRows(spec, []ViewRow{
		{ID: "a", Value: float64(3)},
		{ID: "b", Value: float64(11)},
		{ID: "c", Value: float64(7)},
	})
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "_stats", result.Rows[0].ID)
	assert.Equal(t, map[string]any{"max": float64(11)}, result.Rows[0].Value)
}

func TestGetObjectList(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()
	seedViewObjects(t, s)

	require.NoError(t, s.SetObject(ctx, "_design/system", &Object{
		Extra: map[string]any{"views": map[string]any{}},
	}, nil))

	result, err := s.GetObjectList(ctx, ViewParams{StartKey: "hm-rpc.", EndKey: "hm-rpc.香"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hm-rpc.0.device", "hm-rpc.0.dimmer", "hm-rpc.0.lamp"}, rowIDs(result))
	require.NotNil(t, result.Rows[0].Doc)
	assert.Equal(t, "device", result.Rows[0].Doc.Type)

	// Internal records stay hidden unless explicitly requested.
	result, err = s.GetObjectList(ctx, ViewParams{}, nil)
	require.NoError(t, err)
	assert.NotContains(t, rowIDs(result), "_design/system")

	result, err = s.GetObjectList(ctx, ViewParams{IncludeDocs: true}, nil)
	require.NoError(t, err)
	assert.Contains(t, rowIDs(result), "_design/system")
}
