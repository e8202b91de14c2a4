package objects

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeerrors "github.com/ottohome/objectdb/pkg/objects/errors"
)

func TestFirstWriteSealsPassword(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "test.protected", &Object{
		Type:    "state",
		Common:  map[string]any{"name": "locked"},
		NonEdit: map[string]any{"password": "secret", "common": map[string]any{"name": "locked"}},
	}, nil))

	obj, err := s.GetObject(ctx, "test.protected", nil)
	require.NoError(t, err)
	require.NotNil(t, obj.NonEdit)

	hash, _ := obj.NonEdit["passHash"].(string)
	assert.True(t, strings.HasPrefix(hash, "pbkdf2$"))
	assert.NotContains(t, obj.NonEdit, "password")
	assert.True(t, verifyProtectPassword("secret", hash))
}

func TestUpdateWithoutPasswordRestoresProtected(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "test.protected", &Object{
		Type:    "state",
		Common:  map[string]any{"name": "locked"},
		NonEdit: map[string]any{"password": "secret", "common": map[string]any{"name": "locked"}},
	}, nil))

	// The overwrite succeeds, but the protected attribute snaps back.
	require.NoError(t, s.SetObject(ctx, "test.protected", &Object{
		Type:   "state",
		Common: map[string]any{"name": "tampered"},
	}, nil))

	obj, err := s.GetObject(ctx, "test.protected", nil)
	require.NoError(t, err)
	assert.Equal(t, "locked", obj.Common["name"])
	require.NotNil(t, obj.NonEdit)
	assert.Contains(t, obj.NonEdit, "passHash")
}

func TestUpdateWithWrongPasswordRejected(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "test.protected", &Object{
		Type:    "state",
		Common:  map[string]any{"name": "locked"},
		NonEdit: map[string]any{"password": "secret", "common": map[string]any{"name": "locked"}},
	}, nil))

	err := s.SetObject(ctx, "test.protected", &Object{
		Type:    "state",
		Common:  map[string]any{"name": "tampered"},
		NonEdit: map[string]any{"password": "wrong", "common": map[string]any{"name": "tampered"}},
	}, nil)
	assert.True(t, storeerrors.IsProtectedField(err))

	obj, err := s.GetObject(ctx, "test.protected", nil)
	require.NoError(t, err)
	assert.Equal(t, "locked", obj.Common["name"])
}

func TestUpdateWithCorrectPasswordReplacesBlock(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "test.protected", &Object{
		Type:    "state",
		Common:  map[string]any{"name": "locked"},
		NonEdit: map[string]any{"password": "secret", "common": map[string]any{"name": "locked"}},
	}, nil))
	before, err := s.GetObject(ctx, "test.protected", nil)
	require.NoError(t, err)
	oldHash, _ := before.NonEdit["passHash"].(string)

	require.NoError(t, s.SetObject(ctx, "test.protected", &Object{
		Type:    "state",
		Common:  map[string]any{"name": "whatever"},
		NonEdit: map[string]any{"password": "secret", "common": map[string]any{"name": "renamed"}},
	}, nil))

	obj, err := s.GetObject(ctx, "test.protected", nil)
	require.NoError(t, err)
	assert.Equal(t, "renamed", obj.Common["name"])

	newHash, _ := obj.NonEdit["passHash"].(string)
	require.NotEmpty(t, newHash)
	// Rehashed with a fresh salt, but still verifying the same password.
	assert.NotEqual(t, oldHash, newHash)
	assert.True(t, verifyProtectPassword("secret", newHash))
	assert.NotContains(t, obj.NonEdit, "password")
}

func TestVerifyProtectPassword(t *testing.T) {
	hash := hashProtectPassword("hunter2")
	assert.True(t, verifyProtectPassword("hunter2", hash))
	assert.False(t, verifyProtectPassword("hunter3", hash))
	assert.False(t, verifyProtectPassword("hunter2", "pbkdf2$broken"))

	// Hashes written by older releases are unsalted sha256 in base64.
	sum := sha256.Sum256([]byte("hunter2"))
	legacy := base64.StdEncoding.EncodeToString(sum[:])
	assert.True(t, verifyProtectPassword("hunter2", legacy))
	assert.False(t, verifyProtectPassword("hunter3", legacy))
}

func TestCheckNonEditableMarkers(t *testing.T) {
	old := map[string]any{
		"common":  map[string]any{"name": "original", "obsolete": true},
		"nonEdit": map[string]any{"common": map[string]any{"name": "__no_change__", "obsolete": "__delete__"}},
	}
	incoming := map[string]any{
		"common": map[string]any{"name": "changed", "obsolete": true},
	}

	require.NoError(t, checkNonEditable("test.markers", old, incoming))

	common := incoming["common"].(map[string]any)
	assert.Equal(t, "original", common["name"])
	assert.NotContains(t, common, "obsolete")
	assert.NotContains(t, incoming, "passHash")
}
