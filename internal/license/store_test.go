package license

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "license-state.json"), nil)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	state := &CachedState{
		LastChecked: time.Date(2026, 5, 10, 8, 30, 0, 0, time.UTC),
		License: &Record{
			Status:            StatusActive,
			CreatedAt:         time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
			Name:              "Acme Corp",
			PeriodEnd:         time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
			CancelAtPeriodEnd: true,
			LicenseKey:        "KEY-ROUNDTRIP",
			Flags:             map[string]bool{"billing": true, "sso": false},
		},
		RequestedLicenseKey:   "KEY-ROUNDTRIP",
		UnauthorizedFlagUsage: false,
		DerivedStatus:         StatusActive,
	}

	require.NoError(t, store.Save(ctx, state))

	loaded, ok := store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, state, loaded)
}

func TestStoreLoadAbsent(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		store := newTestStore(t)
		state, ok := store.Load(ctx)
		assert.False(t, ok)
		assert.Nil(t, state)
	})

	t.Run("corrupt JSON", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0600))

		state, ok := store.Load(ctx)
		assert.False(t, ok)
		assert.Nil(t, state)
	})

	t.Run("schema invalid record", func(t *testing.T) {
		store := newTestStore(t)
		// Missing last_checked and derived_status.
		require.NoError(t, os.WriteFile(store.Path(), []byte(`{"unauthorized_flag_usage":false}`), 0600))

		state, ok := store.Load(ctx)
		assert.False(t, ok)
		assert.Nil(t, state)
	})

	t.Run("empty file", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, os.WriteFile(store.Path(), nil, 0600))

		state, ok := store.Load(ctx)
		assert.False(t, ok)
		assert.Nil(t, state)
	})
}

func TestStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := NewCachedState(&Record{Status: StatusActive}, "KEY-1", false, time.Now().UTC().Truncate(time.Second))
	require.NoError(t, store.Save(ctx, first))

	second := NewCachedState(&Record{Status: StatusExpired}, "KEY-1", false, time.Now().UTC().Truncate(time.Second))
	require.NoError(t, store.Save(ctx, second))

	loaded, ok := store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, loaded.DerivedStatus)
}

func TestStoreSaveFailureReturnsError(t *testing.T) {
	ctx := context.Background()
	store := NewStore(filepath.Join(t.TempDir(), "missing-dir", "license-state.json"), nil)

	state := NewCachedState(nil, "", false, time.Now())
	err := store.Save(ctx, state)
	assert.Error(t, err)
}

func TestStoreFilePermissions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, NewCachedState(nil, "", false, time.Now())))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStoreFileIsHumanReadable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, NewCachedState(&Record{Status: StatusActive}, "KEY-9", false, time.Now())))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"derived_status\": \"active\"")
}
