package syncmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

func deviceInfo(id string, lastSeen time.Time) *model.DeviceInfo {
	return &model.DeviceInfo{
		ID:       id,
		Name:     "Device " + id,
		Platform: "linux",
		LastSeen: lastSeen,
	}
}

func TestRegistryRegisterAndRefresh(t *testing.T) {
	registry := NewRegistry(4, zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, registry.Register(deviceInfo("a", now)))

	got, ok := registry.Get("a")
	require.True(t, ok)
	assert.True(t, got.IsOnline)

	// Re-registering refreshes the entry instead of duplicating it
	updated := deviceInfo("a", now.Add(time.Minute))
	updated.Platform = "darwin"
	require.NoError(t, registry.Register(updated))

	got, ok = registry.Get("a")
	require.True(t, ok)
	assert.Equal(t, "darwin", got.Platform)

	total, online := registry.Counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, online)
}

func TestRegistryEvictsLeastRecentlySeenOffline(t *testing.T) {
	registry := NewRegistry(2, zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, registry.Register(deviceInfo("old", now.Add(-time.Hour))))
	require.NoError(t, registry.Register(deviceInfo("recent", now)))
	registry.MarkOffline("old")
	registry.MarkOffline("recent")

	require.NoError(t, registry.Register(deviceInfo("new", now)))

	_, ok := registry.Get("old")
	assert.False(t, ok, "least recently seen offline device should be evicted")
	_, ok = registry.Get("recent")
	assert.True(t, ok)
	_, ok = registry.Get("new")
	assert.True(t, ok)
}

func TestRegistryRefusesWhenAllOnline(t *testing.T) {
	registry := NewRegistry(2, zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, registry.Register(deviceInfo("a", now)))
	require.NoError(t, registry.Register(deviceInfo("b", now)))

	err := registry.Register(deviceInfo("c", now))
	require.Error(t, err)
	assert.Equal(t, syncerr.ErrCodeUnavailable, syncerr.GetCode(err))
}

func TestRegistryTouch(t *testing.T) {
	registry := NewRegistry(4, zap.NewNop())
	now := time.Now().UTC()

	assert.False(t, registry.Touch("ghost", now), "unknown device must not be created by Touch")

	require.NoError(t, registry.Register(deviceInfo("a", now)))
	registry.MarkOffline("a")

	assert.True(t, registry.Touch("a", now.Add(time.Second)))
	got, _ := registry.Get("a")
	assert.True(t, got.IsOnline)

	// A delayed heartbeat must not move LastSeen backwards
	registry.Touch("a", now.Add(-time.Minute))
	got, _ = registry.Get("a")
	assert.Equal(t, now.Add(time.Second), got.LastSeen)
}

func TestRegistrySweepOfflineIsIdempotent(t *testing.T) {
	registry := NewRegistry(4, zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, registry.Register(deviceInfo("stale", now.Add(-time.Hour))))
	require.NoError(t, registry.Register(deviceInfo("fresh", now)))

	cutoff := now.Add(-time.Minute)
	assert.Equal(t, []string{"stale"}, registry.SweepOffline(cutoff))
	assert.Empty(t, registry.SweepOffline(cutoff), "second sweep must not report the same device again")

	_, online := registry.Counts()
	assert.Equal(t, 1, online)
}

func TestRegistrySnapshotIsSortedCopy(t *testing.T) {
	registry := NewRegistry(4, zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, registry.Register(deviceInfo("b", now)))
	require.NoError(t, registry.Register(deviceInfo("a", now)))

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "a", snapshot[0].ID)
	assert.Equal(t, "b", snapshot[1].ID)

	// Mutating the snapshot must not leak back into the registry
	snapshot[0].Platform = "mutated"
	got, _ := registry.Get("a")
	assert.NotEqual(t, "mutated", got.Platform)
}
