package syncmgr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/clock"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

func concurrentConflict() *model.DeviceConflict {
	localClock := clock.New()
	localClock.Increment("phone")
	remoteClock := clock.New()
	remoteClock.Increment("laptop")

	return DetectConflict("note-1", "note", "phone", "laptop",
		localClock, remoteClock,
		map[string]interface{}{"title": "from phone"},
		map[string]interface{}{"title": "from laptop"})
}

func TestDetectConflictOnlyWhenConcurrent(t *testing.T) {
	ancestor := clock.New()
	ancestor.Increment("phone")

	descendant := ancestor.Copy()
	descendant.Increment("laptop")

	// Remote causally follows local: an ordinary update, not a conflict
	assert.Nil(t, DetectConflict("note-1", "note", "phone", "laptop",
		ancestor, descendant, nil, nil))
	assert.Nil(t, DetectConflict("note-1", "note", "phone", "laptop",
		descendant, ancestor, nil, nil))
	assert.Nil(t, DetectConflict("note-1", "note", "phone", "laptop",
		ancestor, ancestor.Copy(), nil, nil))

	conflict := concurrentConflict()
	require.NotNil(t, conflict)
	assert.Equal(t, "note-1", conflict.EntityID)
	assert.Equal(t, "phone", conflict.LocalDeviceID)
	assert.Equal(t, "laptop", conflict.RemoteDeviceID)
}

func TestDetectConflictCopiesClocks(t *testing.T) {
	localClock := clock.New()
	localClock.Increment("phone")
	remoteClock := clock.New()
	remoteClock.Increment("laptop")

	conflict := DetectConflict("note-1", "note", "phone", "laptop",
		localClock, remoteClock, nil, nil)
	require.NotNil(t, conflict)

	localClock.Increment("phone")
	assert.Equal(t, uint64(1), conflict.LocalVectorClock.Timestamp("phone"))
}

func TestResolveConflictCausalOrderWins(t *testing.T) {
	older := clock.New()
	older.Increment("phone")
	newer := older.Copy()
	newer.Increment("laptop")

	// Force a conflict struct with causally ordered clocks to exercise the
	// causal branch of the resolver directly
	conflict := &model.DeviceConflict{
		EntityID:          "note-1",
		LocalDeviceID:     "phone",
		RemoteDeviceID:    "laptop",
		LocalVectorClock:  older,
		RemoteVectorClock: newer,
		LocalData:         map[string]interface{}{"title": "old"},
		RemoteData:        map[string]interface{}{"title": "new"},
	}

	lww, err := ResolveConflict(conflict, model.ResolveLastWriteWins)
	require.NoError(t, err)
	assert.Equal(t, "laptop", lww.WinningDeviceID)
	assert.Equal(t, "new", lww.Data["title"])

	fww, err := ResolveConflict(conflict, model.ResolveFirstWriteWins)
	require.NoError(t, err)
	assert.Equal(t, "phone", fww.WinningDeviceID)
	assert.Equal(t, "old", fww.Data["title"])
}

func TestResolveConflictConcurrentTiebreakIsDeterministic(t *testing.T) {
	conflict := concurrentConflict()

	// Concurrent clocks fall back to device ID order: larger wins LWW
	lww, err := ResolveConflict(conflict, model.ResolveLastWriteWins)
	require.NoError(t, err)
	assert.Equal(t, "phone", lww.WinningDeviceID)
	assert.Equal(t, "from phone", lww.Data["title"])

	fww, err := ResolveConflict(conflict, model.ResolveFirstWriteWins)
	require.NoError(t, err)
	assert.Equal(t, "laptop", fww.WinningDeviceID)

	// The same conflict seen from the other replica picks the same winner
	mirrored := concurrentConflict()
	mirrored.LocalDeviceID, mirrored.RemoteDeviceID = mirrored.RemoteDeviceID, mirrored.LocalDeviceID
	mirrored.LocalVectorClock, mirrored.RemoteVectorClock = mirrored.RemoteVectorClock, mirrored.LocalVectorClock
	mirrored.LocalData, mirrored.RemoteData = mirrored.RemoteData, mirrored.LocalData

	lwwMirrored, err := ResolveConflict(mirrored, model.ResolveLastWriteWins)
	require.NoError(t, err)
	assert.Equal(t, lww.WinningDeviceID, lwwMirrored.WinningDeviceID)
}

func TestResolveConflictManualStrategies(t *testing.T) {
	conflict := concurrentConflict()

	for _, strategy := range []model.ResolutionStrategy{
		model.ResolveMerge, model.ResolveAskUser, model.ResolveDevicePriority,
	} {
		resolution, err := ResolveConflict(conflict, strategy)
		assert.Nil(t, resolution)
		assert.True(t, errors.Is(err, syncerr.ErrManualResolutionRequired),
			"strategy %s must surface manual resolution", strategy)
	}
}

func TestResolveConflictInvalidInput(t *testing.T) {
	_, err := ResolveConflict(nil, model.ResolveLastWriteWins)
	assert.Equal(t, syncerr.ErrCodeInvalidArgument, syncerr.GetCode(err))

	_, err = ResolveConflict(concurrentConflict(), model.ResolutionStrategy("coin_flip"))
	assert.Equal(t, syncerr.ErrCodeInvalidArgument, syncerr.GetCode(err))
}
