package syncmgr

import (
	"time"

	"github.com/driftsync/driftsync/internal/clock"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

// DetectConflict compares the causal histories of a local and a remote copy
// of the same entity. A conflict exists iff the two vector clocks are
// concurrent: genuinely simultaneous, uncoordinated edits. A remote that
// causally follows local is an ordinary update and yields nil.
func DetectConflict(entityID, entityType, localDeviceID, remoteDeviceID string,
	localClock, remoteClock *clock.VectorClock,
	localData, remoteData map[string]interface{}) *model.DeviceConflict {

	if !localClock.IsConcurrent(remoteClock) {
		return nil
	}
	return &model.DeviceConflict{
		EntityID:          entityID,
		EntityType:        entityType,
		LocalDeviceID:     localDeviceID,
		RemoteDeviceID:    remoteDeviceID,
		LocalVectorClock:  localClock.Copy(),
		RemoteVectorClock: remoteClock.Copy(),
		LocalData:         localData,
		RemoteData:        remoteData,
		Timestamp:         time.Now().UTC(),
	}
}

// ResolveConflict produces one winning value from a detected conflict.
//
// LastWriteWins and FirstWriteWins use causal ordering first. When the
// clocks are truly concurrent there is no causal answer, so the tie is
// broken by device ID lexicographic order: the larger ID wins for
// last-write-wins, the smaller for first-write-wins. That tiebreak is
// arbitrary but deterministic, so every replica picks the same winner.
//
// Merge, AskUser, and DevicePriority cannot be decided here: they return
// ErrManualResolutionRequired, which is a valid terminal state requiring
// external input, not a failure.
func ResolveConflict(conflict *model.DeviceConflict, strategy model.ResolutionStrategy) (*model.Resolution, error) {
	if conflict == nil {
		return nil, syncerr.InvalidArgument("conflict is required", nil)
	}

	switch strategy {
	case model.ResolveLastWriteWins:
		return pickWinner(conflict, strategy, true), nil
	case model.ResolveFirstWriteWins:
		return pickWinner(conflict, strategy, false), nil
	case model.ResolveMerge, model.ResolveAskUser, model.ResolveDevicePriority:
		return nil, syncerr.ErrManualResolutionRequired
	default:
		return nil, syncerr.InvalidArgument("unknown resolution strategy: "+string(strategy), nil)
	}
}

func pickWinner(conflict *model.DeviceConflict, strategy model.ResolutionStrategy, preferLater bool) *model.Resolution {
	localWins := false

	switch conflict.LocalVectorClock.Compare(conflict.RemoteVectorClock) {
	case clock.After:
		localWins = preferLater
	case clock.Before:
		localWins = !preferLater
	default:
		// Truly concurrent: deterministic device-id tiebreak
		if preferLater {
			localWins = conflict.LocalDeviceID > conflict.RemoteDeviceID
		} else {
			localWins = conflict.LocalDeviceID < conflict.RemoteDeviceID
		}
	}

	resolution := &model.Resolution{
		EntityID: conflict.EntityID,
		Strategy: strategy,
	}
	if localWins {
		resolution.WinningDeviceID = conflict.LocalDeviceID
		resolution.Data = conflict.LocalData
	} else {
		resolution.WinningDeviceID = conflict.RemoteDeviceID
		resolution.Data = conflict.RemoteData
	}
	return resolution
}
