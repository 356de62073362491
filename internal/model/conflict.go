package model

import (
	"time"

	"github.com/driftsync/driftsync/internal/clock"
)

// ResolutionStrategy selects how a detected conflict is resolved
type ResolutionStrategy string

const (
	// ResolveLastWriteWins picks the causally later side; truly concurrent
	// edits fall back to a deterministic device-id tiebreak.
	ResolveLastWriteWins ResolutionStrategy = "last_write_wins"
	// ResolveFirstWriteWins picks the causally earlier side
	ResolveFirstWriteWins ResolutionStrategy = "first_write_wins"
	// ResolveMerge requires an external merge of both sides
	ResolveMerge ResolutionStrategy = "merge"
	// ResolveAskUser requires an explicit user choice
	ResolveAskUser ResolutionStrategy = "ask_user"
	// ResolveDevicePriority requires an externally supplied device ranking
	ResolveDevicePriority ResolutionStrategy = "device_priority"
)

// DeviceConflict is produced when two replicas' vector clocks are concurrent
// over the same entity: genuinely simultaneous, uncoordinated edits. A remote
// that causally follows local is a normal update, never a conflict.
type DeviceConflict struct {
	EntityID          string                 `json:"entity_id"`
	EntityType        string                 `json:"entity_type"`
	LocalDeviceID     string                 `json:"local_device_id"`
	RemoteDeviceID    string                 `json:"remote_device_id"`
	LocalVectorClock  *clock.VectorClock     `json:"local_vector_clock"`
	RemoteVectorClock *clock.VectorClock     `json:"remote_vector_clock"`
	LocalData         map[string]interface{} `json:"local_data"`
	RemoteData        map[string]interface{} `json:"remote_data"`
	Timestamp         time.Time              `json:"timestamp"`
}

// Resolution is the outcome of resolving a conflict: the winning data and
// which device supplied it.
type Resolution struct {
	EntityID        string                 `json:"entity_id"`
	WinningDeviceID string                 `json:"winning_device_id"`
	Data            map[string]interface{} `json:"data"`
	Strategy        ResolutionStrategy     `json:"strategy"`
}
