package crdt

import (
	"time"

	"github.com/driftsync/driftsync/internal/clock"
)

// LWWRegister is a last-writer-wins register holding a single value of type
// T. The side whose clock causally dominates wins a merge; concurrent writes
// fall back to wall-clock time, then writer ID.
type LWWRegister[T any] struct {
	Value         T                  `json:"value"`
	WriterID      string             `json:"writer_id"`
	Clock         *clock.VectorClock `json:"clock"`
	WallClockTime time.Time          `json:"wall_clock_time"`
}

// NewLWWRegister creates an empty register with a zero clock
func NewLWWRegister[T any]() *LWWRegister[T] {
	return &LWWRegister[T]{Clock: clock.New()}
}

// Set writes a new value on behalf of the given replica
func (r *LWWRegister[T]) Set(replicaID string, value T) {
	r.Value = value
	r.WriterID = replicaID
	r.Clock.Increment(replicaID)
	r.WallClockTime = time.Now().UTC()
}

// State returns the current value
func (r *LWWRegister[T]) State() T {
	return r.Value
}

// Timestamp returns the register's causal metadata
func (r *LWWRegister[T]) Timestamp() *clock.VectorClock {
	return r.Clock
}

// Merge combines two registers into a new one without mutating either side
func (r *LWWRegister[T]) Merge(other *LWWRegister[T]) *LWWRegister[T] {
	winner := other
	if lwwWins(r.Clock, r.WallClockTime, r.WriterID,
		other.Clock, other.WallClockTime, other.WriterID) {
		winner = r
	}

	merged := &LWWRegister[T]{
		Value:         winner.Value,
		WriterID:      winner.WriterID,
		WallClockTime: winner.WallClockTime,
		Clock:         r.Clock.Copy(),
	}
	merged.Clock.Merge(other.Clock)
	return merged
}
