// Package crdt provides a closed family of conflict-free mergeable value
// types built on vector clocks. Every Merge is a total function: any two
// states of the same type always merge to a valid state, and merging is
// commutative, associative, and idempotent regardless of how long the
// replicas diverged or in what order merges are applied.
//
// The LWW types break causal ties with wall-clock time (and writer ID as a
// final tiebreak). The wall-clock fallback is a deliberate, non-causal last
// resort: it produces a total order but can reorder updates if device clocks
// are skewed. That is an accepted, bounded inconsistency.
package crdt

import (
	"time"

	"github.com/driftsync/driftsync/internal/clock"
)

// Mergeable is the shared contract of the CRDT family, used by property
// tests and by callers that treat values generically.
type Mergeable interface {
	// Timestamp returns the value's causal metadata
	Timestamp() *clock.VectorClock
}

// lwwWins decides whether the left side wins a last-writer-wins merge.
// Causal precedence decides first; concurrent updates fall back to the later
// wall-clock time, then to the lexicographically larger writer ID so the
// outcome is deterministic on every replica.
func lwwWins(leftClock *clock.VectorClock, leftTime time.Time, leftWriter string,
	rightClock *clock.VectorClock, rightTime time.Time, rightWriter string) bool {

	switch leftClock.Compare(rightClock) {
	case clock.After:
		return true
	case clock.Before:
		return false
	}

	if !leftTime.Equal(rightTime) {
		return leftTime.After(rightTime)
	}
	return leftWriter >= rightWriter
}
