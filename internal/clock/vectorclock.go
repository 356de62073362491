package clock

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Comparison represents the result of comparing two vector clocks
type Comparison int

const (
	// Equal means both vector clocks are identical
	Equal Comparison = iota
	// Before means the first clock happens before the second
	Before
	// After means the first clock happens after the second
	After
	// Concurrent means neither clock dominates the other (siblings)
	Concurrent
)

// String returns a human-readable name for the comparison result
func (c Comparison) String() string {
	switch c {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// VectorClock tracks per-replica logical counters for causality ordering.
// A replica only ever increments its own counter; counters never decrease.
// Missing replicas are treated as counter zero.
type VectorClock struct {
	counters map[string]uint64
}

// New creates an empty vector clock (all counters zero)
func New() *VectorClock {
	return &VectorClock{counters: make(map[string]uint64)}
}

// FromCounters creates a vector clock from an existing counter map.
// The map is copied, not retained.
func FromCounters(counters map[string]uint64) *VectorClock {
	vc := New()
	for replica, count := range counters {
		if count > 0 {
			vc.counters[replica] = count
		}
	}
	return vc
}

// Increment advances the counter for the given replica by one
func (vc *VectorClock) Increment(replicaID string) {
	vc.counters[replicaID]++
}

// Timestamp returns the current counter for the given replica (zero if unseen)
func (vc *VectorClock) Timestamp(replicaID string) uint64 {
	return vc.counters[replicaID]
}

// Merge folds another clock into this one, taking the pointwise maximum
// over the union of replica keys
func (vc *VectorClock) Merge(other *VectorClock) {
	if other == nil {
		return
	}
	for replica, count := range other.counters {
		if count > vc.counters[replica] {
			vc.counters[replica] = count
		}
	}
}

// Compare determines the causal relationship between two clocks
func (vc *VectorClock) Compare(other *VectorClock) Comparison {
	var selfGreater, otherGreater bool

	for replica, count := range vc.counters {
		otherCount := uint64(0)
		if other != nil {
			otherCount = other.counters[replica]
		}
		if count > otherCount {
			selfGreater = true
		} else if count < otherCount {
			otherGreater = true
		}
	}
	if other != nil {
		for replica, otherCount := range other.counters {
			if _, seen := vc.counters[replica]; !seen && otherCount > 0 {
				otherGreater = true
			}
		}
	}

	switch {
	case selfGreater && otherGreater:
		return Concurrent
	case selfGreater:
		return After
	case otherGreater:
		return Before
	default:
		return Equal
	}
}

// HappenedBefore reports whether every counter in this clock is <= the
// corresponding counter in other, with at least one strictly less
func (vc *VectorClock) HappenedBefore(other *VectorClock) bool {
	return vc.Compare(other) == Before
}

// IsConcurrent reports whether neither clock causally dominates the other.
// Concurrency is an expected outcome of the partial order, not an error.
func (vc *VectorClock) IsConcurrent(other *VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

// Equals reports whether both clocks carry identical counters
func (vc *VectorClock) Equals(other *VectorClock) bool {
	return vc.Compare(other) == Equal
}

// Copy returns an independent copy of this clock
func (vc *VectorClock) Copy() *VectorClock {
	return FromCounters(vc.counters)
}

// Counters returns a copy of the underlying counter map
func (vc *VectorClock) Counters() map[string]uint64 {
	out := make(map[string]uint64, len(vc.counters))
	for replica, count := range vc.counters {
		out[replica] = count
	}
	return out
}

// String renders the clock with replica keys in sorted order
func (vc *VectorClock) String() string {
	replicas := make([]string, 0, len(vc.counters))
	for replica := range vc.counters {
		replicas = append(replicas, replica)
	}
	sort.Strings(replicas)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, replica := range replicas {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s:%d", replica, vc.counters[replica])
	}
	sb.WriteByte('}')
	return sb.String()
}

// MarshalJSON encodes the clock as a plain counter map
func (vc *VectorClock) MarshalJSON() ([]byte, error) {
	return json.Marshal(vc.counters)
}

// UnmarshalJSON decodes a plain counter map into the clock
func (vc *VectorClock) UnmarshalJSON(data []byte) error {
	counters := make(map[string]uint64)
	if err := json.Unmarshal(data, &counters); err != nil {
		return err
	}
	vc.counters = counters
	return nil
}
