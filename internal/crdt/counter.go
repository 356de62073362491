package crdt

import (
	"github.com/driftsync/driftsync/internal/clock"
)

// GCounter is a grow-only counter: a map of per-replica counts whose value
// is the sum over all replicas. It can only increase.
type GCounter struct {
	Counts map[string]uint64  `json:"counts"`
	Clock  *clock.VectorClock `json:"clock"`
}

// NewGCounter creates a counter at zero
func NewGCounter() *GCounter {
	return &GCounter{
		Counts: make(map[string]uint64),
		Clock:  clock.New(),
	}
}

// Increment adds delta to the given replica's count
func (c *GCounter) Increment(replicaID string, delta uint64) {
	c.Counts[replicaID] += delta
	c.Clock.Increment(replicaID)
}

// Value returns the sum of all per-replica counts
func (c *GCounter) Value() uint64 {
	var total uint64
	for _, count := range c.Counts {
		total += count
	}
	return total
}

// Timestamp returns the counter's causal metadata
func (c *GCounter) Timestamp() *clock.VectorClock {
	return c.Clock
}

// Merge combines two counters by taking the pointwise maximum per replica
func (c *GCounter) Merge(other *GCounter) *GCounter {
	merged := NewGCounter()
	for replica, count := range c.Counts {
		merged.Counts[replica] = count
	}
	for replica, count := range other.Counts {
		if count > merged.Counts[replica] {
			merged.Counts[replica] = count
		}
	}
	merged.Clock = c.Clock.Copy()
	merged.Clock.Merge(other.Clock)
	return merged
}

// PNCounter supports both increments and decrements as a pair of grow-only
// counters. Its value is positive minus negative and may go below zero.
type PNCounter struct {
	Positive *GCounter `json:"positive"`
	Negative *GCounter `json:"negative"`
}

// NewPNCounter creates a counter at zero
func NewPNCounter() *PNCounter {
	return &PNCounter{
		Positive: NewGCounter(),
		Negative: NewGCounter(),
	}
}

// Increment adds delta on behalf of the given replica
func (c *PNCounter) Increment(replicaID string, delta uint64) {
	c.Positive.Increment(replicaID, delta)
}

// Decrement subtracts delta on behalf of the given replica
func (c *PNCounter) Decrement(replicaID string, delta uint64) {
	c.Negative.Increment(replicaID, delta)
}

// Value returns positive minus negative
func (c *PNCounter) Value() int64 {
	return int64(c.Positive.Value()) - int64(c.Negative.Value())
}

// Timestamp returns the merged causal metadata of both sides
func (c *PNCounter) Timestamp() *clock.VectorClock {
	merged := c.Positive.Clock.Copy()
	merged.Merge(c.Negative.Clock)
	return merged
}

// Merge combines two counters side by side
func (c *PNCounter) Merge(other *PNCounter) *PNCounter {
	return &PNCounter{
		Positive: c.Positive.Merge(other.Positive),
		Negative: c.Negative.Merge(other.Negative),
	}
}
