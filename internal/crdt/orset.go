package crdt

import (
	"github.com/google/uuid"

	"github.com/driftsync/driftsync/internal/clock"
)

// TaggedElement is one observed instance of a logical value: the element
// plus the unique tag minted for the add that produced it.
type TaggedElement[T comparable] struct {
	Element   T      `json:"element"`
	Tag       string `json:"tag"`
	ReplicaID string `json:"replica_id"`
}

// ORSet is an observed-remove set. Every add mints a unique tag; a remove
// tombstones only the tags visible at the time of the remove. A concurrent
// add of the same logical value therefore survives a remove, since a remove
// only removes what it has seen.
type ORSet[T comparable] struct {
	Added   map[string]TaggedElement[T] `json:"added"`   // tag -> instance
	Removed map[string]TaggedElement[T] `json:"removed"` // tag -> tombstoned instance
	Clock   *clock.VectorClock          `json:"clock"`
}

// NewORSet creates an empty observed-remove set
func NewORSet[T comparable]() *ORSet[T] {
	return &ORSet[T]{
		Added:   make(map[string]TaggedElement[T]),
		Removed: make(map[string]TaggedElement[T]),
		Clock:   clock.New(),
	}
}

// Add inserts an element with a fresh unique tag
func (s *ORSet[T]) Add(replicaID string, element T) {
	tag := uuid.NewString()
	s.Added[tag] = TaggedElement[T]{
		Element:   element,
		Tag:       tag,
		ReplicaID: replicaID,
	}
	s.Clock.Increment(replicaID)
}

// Remove tombstones all currently visible instances of the element
func (s *ORSet[T]) Remove(replicaID string, element T) {
	for tag, instance := range s.Added {
		if instance.Element != element {
			continue
		}
		if _, gone := s.Removed[tag]; gone {
			continue
		}
		s.Removed[tag] = instance
	}
	s.Clock.Increment(replicaID)
}

// Contains reports whether any live tag carries the element
func (s *ORSet[T]) Contains(element T) bool {
	for tag, instance := range s.Added {
		if instance.Element != element {
			continue
		}
		if _, gone := s.Removed[tag]; !gone {
			return true
		}
	}
	return false
}

// Elements returns the current membership: added minus removed, projected
// onto the element ignoring duplicate tags
func (s *ORSet[T]) Elements() []T {
	seen := make(map[T]struct{})
	out := make([]T, 0, len(s.Added))
	for tag, instance := range s.Added {
		if _, gone := s.Removed[tag]; gone {
			continue
		}
		if _, dup := seen[instance.Element]; dup {
			continue
		}
		seen[instance.Element] = struct{}{}
		out = append(out, instance.Element)
	}
	return out
}

// Timestamp returns the set's causal metadata
func (s *ORSet[T]) Timestamp() *clock.VectorClock {
	return s.Clock
}

// Merge combines two sets by unioning both the added and removed tag sets
func (s *ORSet[T]) Merge(other *ORSet[T]) *ORSet[T] {
	merged := NewORSet[T]()
	for tag, instance := range s.Added {
		merged.Added[tag] = instance
	}
	for tag, instance := range other.Added {
		merged.Added[tag] = instance
	}
	for tag, instance := range s.Removed {
		merged.Removed[tag] = instance
	}
	for tag, instance := range other.Removed {
		merged.Removed[tag] = instance
	}
	merged.Clock = s.Clock.Copy()
	merged.Clock.Merge(other.Clock)
	return merged
}
