package crdt

import (
	"github.com/driftsync/driftsync/internal/clock"
)

// GSet is a grow-only set: elements, once added, can never be removed
type GSet[T comparable] struct {
	Members map[T]struct{}     `json:"members"`
	Clock   *clock.VectorClock `json:"clock"`
}

// NewGSet creates an empty grow-only set
func NewGSet[T comparable]() *GSet[T] {
	return &GSet[T]{
		Members: make(map[T]struct{}),
		Clock:   clock.New(),
	}
}

// Add inserts an element on behalf of the given replica
func (s *GSet[T]) Add(replicaID string, element T) {
	s.Members[element] = struct{}{}
	s.Clock.Increment(replicaID)
}

// Contains reports whether the element is a member
func (s *GSet[T]) Contains(element T) bool {
	_, ok := s.Members[element]
	return ok
}

// Elements returns the current membership
func (s *GSet[T]) Elements() []T {
	out := make([]T, 0, len(s.Members))
	for element := range s.Members {
		out = append(out, element)
	}
	return out
}

// Len returns the number of members
func (s *GSet[T]) Len() int {
	return len(s.Members)
}

// Timestamp returns the set's causal metadata
func (s *GSet[T]) Timestamp() *clock.VectorClock {
	return s.Clock
}

// Merge combines two sets by union
func (s *GSet[T]) Merge(other *GSet[T]) *GSet[T] {
	merged := NewGSet[T]()
	for element := range s.Members {
		merged.Members[element] = struct{}{}
	}
	for element := range other.Members {
		merged.Members[element] = struct{}{}
	}
	merged.Clock = s.Clock.Copy()
	merged.Clock.Merge(other.Clock)
	return merged
}
