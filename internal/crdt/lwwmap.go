package crdt

import (
	"time"

	"github.com/driftsync/driftsync/internal/clock"
)

// MapEntry is one key's slot in an LWWMap. Deleted entries are retained as
// tombstones so deletions merge correctly instead of disappearing silently.
type MapEntry[V any] struct {
	Value         V                  `json:"value"`
	WriterID      string             `json:"writer_id"`
	Clock         *clock.VectorClock `json:"clock"`
	WallClockTime time.Time          `json:"wall_clock_time"`
	IsDeleted     bool               `json:"is_deleted"`
}

// LWWMap is a last-writer-wins map with per-key causal metadata and
// tombstoned deletes. Merging applies the LWW register rule key by key.
type LWWMap[K comparable, V any] struct {
	Entries map[K]*MapEntry[V] `json:"entries"`
	Clock   *clock.VectorClock `json:"clock"`
}

// NewLWWMap creates an empty map
func NewLWWMap[K comparable, V any]() *LWWMap[K, V] {
	return &LWWMap[K, V]{
		Entries: make(map[K]*MapEntry[V]),
		Clock:   clock.New(),
	}
}

// Set writes a value for the key on behalf of the given replica
func (m *LWWMap[K, V]) Set(replicaID string, key K, value V) {
	m.Clock.Increment(replicaID)
	m.Entries[key] = &MapEntry[V]{
		Value:         value,
		WriterID:      replicaID,
		Clock:         m.Clock.Copy(),
		WallClockTime: time.Now().UTC(),
	}
}

// Delete tombstones the key on behalf of the given replica. Deleting an
// absent key still records a tombstone so the delete wins over older writes
// that arrive later.
func (m *LWWMap[K, V]) Delete(replicaID string, key K) {
	m.Clock.Increment(replicaID)
	entry := &MapEntry[V]{
		WriterID:      replicaID,
		Clock:         m.Clock.Copy(),
		WallClockTime: time.Now().UTC(),
		IsDeleted:     true,
	}
	if existing, ok := m.Entries[key]; ok {
		entry.Value = existing.Value
	}
	m.Entries[key] = entry
}

// Get returns the live value for the key, if any
func (m *LWWMap[K, V]) Get(key K) (V, bool) {
	if entry, ok := m.Entries[key]; ok && !entry.IsDeleted {
		return entry.Value, true
	}
	var zero V
	return zero, false
}

// State returns the visible key/value pairs, filtering out tombstones
func (m *LWWMap[K, V]) State() map[K]V {
	out := make(map[K]V, len(m.Entries))
	for key, entry := range m.Entries {
		if !entry.IsDeleted {
			out[key] = entry.Value
		}
	}
	return out
}

// Len returns the number of live keys
func (m *LWWMap[K, V]) Len() int {
	count := 0
	for _, entry := range m.Entries {
		if !entry.IsDeleted {
			count++
		}
	}
	return count
}

// Timestamp returns the map's causal metadata
func (m *LWWMap[K, V]) Timestamp() *clock.VectorClock {
	return m.Clock
}

// Merge combines two maps per key under the last-writer-wins rule
func (m *LWWMap[K, V]) Merge(other *LWWMap[K, V]) *LWWMap[K, V] {
	merged := NewLWWMap[K, V]()
	for key, entry := range m.Entries {
		merged.Entries[key] = entry
	}
	for key, theirs := range other.Entries {
		ours, ok := merged.Entries[key]
		if !ok || lwwWins(theirs.Clock, theirs.WallClockTime, theirs.WriterID,
			ours.Clock, ours.WallClockTime, ours.WriterID) {
			merged.Entries[key] = theirs
		}
	}
	merged.Clock = m.Clock.Copy()
	merged.Clock.Merge(other.Clock)
	return merged
}
