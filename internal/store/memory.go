package store

import (
	"context"
	"sort"
	"sync"

	"github.com/driftsync/driftsync/internal/delta"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

// Memory is an in-process Store for tests and single-run replicas
type Memory struct {
	mu       sync.RWMutex
	entities map[string]map[string]delta.Document // entityType -> entityID -> snapshot
	changes  map[string][]*model.DeltaChange      // entityID -> ordered change log
	closed   bool
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[string]map[string]delta.Document),
		changes:  make(map[string][]*model.DeltaChange),
	}
}

// copyDoc detaches a snapshot from the caller's document. The JSON round
// trip also canonicalizes nested values the same way the delta engine does.
func copyDoc(doc delta.Document) (delta.Document, error) {
	copied, ok := delta.ToDocument(doc)
	if !ok {
		return nil, syncerr.InvalidArgument("snapshot is not serializable", nil)
	}
	return copied, nil
}

func (m *Memory) PutEntity(ctx context.Context, entityType, entityID string, doc delta.Document) error {
	copied, err := copyDoc(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return syncerr.Stopped("memory store")
	}

	byID, ok := m.entities[entityType]
	if !ok {
		byID = make(map[string]delta.Document)
		m.entities[entityType] = byID
	}
	byID[entityID] = copied
	return nil
}

func (m *Memory) GetEntity(ctx context.Context, entityType, entityID string) (delta.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, syncerr.Stopped("memory store")
	}

	doc, ok := m.entities[entityType][entityID]
	if !ok {
		return nil, NotFound(entityType, entityID)
	}
	return copyDoc(doc)
}

func (m *Memory) ListEntities(ctx context.Context, entityType string) (map[string]delta.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, syncerr.Stopped("memory store")
	}

	out := make(map[string]delta.Document, len(m.entities[entityType]))
	for id, doc := range m.entities[entityType] {
		copied, err := copyDoc(doc)
		if err != nil {
			return nil, err
		}
		out[id] = copied
	}
	return out, nil
}

func (m *Memory) DeleteEntity(ctx context.Context, entityType, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return syncerr.Stopped("memory store")
	}

	delete(m.entities[entityType], entityID)
	return nil
}

func (m *Memory) AppendChanges(ctx context.Context, changes ...*model.DeltaChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return syncerr.Stopped("memory store")
	}

	for _, change := range changes {
		copied := *change
		m.changes[change.EntityID] = append(m.changes[change.EntityID], &copied)
	}
	return nil
}

func (m *Memory) ChangeHistory(ctx context.Context, entityID string) ([]*model.DeltaChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, syncerr.Stopped("memory store")
	}

	history := make([]*model.DeltaChange, 0, len(m.changes[entityID]))
	for _, change := range m.changes[entityID] {
		copied := *change
		history = append(history, &copied)
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Version < history[j].Version })
	return history, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
