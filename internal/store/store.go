// Package store persists entity snapshots and the acknowledged change log.
// The sync engine itself never does I/O; a Store is the collaborator it
// hands snapshots to and reads them back from.
package store

import (
	"context"
	"fmt"

	"github.com/driftsync/driftsync/internal/delta"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

// Store is the snapshot and change-log persistence contract
type Store interface {
	// PutEntity stores the current snapshot of an entity
	PutEntity(ctx context.Context, entityType, entityID string, doc delta.Document) error

	// GetEntity returns the stored snapshot, or an ErrCodeEntityNotFound error
	GetEntity(ctx context.Context, entityType, entityID string) (delta.Document, error)

	// ListEntities returns all snapshots of one type keyed by entity ID
	ListEntities(ctx context.Context, entityType string) (map[string]delta.Document, error)

	// DeleteEntity removes a snapshot; deleting a missing entity is a no-op
	DeleteEntity(ctx context.Context, entityType, entityID string) error

	// AppendChanges records acknowledged changes in the durable change log
	AppendChanges(ctx context.Context, changes ...*model.DeltaChange) error

	// ChangeHistory returns an entity's recorded changes ordered by version
	ChangeHistory(ctx context.Context, entityID string) ([]*model.DeltaChange, error)

	Close() error
}

// NotFound builds the error every Store returns for a missing entity
func NotFound(entityType, entityID string) *syncerr.SyncError {
	return syncerr.New(syncerr.ErrCodeEntityNotFound,
		fmt.Sprintf("entity not found: %s/%s", entityType, entityID), nil).
		WithDetail("entity_type", entityType).
		WithDetail("entity_id", entityID)
}
