package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/delta"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)

// runStoreTests exercises the Store contract against any implementation
func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		doc := delta.Document{
			"id":    "note-1",
			"title": "groceries",
			"tags":  []interface{}{"home", "urgent"},
			"meta":  map[string]interface{}{"pinned": true},
		}
		require.NoError(t, s.PutEntity(ctx, "note", "note-1", doc))

		got, err := s.GetEntity(ctx, "note", "note-1")
		require.NoError(t, err)
		assert.Equal(t, "groceries", got["title"])
		assert.Equal(t, map[string]interface{}{"pinned": true}, got["meta"])

		// The stored snapshot is detached from later caller mutations
		doc["title"] = "mutated"
		got, err = s.GetEntity(ctx, "note", "note-1")
		require.NoError(t, err)
		assert.Equal(t, "groceries", got["title"])
	})

	t.Run("GetMissingEntity", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		_, err := s.GetEntity(ctx, "note", "ghost")
		require.Error(t, err)
		assert.Equal(t, syncerr.ErrCodeEntityNotFound, syncerr.GetCode(err))
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.PutEntity(ctx, "note", "note-1", delta.Document{"id": "note-1", "v": 1.0}))
		require.NoError(t, s.PutEntity(ctx, "note", "note-1", delta.Document{"id": "note-1", "v": 2.0}))

		got, err := s.GetEntity(ctx, "note", "note-1")
		require.NoError(t, err)
		assert.Equal(t, 2.0, got["v"])
	})

	t.Run("ListByType", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.PutEntity(ctx, "note", "n1", delta.Document{"id": "n1"}))
		require.NoError(t, s.PutEntity(ctx, "note", "n2", delta.Document{"id": "n2"}))
		require.NoError(t, s.PutEntity(ctx, "task", "t1", delta.Document{"id": "t1"}))

		notes, err := s.ListEntities(ctx, "note")
		require.NoError(t, err)
		assert.Len(t, notes, 2)
		assert.Contains(t, notes, "n1")
		assert.Contains(t, notes, "n2")

		empty, err := s.ListEntities(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.PutEntity(ctx, "note", "n1", delta.Document{"id": "n1"}))
		require.NoError(t, s.DeleteEntity(ctx, "note", "n1"))
		require.NoError(t, s.DeleteEntity(ctx, "note", "n1"))

		_, err := s.GetEntity(ctx, "note", "n1")
		require.Error(t, err)
	})

	t.Run("ChangeHistoryOrderedByVersion", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		mkChange := func(version uint64, op model.Operation) *model.DeltaChange {
			return &model.DeltaChange{
				ID:         uuid.NewString(),
				EntityID:   "note-1",
				EntityType: "note",
				Operation:  op,
				Version:    version,
			}
		}
		// Append out of order, read back ordered
		require.NoError(t, s.AppendChanges(ctx,
			mkChange(2, model.OpUpdate),
			mkChange(1, model.OpCreate),
			mkChange(3, model.OpDelete)))

		history, err := s.ChangeHistory(ctx, "note-1")
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, uint64(1), history[0].Version)
		assert.Equal(t, model.OpCreate, history[0].Operation)
		assert.Equal(t, uint64(3), history[2].Version)

		other, err := s.ChangeHistory(ctx, "other-entity")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("ClosedStoreRefusesWrites", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Close())

		err := s.PutEntity(ctx, "note", "n1", delta.Document{"id": "n1"})
		require.Error(t, err)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := NewSQLite(DefaultSQLiteConfig(filepath.Join(t.TempDir(), "driftsync.db")))
		require.NoError(t, err)
		return s
	})
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "driftsync.db")

	s, err := NewSQLite(DefaultSQLiteConfig(path))
	require.NoError(t, err)
	require.NoError(t, s.PutEntity(ctx, "note", "n1", delta.Document{"id": "n1", "title": "kept"}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(DefaultSQLiteConfig(path))
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetEntity(ctx, "note", "n1")
	require.NoError(t, err)
	assert.Equal(t, "kept", got["title"])
}
