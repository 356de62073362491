package delta

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/model"
)

func entityDoc(id string, fields map[string]interface{}) Document {
	doc := Document{"id": id}
	for key, value := range fields {
		doc[key] = value
	}
	return doc
}

func TestDetectChangesNilPair(t *testing.T) {
	engine := newTestEngine(t)

	change, err := engine.DetectChanges(nil, nil, "note")
	require.NoError(t, err)
	assert.Nil(t, change)
}

func TestDetectChangesNoOp(t *testing.T) {
	engine := newTestEngine(t)
	entity := entityDoc("n1", map[string]interface{}{"title": "same"})

	change, err := engine.DetectChanges(entity, entity, "note")
	require.NoError(t, err)
	assert.Nil(t, change, "identical snapshots must produce no change")
	assert.Empty(t, engine.PendingChanges())
}

func TestDetectChangesClassification(t *testing.T) {
	engine := newTestEngine(t)
	v1 := entityDoc("n1", map[string]interface{}{"title": "first"})
	v2 := entityDoc("n1", map[string]interface{}{"title": "second"})

	created, err := engine.DetectChanges(nil, v1, "note")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, model.OpCreate, created.Operation)
	assert.Equal(t, uint64(1), created.Version)
	assert.Nil(t, created.Patch)

	v1Checksum, err := Checksum(v1)
	require.NoError(t, err)
	assert.Equal(t, v1Checksum, created.Checksum)

	updated, err := engine.DetectChanges(v1, v2, "note")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, model.OpUpdate, updated.Operation)
	assert.Equal(t, uint64(2), updated.Version)
	require.NotNil(t, updated.Patch)

	deleted, err := engine.DetectChanges(v2, nil, "note")
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, model.OpDelete, deleted.Operation)
	assert.Equal(t, uint64(3), deleted.Version)

	// A delete hashes the pre-delete entity
	v2Checksum, err := Checksum(v2)
	require.NoError(t, err)
	assert.Equal(t, v2Checksum, deleted.Checksum)
}

func TestVersionMonotonicityAcrossOperations(t *testing.T) {
	engine := newTestEngine(t)

	var lastVersion uint64
	for i := 0; i < 5; i++ {
		v := entityDoc("n1", map[string]interface{}{"rev": float64(i)})

		var change *model.DeltaChange
		var err error
		if i%2 == 0 {
			change, err = engine.DetectChanges(nil, v, "note")
		} else {
			change, err = engine.DetectChanges(v, nil, "note")
		}
		require.NoError(t, err)
		require.NotNil(t, change)
		assert.Greater(t, change.Version, lastVersion, "versions must strictly increase, never reuse")
		lastVersion = change.Version
	}
}

func TestVersionsTrackedPerEntity(t *testing.T) {
	engine := newTestEngine(t)

	a1, err := engine.DetectChanges(nil, entityDoc("a", nil), "note")
	require.NoError(t, err)
	b1, err := engine.DetectChanges(nil, entityDoc("b", nil), "note")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), a1.Version)
	assert.Equal(t, uint64(1), b1.Version)
}

func TestDetectBatchChanges(t *testing.T) {
	engine := newTestEngine(t)

	oldEntities := []interface{}{
		entityDoc("keep", map[string]interface{}{"v": "same"}),
		entityDoc("edit", map[string]interface{}{"v": "old"}),
		entityDoc("drop", map[string]interface{}{"v": "x"}),
	}
	newEntities := []interface{}{
		entityDoc("keep", map[string]interface{}{"v": "same"}),
		entityDoc("edit", map[string]interface{}{"v": "new"}),
		entityDoc("add", map[string]interface{}{"v": "y"}),
	}

	changes, err := engine.DetectBatchChanges(oldEntities, newEntities, "note")
	require.NoError(t, err)
	require.Len(t, changes, 3)

	byEntity := make(map[string]model.Operation)
	for _, change := range changes {
		byEntity[change.EntityID] = change.Operation
	}
	assert.Equal(t, model.OpUpdate, byEntity["edit"])
	assert.Equal(t, model.OpCreate, byEntity["add"])
	assert.Equal(t, model.OpDelete, byEntity["drop"])
	assert.NotContains(t, byEntity, "keep")

	// Ordered by timestamp
	for i := 1; i < len(changes); i++ {
		assert.False(t, changes[i].Timestamp.Before(changes[i-1].Timestamp))
	}
}

func TestChangesSinceAndClear(t *testing.T) {
	engine := newTestEngine(t)

	for i := 0; i < 4; i++ {
		_, err := engine.DetectChanges(nil,
			entityDoc(fmt.Sprintf("n%d", i), map[string]interface{}{"i": float64(i)}), "note")
		require.NoError(t, err)
	}
	_, err := engine.DetectChanges(nil, entityDoc("t1", nil), "task")
	require.NoError(t, err)

	assert.Len(t, engine.PendingChanges(), 5)
	assert.Len(t, engine.ChangesSince(0, "note"), 4)
	assert.Len(t, engine.ChangesSince(0, "task"), 1)
	assert.Len(t, engine.ChangesSince(0, ""), 5)

	engine.ClearSyncedChanges(1)
	// Per-entity versions are all 1 here, so everything is acknowledged
	assert.Empty(t, engine.PendingChanges())
}

func TestChangeLogBounded(t *testing.T) {
	engine, err := NewEngine(&Config{ReplicaID: "r", MaxHistoryCount: 3}, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := engine.DetectChanges(nil,
			entityDoc(fmt.Sprintf("n%d", i), nil), "note")
		require.NoError(t, err)
	}
	assert.Len(t, engine.PendingChanges(), 3, "oldest entries must be evicted first")
	assert.Equal(t, "n9", engine.PendingChanges()[2].EntityID)
}

func TestChangeCarriesCausalMetadata(t *testing.T) {
	engine := newTestEngine(t)

	change, err := engine.DetectChanges(nil, entityDoc("n1", nil), "note")
	require.NoError(t, err)
	require.NotNil(t, change)

	assert.Equal(t, "test-replica", change.Metadata["replica_id"])
	counters, ok := change.Metadata["vector_clock"].(map[string]uint64)
	require.True(t, ok)
	assert.Equal(t, uint64(1), counters["test-replica"])
	assert.Equal(t, uint64(1), engine.VectorClock().Timestamp("test-replica"))
}

func TestLastChecksumCache(t *testing.T) {
	engine := newTestEngine(t)
	entity := entityDoc("n1", map[string]interface{}{"v": "x"})

	change, err := engine.DetectChanges(nil, entity, "note")
	require.NoError(t, err)

	cached, ok := engine.LastChecksum("n1")
	assert.True(t, ok)
	assert.Equal(t, change.Checksum, cached)
}

// Two replicas edit disjoint fields of the same entity concurrently; applying
// both field-path patches to the common ancestor keeps both edits.
func TestDisjointFieldEditsMergeWithoutLoss(t *testing.T) {
	ancestor := entityDoc("doc-1", map[string]interface{}{
		"title": "shared",
		"body":  "original",
	})

	engineA := newTestEngine(t)
	engineB := newTestEngine(t)

	editedByA := entityDoc("doc-1", map[string]interface{}{
		"title": "renamed by A",
		"body":  "original",
	})
	editedByB := entityDoc("doc-1", map[string]interface{}{
		"title": "shared",
		"body":  "rewritten by B",
	})

	patchA, err := engineA.GeneratePatch(ancestor, editedByA)
	require.NoError(t, err)
	patchB, err := engineB.GeneratePatch(ancestor, editedByB)
	require.NoError(t, err)

	// Apply A's patch to the ancestor, then replay B's field operations on
	// top: disjoint paths cannot collide.
	intermediate, err := engineA.ApplyPatch(patchA, ancestor)
	require.NoError(t, err)
	merged, err := applyStructured(intermediate.(Document), patchB.Operations)
	require.NoError(t, err)

	assert.Equal(t, "renamed by A", merged["title"])
	assert.Equal(t, "rewritten by B", merged["body"])
}
