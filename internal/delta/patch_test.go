package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(&Config{ReplicaID: "test-replica", ChunkSize: 8}, zap.NewNop())
	require.NoError(t, err)
	return engine
}

func TestGeneratePatchStructuredRoundTrip(t *testing.T) {
	engine := newTestEngine(t)

	from := Document{
		"id":    "note-1",
		"title": "groceries",
		"meta":  map[string]interface{}{"pinned": false, "color": "red"},
		"tags":  []interface{}{"home", "food"},
		"count": float64(2),
	}
	to := Document{
		"id":    "note-1",
		"title": "groceries and errands",
		"meta":  map[string]interface{}{"pinned": true},
		"tags":  []interface{}{"food", "urgent"},
		"count": float64(5),
	}

	patch, err := engine.GeneratePatch(from, to)
	require.NoError(t, err)
	assert.True(t, patch.Structured)

	result, err := engine.ApplyPatch(patch, from)
	require.NoError(t, err)

	resultChecksum, err := Checksum(result)
	require.NoError(t, err)
	assert.Equal(t, patch.TargetChecksum, resultChecksum)

	doc := result.(Document)
	assert.Equal(t, "groceries and errands", doc["title"])
	assert.Equal(t, float64(5), doc["count"])
	meta := doc["meta"].(map[string]interface{})
	assert.Equal(t, true, meta["pinned"])
	assert.NotContains(t, meta, "color")
}

func TestGeneratePatchOnTypedStruct(t *testing.T) {
	type note struct {
		ID    string   `json:"id"`
		Title string   `json:"title"`
		Tags  []string `json:"tags"`
	}

	engine := newTestEngine(t)
	from := note{ID: "n1", Title: "draft", Tags: []string{"a"}}
	to := note{ID: "n1", Title: "final", Tags: []string{"a", "b"}}

	patch, err := engine.GeneratePatch(from, to)
	require.NoError(t, err)
	assert.True(t, patch.Structured)

	result, err := engine.ApplyPatch(patch, from)
	require.NoError(t, err)

	resultChecksum, err := Checksum(result)
	require.NoError(t, err)
	assert.Equal(t, patch.TargetChecksum, resultChecksum)
}

func TestGeneratePatchBinaryFallback(t *testing.T) {
	engine := newTestEngine(t)

	// Plain strings have no nested key/value form
	from := "the quick brown fox jumps over the lazy dog"
	to := "the quick brown fox leaps over the lazy dog"

	patch, err := engine.GeneratePatch(from, to)
	require.NoError(t, err)
	assert.False(t, patch.Structured)

	result, err := engine.ApplyPatch(patch, from)
	require.NoError(t, err)
	assert.Equal(t, to, result)
}

func TestApplyPatchSourceDiverged(t *testing.T) {
	engine := newTestEngine(t)

	from := Document{"id": "e1", "v": float64(1)}
	to := Document{"id": "e1", "v": float64(2)}
	patch, err := engine.GeneratePatch(from, to)
	require.NoError(t, err)

	// The local copy moved on since the patch was generated
	diverged := Document{"id": "e1", "v": float64(99)}
	_, err = engine.ApplyPatch(patch, diverged)
	require.Error(t, err)
	assert.True(t, syncerr.IsCausality(err), "divergence must surface as a causality error")
	assert.False(t, syncerr.IsIntegrity(err))
}

func TestApplyPatchCorruptedTarget(t *testing.T) {
	engine := newTestEngine(t)

	from := Document{"id": "e1", "v": float64(1)}
	to := Document{"id": "e1", "v": float64(2)}
	patch, err := engine.GeneratePatch(from, to)
	require.NoError(t, err)

	// Tamper with the recorded target checksum
	patch.TargetChecksum = "0000000000000000000000000000000000000000000000000000000000000000"

	_, err = engine.ApplyPatch(patch, from)
	require.Error(t, err)
	assert.True(t, syncerr.IsIntegrity(err))
}

func TestArrayDiffIgnoresReordering(t *testing.T) {
	// Items are matched by equality, not position: a pure reorder is a no-op
	ops := diffArrays([]string{"tags"},
		[]interface{}{"a", "b", "c"},
		[]interface{}{"c", "a", "b"})
	assert.Empty(t, ops)
}

func TestArrayDiffDuplicatesAreInterchangeable(t *testing.T) {
	ops := diffArrays([]string{"tags"},
		[]interface{}{"a", "a", "b"},
		[]interface{}{"a", "b"})

	require.Len(t, ops, 1)
	assert.Equal(t, model.PatchOpRemoveArrayItems, ops[0].Kind)
	assert.Len(t, ops[0].Indices, 1)
}

func TestIncrementFieldForNumericChange(t *testing.T) {
	ops := diffDocuments(nil,
		Document{"count": float64(3)},
		Document{"count": float64(10)})

	require.Len(t, ops, 1)
	assert.Equal(t, model.PatchOpIncrementField, ops[0].Kind)
	assert.Equal(t, float64(7), ops[0].Amount)
}

func TestNumericChangeWithInexactDeltaRoundTrips(t *testing.T) {
	engine := newTestEngine(t)

	// 0.7 - 3 rounds: 3 + (0.7-3) is 0.7000000000000002, not 0.7. The diff
	// must fall back to a plain set so the target checksum still matches.
	tests := []struct {
		name     string
		from, to float64
	}{
		{"integer to fraction", 3, 0.7},
		{"fraction to fraction", 0.1, 0.3},
		{"large to small", 1e16, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from := Document{"id": "m1", "value": tt.from}
			to := Document{"id": "m1", "value": tt.to}

			patch, err := engine.GeneratePatch(from, to)
			require.NoError(t, err)

			result, err := engine.ApplyPatch(patch, from)
			require.NoError(t, err)
			assert.Equal(t, tt.to, result.(Document)["value"])
		})
	}
}

func TestApplyStructuredDoesNotMutateInput(t *testing.T) {
	original := Document{"id": "e1", "nested": map[string]interface{}{"v": "old"}}
	ops := []model.PatchOperation{{
		Kind:  model.PatchOpSetField,
		Path:  []string{"nested", "v"},
		Value: "new",
	}}

	result, err := applyStructured(original, ops)
	require.NoError(t, err)

	assert.Equal(t, "new", result["nested"].(map[string]interface{})["v"])
	assert.Equal(t, "old", original["nested"].(map[string]interface{})["v"])
}

func TestRemoveIndicesOutOfRange(t *testing.T) {
	_, err := removeIndices([]interface{}{"a"}, []int{3})
	require.Error(t, err)
	assert.True(t, syncerr.IsIntegrity(err))
}

func TestBinaryOpsRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		source string
		target string
	}{
		{"identical", "same bytes", "same bytes"},
		{"prefix kept", "hello world", "hello there"},
		{"complete rewrite", "aaaa", "zzzzzzzz"},
		{"target empty", "something", ""},
		{"source empty", "", "brand new content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := generateBinaryOps([]byte(tt.source), []byte(tt.target), 4)
			result, err := applyBinary([]byte(tt.source), ops)
			require.NoError(t, err)
			assert.Equal(t, tt.target, string(result))
		})
	}
}

func TestSizeReductionClampedAtZero(t *testing.T) {
	// A tiny target with a verbose patch must not report negative reduction
	ops := []model.PatchOperation{{
		Kind:  model.PatchOpSetField,
		Path:  []string{"some", "deep", "path"},
		Value: "x",
	}}
	assert.Equal(t, float64(0), sizeReduction(ops, 2))
}
