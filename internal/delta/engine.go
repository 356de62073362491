package delta

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/clock"
	"github.com/driftsync/driftsync/internal/metrics"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
	"github.com/driftsync/driftsync/internal/util"
)

const (
	defaultMaxHistoryCount   = 1000
	defaultChunkSize         = 64
	defaultChecksumCacheSize = 4096
)

// Config holds delta engine configuration
type Config struct {
	ReplicaID         string
	MaxHistoryCount   int
	ChunkSize         int
	ChecksumCacheSize int
}

// Engine detects changes between entity snapshots, produces and applies
// compact checksum-verified patches, and maintains a bounded change log
// keyed by a monotonic per-entity version.
//
// All mutable state is guarded by a single mutex: one engine instance is a
// single serialized execution context.
type Engine struct {
	mu sync.Mutex

	replicaID   string
	maxHistory  int
	chunkSize   int
	changeLog   []*model.DeltaChange
	versions    map[string]uint64 // entityID -> last issued version
	checksums   *lru.Cache[string, string]
	vectorClock *clock.VectorClock
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewEngine creates a delta sync engine
func NewEngine(cfg *Config, logger *zap.Logger) (*Engine, error) {
	if cfg.ReplicaID == "" {
		return nil, syncerr.InvalidArgument("replica id is required", nil)
	}
	if cfg.MaxHistoryCount <= 0 {
		cfg.MaxHistoryCount = defaultMaxHistoryCount
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChecksumCacheSize <= 0 {
		cfg.ChecksumCacheSize = defaultChecksumCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, string](cfg.ChecksumCacheSize)
	if err != nil {
		return nil, syncerr.Internal("failed to create checksum cache", err)
	}

	return &Engine{
		replicaID:   cfg.ReplicaID,
		maxHistory:  cfg.MaxHistoryCount,
		chunkSize:   cfg.ChunkSize,
		versions:    make(map[string]uint64),
		checksums:   cache,
		vectorClock: clock.New(),
		logger:      logger,
	}, nil
}

// SetMetrics installs the metrics sink. Optional; a nil sink disables
// instrumentation.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// DetectChanges compares two snapshots of one entity and records the
// resulting change. Returns nil when both snapshots are nil or when their
// checksums are equal (a no-op). The version counter is incremented for
// every change of the entity regardless of operation, never reused.
func (e *Engine) DetectChanges(oldEntity, newEntity interface{}, entityType string) (*model.DeltaChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detectLocked(oldEntity, newEntity, entityType)
}

func (e *Engine) detectLocked(oldEntity, newEntity interface{}, entityType string) (*model.DeltaChange, error) {
	if oldEntity == nil && newEntity == nil {
		return nil, nil
	}

	var oldChecksum, newChecksum string
	var err error
	if oldEntity != nil {
		if oldChecksum, err = Checksum(oldEntity); err != nil {
			return nil, err
		}
	}
	if newEntity != nil {
		if newChecksum, err = Checksum(newEntity); err != nil {
			return nil, err
		}
	}
	if oldEntity != nil && newEntity != nil && oldChecksum == newChecksum {
		return nil, nil
	}

	identified := newEntity
	if identified == nil {
		identified = oldEntity
	}
	entityID, err := EntityID(identified)
	if err != nil {
		return nil, err
	}

	change := &model.DeltaChange{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: entityType,
		Timestamp:  time.Now().UTC(),
	}

	switch {
	case oldEntity == nil:
		change.Operation = model.OpCreate
		change.Checksum = newChecksum
	case newEntity == nil:
		change.Operation = model.OpDelete
		// A delete has no post-change entity; record the pre-delete hash
		change.Checksum = oldChecksum
	default:
		change.Operation = model.OpUpdate
		change.Checksum = newChecksum
		patch, err := e.generatePatchLocked(oldEntity, newEntity)
		if err != nil {
			return nil, err
		}
		change.Patch = patch
	}

	e.recordLocked(change)
	if e.metrics != nil {
		e.metrics.ChangesDetectedTotal.WithLabelValues(string(change.Operation)).Inc()
	}
	return change, nil
}

// DetectBatchChanges diffs two collections keyed by entity identity: every
// entity present in new yields a create or update, every entity present
// only in old yields a delete. The result is ordered by timestamp.
func (e *Engine) DetectBatchChanges(oldEntities, newEntities []interface{}, entityType string) ([]*model.DeltaChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldByID := make(map[string]interface{}, len(oldEntities))
	for _, entity := range oldEntities {
		id, err := EntityID(entity)
		if err != nil {
			return nil, err
		}
		oldByID[id] = entity
	}

	var changes []*model.DeltaChange
	seen := make(map[string]struct{}, len(newEntities))
	for _, entity := range newEntities {
		id, err := EntityID(entity)
		if err != nil {
			return nil, err
		}
		seen[id] = struct{}{}

		change, err := e.detectLocked(oldByID[id], entity, entityType)
		if err != nil {
			return nil, err
		}
		if change != nil {
			changes = append(changes, change)
		}
	}

	for _, entity := range oldEntities {
		id, _ := EntityID(entity)
		if _, stillPresent := seen[id]; stillPresent {
			continue
		}
		change, err := e.detectLocked(entity, nil, entityType)
		if err != nil {
			return nil, err
		}
		if change != nil {
			changes = append(changes, change)
		}
	}

	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Timestamp.Before(changes[j].Timestamp)
	})
	return changes, nil
}

// GeneratePatch produces a minimal transformation from one snapshot to
// another. Structured field-level diffing is preferred; a chunked binary
// diff is the fallback for entities with no nested key/value form.
func (e *Engine) GeneratePatch(from, to interface{}) (*model.DeltaPatch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generatePatchLocked(from, to)
}

func (e *Engine) generatePatchLocked(from, to interface{}) (*model.DeltaPatch, error) {
	sourceBytes, err := Encode(from)
	if err != nil {
		return nil, err
	}
	targetBytes, err := Encode(to)
	if err != nil {
		return nil, err
	}

	patch := &model.DeltaPatch{
		SourceChecksum: util.ContentChecksum(sourceBytes),
		TargetChecksum: util.ContentChecksum(targetBytes),
	}

	fromDoc, fromOK := ToDocument(from)
	toDoc, toOK := ToDocument(to)
	if fromOK && toOK {
		patch.Structured = true
		patch.Operations = diffDocuments(nil, fromDoc, toDoc)
	} else {
		patch.Operations = generateBinaryOps(sourceBytes, targetBytes, e.chunkSize)
	}

	patch.SizeReduction = sizeReduction(patch.Operations, len(targetBytes))

	if e.metrics != nil {
		e.metrics.PatchesGeneratedTotal.Inc()
		e.metrics.PatchSizeReduction.Observe(patch.SizeReduction)
	}
	e.logger.Debug("Generated patch",
		zap.Bool("structured", patch.Structured),
		zap.Int("operations", len(patch.Operations)),
		zap.Float64("size_reduction", patch.SizeReduction))
	return patch, nil
}

// sizeReduction reports how much smaller the patch is than the full target,
// clamped at zero when the patch is larger
func sizeReduction(ops []model.PatchOperation, targetSize int) float64 {
	if targetSize == 0 {
		return 0
	}
	encoded, err := json.Marshal(ops)
	if err != nil {
		return 0
	}
	reduction := 1 - float64(len(encoded))/float64(targetSize)
	if reduction < 0 {
		return 0
	}
	return reduction
}

// ApplyPatch transforms data using the patch. The source checksum is
// verified before applying (failing fast when the local copy has diverged)
// and the target checksum after (failing fast on corruption). Either
// mismatch is a hard error, never silently accepted.
func (e *Engine) ApplyPatch(patch *model.DeltaPatch, data interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sourceBytes, err := Encode(data)
	if err != nil {
		return nil, err
	}
	if actual := util.ContentChecksum(sourceBytes); actual != patch.SourceChecksum {
		entityID, _ := EntityID(data)
		if e.metrics != nil {
			e.metrics.PatchFailuresTotal.WithLabelValues("causality").Inc()
		}
		return nil, syncerr.SourceDiverged(entityID, patch.SourceChecksum, actual)
	}

	var result interface{}
	if patch.Structured {
		doc, ok := ToDocument(data)
		if !ok {
			return nil, syncerr.CorruptedPatch("structured patch against non-structured data", nil)
		}
		if result, err = applyStructured(doc, patch.Operations); err != nil {
			return nil, err
		}
	} else {
		resultBytes, err := applyBinary(sourceBytes, patch.Operations)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(resultBytes, &result); err != nil {
			return nil, syncerr.CorruptedPatch("binary patch produced unreadable data", err)
		}
	}

	resultBytes, err := Encode(result)
	if err != nil {
		return nil, err
	}
	if actual := util.ContentChecksum(resultBytes); actual != patch.TargetChecksum {
		if e.metrics != nil {
			e.metrics.PatchFailuresTotal.WithLabelValues("integrity").Inc()
		}
		return nil, syncerr.ChecksumMismatch("patch application", patch.TargetChecksum, actual)
	}
	if e.metrics != nil {
		e.metrics.PatchesAppliedTotal.Inc()
	}
	return result, nil
}

// RecordChange appends an externally constructed change to the log and
// advances the entity's version tracker
func (e *Engine) RecordChange(change *model.DeltaChange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordLocked(change)
}

func (e *Engine) recordLocked(change *model.DeltaChange) {
	previous := e.versions[change.EntityID]
	if change.Version == 0 {
		change.PreviousVersion = previous
		change.Version = previous + 1
	}
	if change.Version > previous {
		e.versions[change.EntityID] = change.Version
	}

	// Causal metadata rides along with every recorded change
	e.vectorClock.Increment(e.replicaID)
	if change.Metadata == nil {
		change.Metadata = make(map[string]interface{})
	}
	change.Metadata["replica_id"] = e.replicaID
	change.Metadata["vector_clock"] = e.vectorClock.Counters()

	e.checksums.Add(change.EntityID, change.Checksum)

	e.changeLog = append(e.changeLog, change)
	if len(e.changeLog) > e.maxHistory {
		evicted := len(e.changeLog) - e.maxHistory
		e.changeLog = append([]*model.DeltaChange{}, e.changeLog[evicted:]...)
		e.logger.Debug("Evicted oldest change log entries", zap.Int("count", evicted))
	}
}

// LastChecksum returns the most recently recorded checksum for an entity,
// if it is still cached
func (e *Engine) LastChecksum(entityID string) (string, bool) {
	return e.checksums.Get(entityID)
}

// ChangesSince returns all logged changes with a version greater than the
// given one, optionally filtered by entity type (empty matches all)
func (e *Engine) ChangesSince(version uint64, entityType string) []*model.DeltaChange {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*model.DeltaChange
	for _, change := range e.changeLog {
		if change.Version <= version {
			continue
		}
		if entityType != "" && change.EntityType != entityType {
			continue
		}
		out = append(out, change)
	}
	return out
}

// PendingChanges returns the full in-memory change log
func (e *Engine) PendingChanges() []*model.DeltaChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*model.DeltaChange{}, e.changeLog...)
}

// ClearSyncedChanges prunes all changes acknowledged up to and including
// the given version
func (e *Engine) ClearSyncedChanges(uptoVersion uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.changeLog[:0]
	for _, change := range e.changeLog {
		if change.Version > uptoVersion {
			kept = append(kept, change)
		}
	}
	cleared := len(e.changeLog) - len(kept)
	e.changeLog = kept

	if cleared > 0 {
		e.logger.Debug("Cleared synced changes",
			zap.Int("count", cleared),
			zap.Uint64("upto_version", uptoVersion))
	}
}

// VectorClock returns a copy of the engine's causal clock
func (e *Engine) VectorClock() *clock.VectorClock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vectorClock.Copy()
}
