package model

import "time"

// Operation classifies a detected entity mutation
type Operation string

const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpMove    Operation = "move"
	OpRestore Operation = "restore"
)

// DeltaChange is one detected mutation of an identifiable entity.
// Version is strictly increasing per EntityID within one replica's change
// log, never reused across creates and deletes. Checksum is the content hash
// of the post-change entity, except for deletes where it hashes the
// pre-delete entity. Immutable once created.
type DeltaChange struct {
	ID              string                 `json:"id"`
	EntityID        string                 `json:"entity_id"`
	EntityType      string                 `json:"entity_type"`
	Operation       Operation              `json:"operation"`
	Timestamp       time.Time              `json:"timestamp"`
	Version         uint64                 `json:"version"`
	PreviousVersion uint64                 `json:"previous_version,omitempty"`
	Checksum        string                 `json:"checksum"`
	Patch           *DeltaPatch            `json:"patch,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// PatchOpKind identifies a patch operation variant
type PatchOpKind string

const (
	// Binary-level operations (fallback path)
	PatchOpRetain PatchOpKind = "retain"
	PatchOpInsert PatchOpKind = "insert"
	PatchOpDelete PatchOpKind = "delete"
	PatchOpCopy   PatchOpKind = "copy"

	// Structured field-level operations (preferred path)
	PatchOpSetField         PatchOpKind = "set_field"
	PatchOpDeleteField      PatchOpKind = "delete_field"
	PatchOpIncrementField   PatchOpKind = "increment_field"
	PatchOpAppendArray      PatchOpKind = "append_array"
	PatchOpRemoveArrayItems PatchOpKind = "remove_array_items"
)

// PatchOperation is a single step of a delta patch. Which fields are
// meaningful depends on Kind.
type PatchOperation struct {
	Kind PatchOpKind `json:"kind"`

	// Binary operations
	Count  int    `json:"count,omitempty"`
	Bytes  []byte `json:"bytes,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Length int    `json:"length,omitempty"`

	// Structured operations. Path segments address nested fields;
	// Values carries set/append payloads, Indices removal positions.
	Path    []string      `json:"path,omitempty"`
	Value   interface{}   `json:"value,omitempty"`
	Amount  float64       `json:"amount,omitempty"`
	Values  []interface{} `json:"values,omitempty"`
	Indices []int         `json:"indices,omitempty"`
}

// DeltaPatch transforms data matching SourceChecksum into data matching
// TargetChecksum by applying Operations in order. Both checksums are
// verified explicitly around application. Structured marks the preferred
// field-level form; when false the operations are binary-level.
type DeltaPatch struct {
	Operations     []PatchOperation `json:"operations"`
	Structured     bool             `json:"structured"`
	SourceChecksum string           `json:"source_checksum"`
	TargetChecksum string           `json:"target_checksum"`
	SizeReduction  float64          `json:"size_reduction"`
}
