package delta

import (
	"encoding/json"
	"fmt"

	"github.com/driftsync/driftsync/internal/syncerr"
	"github.com/driftsync/driftsync/internal/util"
)

// Document is the structured form of an entity: nested field-named data that
// patch operations can address by path. Two logically equal entities must
// encode identically or checksum comparison spuriously detects changes;
// encoding/json emits map keys in sorted order, which gives us that.
type Document = map[string]interface{}

// Encode serializes an entity deterministically. Entities with a structured
// form are canonicalized to their document representation first so that a
// typed struct and its decoded map form produce identical bytes.
func Encode(entity interface{}) ([]byte, error) {
	data, err := json.Marshal(canonicalize(entity))
	if err != nil {
		return nil, syncerr.InvalidArgument("entity is not serializable", err)
	}
	return data, nil
}

// canonicalize reduces an entity to its document form when it has one
func canonicalize(entity interface{}) interface{} {
	if doc, ok := ToDocument(entity); ok {
		return doc
	}
	return entity
}

// Checksum returns the content checksum of an entity's canonical encoding
func Checksum(entity interface{}) (string, error) {
	data, err := Encode(entity)
	if err != nil {
		return "", err
	}
	return util.ContentChecksum(data), nil
}

// ToDocument converts an arbitrary entity into its structured form via a
// JSON round-trip. Returns false if the entity is not representable as
// nested key/value data (the binary diff path applies then).
func ToDocument(entity interface{}) (Document, bool) {
	if doc, ok := entity.(Document); ok {
		return doc, true
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// EntityID extracts the identity of an entity from its "id" field
func EntityID(entity interface{}) (string, error) {
	doc, ok := ToDocument(entity)
	if !ok {
		return "", syncerr.InvalidArgument("entity has no structured form", nil)
	}
	id, ok := doc["id"].(string)
	if !ok || id == "" {
		return "", syncerr.InvalidArgument("entity has no string id field", nil)
	}
	return id, nil
}

// canonicalKey returns a deterministic string key for deep-equality grouping
// of arbitrary values (used by the unordered array diff)
func canonicalKey(value interface{}) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("!unencodable:%v", value)
	}
	return string(data)
}
