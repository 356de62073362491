package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

// Structured diffing walks two documents field by field and emits path
// addressed operations. Arrays are diffed as unordered multisets: items are
// matched by deep equality, not position, so a pure reorder produces no
// operations and duplicate equal values are interchangeable. This is a
// documented approximation, not a general sequence alignment.

// diffDocuments produces the operations transforming old into new
func diffDocuments(path []string, oldDoc, newDoc Document) []model.PatchOperation {
	var ops []model.PatchOperation

	keys := make([]string, 0, len(oldDoc)+len(newDoc))
	seen := make(map[string]struct{})
	for key := range oldDoc {
		keys = append(keys, key)
		seen[key] = struct{}{}
	}
	for key := range newDoc {
		if _, dup := seen[key]; !dup {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		fieldPath := append(append([]string{}, path...), key)
		oldValue, inOld := oldDoc[key]
		newValue, inNew := newDoc[key]

		switch {
		case !inNew:
			ops = append(ops, model.PatchOperation{Kind: model.PatchOpDeleteField, Path: fieldPath})
		case !inOld:
			ops = append(ops, model.PatchOperation{Kind: model.PatchOpSetField, Path: fieldPath, Value: newValue})
		default:
			ops = append(ops, diffValues(fieldPath, oldValue, newValue)...)
		}
	}
	return ops
}

// diffValues diffs two values already known to share a path
func diffValues(path []string, oldValue, newValue interface{}) []model.PatchOperation {
	if oldNested, ok := oldValue.(map[string]interface{}); ok {
		if newNested, ok := newValue.(map[string]interface{}); ok {
			return diffDocuments(path, oldNested, newNested)
		}
	}
	if oldArr, ok := oldValue.([]interface{}); ok {
		if newArr, ok := newValue.([]interface{}); ok {
			return diffArrays(path, oldArr, newArr)
		}
	}
	if oldNum, ok := oldValue.(float64); ok {
		if newNum, ok := newValue.(float64); ok {
			if oldNum == newNum {
				return nil
			}
			// Float addition rounds, so the delta only qualifies as an
			// increment when it reconstructs the new value exactly.
			// Otherwise the apply side would produce a near-miss that
			// fails the target checksum.
			amount := newNum - oldNum
			if oldNum+amount == newNum {
				return []model.PatchOperation{{
					Kind:   model.PatchOpIncrementField,
					Path:   path,
					Amount: amount,
				}}
			}
			return []model.PatchOperation{{Kind: model.PatchOpSetField, Path: path, Value: newNum}}
		}
	}
	if reflect.DeepEqual(oldValue, newValue) {
		return nil
	}
	return []model.PatchOperation{{Kind: model.PatchOpSetField, Path: path, Value: newValue}}
}

// diffArrays matches elements by deep equality ignoring position. Removed
// values are dropped by index, added values are appended.
func diffArrays(path []string, oldArr, newArr []interface{}) []model.PatchOperation {
	newCounts := make(map[string]int)
	for _, value := range newArr {
		newCounts[canonicalKey(value)]++
	}

	var removedIndices []int
	for i, value := range oldArr {
		key := canonicalKey(value)
		if newCounts[key] > 0 {
			newCounts[key]--
		} else {
			removedIndices = append(removedIndices, i)
		}
	}

	oldCounts := make(map[string]int)
	for _, value := range oldArr {
		oldCounts[canonicalKey(value)]++
	}
	var added []interface{}
	for _, value := range newArr {
		key := canonicalKey(value)
		if oldCounts[key] > 0 {
			oldCounts[key]--
		} else {
			added = append(added, value)
		}
	}

	var ops []model.PatchOperation
	if len(removedIndices) > 0 {
		ops = append(ops, model.PatchOperation{
			Kind:    model.PatchOpRemoveArrayItems,
			Path:    path,
			Indices: removedIndices,
		})
	}
	if len(added) > 0 {
		ops = append(ops, model.PatchOperation{
			Kind:   model.PatchOpAppendArray,
			Path:   path,
			Values: added,
		})
	}
	return ops
}

// applyStructured applies field-level operations to a deep copy of the
// document, leaving the input untouched
func applyStructured(doc Document, ops []model.PatchOperation) (Document, error) {
	copied, err := deepCopy(doc)
	if err != nil {
		return nil, err
	}

	for _, op := range ops {
		if err := applyFieldOp(copied, op); err != nil {
			return nil, err
		}
	}
	return copied, nil
}

func deepCopy(doc Document) (Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, syncerr.Internal("failed to copy document", err)
	}
	var copied Document
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, syncerr.Internal("failed to copy document", err)
	}
	if copied == nil {
		copied = make(Document)
	}
	return copied, nil
}

func applyFieldOp(doc Document, op model.PatchOperation) error {
	if len(op.Path) == 0 {
		return syncerr.CorruptedPatch("patch operation has empty path", nil)
	}

	parent, err := resolveParent(doc, op.Path, op.Kind == model.PatchOpSetField)
	if err != nil {
		return err
	}
	leaf := op.Path[len(op.Path)-1]

	switch op.Kind {
	case model.PatchOpSetField:
		parent[leaf] = op.Value

	case model.PatchOpDeleteField:
		delete(parent, leaf)

	case model.PatchOpIncrementField:
		current, ok := parent[leaf].(float64)
		if !ok {
			return syncerr.CorruptedPatch(
				fmt.Sprintf("increment target %v is not numeric", op.Path), nil)
		}
		parent[leaf] = current + op.Amount

	case model.PatchOpAppendArray:
		arr, ok := parent[leaf].([]interface{})
		if !ok {
			if parent[leaf] != nil {
				return syncerr.CorruptedPatch(
					fmt.Sprintf("append target %v is not an array", op.Path), nil)
			}
			arr = nil
		}
		parent[leaf] = append(arr, op.Values...)

	case model.PatchOpRemoveArrayItems:
		arr, ok := parent[leaf].([]interface{})
		if !ok {
			return syncerr.CorruptedPatch(
				fmt.Sprintf("removal target %v is not an array", op.Path), nil)
		}
		removed, err := removeIndices(arr, op.Indices)
		if err != nil {
			return err
		}
		parent[leaf] = removed

	default:
		return syncerr.CorruptedPatch(fmt.Sprintf("unexpected field operation %q", op.Kind), nil)
	}
	return nil
}

// resolveParent walks to the map holding the final path segment.
// When create is set, missing intermediate maps are created.
func resolveParent(doc Document, path []string, create bool) (Document, error) {
	current := doc
	for _, segment := range path[:len(path)-1] {
		next, ok := current[segment].(map[string]interface{})
		if !ok {
			if !create || current[segment] != nil {
				return nil, syncerr.CorruptedPatch(
					fmt.Sprintf("path %v does not resolve to a nested document", path), nil)
			}
			next = make(map[string]interface{})
			current[segment] = next
		}
		current = next
	}
	return current, nil
}

func removeIndices(arr []interface{}, indices []int) ([]interface{}, error) {
	drop := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(arr) {
			return nil, syncerr.CorruptedPatch(
				fmt.Sprintf("removal index %d out of range for array of %d", i, len(arr)), nil)
		}
		drop[i] = struct{}{}
	}

	out := make([]interface{}, 0, len(arr)-len(drop))
	for i, value := range arr {
		if _, gone := drop[i]; !gone {
			out = append(out, value)
		}
	}
	return out, nil
}

// generateBinaryOps produces a chunked binary diff: fixed-size windows of
// the target are located in the source and emitted as copies (greedily
// extended past the window) or inserted verbatim when no match exists.
func generateBinaryOps(source, target []byte, chunkSize int) []model.PatchOperation {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	var ops []model.PatchOperation
	pos := 0
	for pos < len(target) {
		end := pos + chunkSize
		if end > len(target) {
			end = len(target)
		}
		chunk := target[pos:end]

		offset := bytes.Index(source, chunk)
		if offset < 0 {
			ops = append(ops, model.PatchOperation{
				Kind:  model.PatchOpInsert,
				Bytes: append([]byte{}, chunk...),
			})
			pos = end
			continue
		}

		// Extend the match as far as the bytes keep agreeing
		length := len(chunk)
		for offset+length < len(source) && pos+length < len(target) &&
			source[offset+length] == target[pos+length] {
			length++
		}
		ops = append(ops, model.PatchOperation{
			Kind:   model.PatchOpCopy,
			Offset: offset,
			Length: length,
		})
		pos += length
	}
	return ops
}

// applyBinary replays binary operations against the source bytes
func applyBinary(source []byte, ops []model.PatchOperation) ([]byte, error) {
	var out []byte
	cursor := 0

	for _, op := range ops {
		switch op.Kind {
		case model.PatchOpRetain:
			if cursor+op.Count > len(source) {
				return nil, syncerr.CorruptedPatch("retain overruns source data", nil)
			}
			out = append(out, source[cursor:cursor+op.Count]...)
			cursor += op.Count

		case model.PatchOpDelete:
			if cursor+op.Count > len(source) {
				return nil, syncerr.CorruptedPatch("delete overruns source data", nil)
			}
			cursor += op.Count

		case model.PatchOpInsert:
			out = append(out, op.Bytes...)

		case model.PatchOpCopy:
			if op.Offset < 0 || op.Offset+op.Length > len(source) {
				return nil, syncerr.CorruptedPatch("copy range outside source data", nil)
			}
			out = append(out, source[op.Offset:op.Offset+op.Length]...)

		default:
			return nil, syncerr.CorruptedPatch(fmt.Sprintf("unexpected binary operation %q", op.Kind), nil)
		}
	}
	return out, nil
}
