package crdt

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sortedElements[T int | string](elems []T) []T {
	out := append([]T(nil), elems...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestGSetAddAndContains(t *testing.T) {
	s := NewGSet[string]()
	assert.False(t, s.Contains("x"))

	s.Add("a", "x")
	s.Add("a", "y")
	s.Add("a", "x") // duplicate add is a no-op for membership

	assert.True(t, s.Contains("x"))
	assert.Equal(t, 2, s.Len())
}

func TestGSetMergeIsUnion(t *testing.T) {
	a := NewGSet[int]()
	a.Add("a", 1)
	a.Add("a", 2)

	b := NewGSet[int]()
	b.Add("b", 2)
	b.Add("b", 3)

	merged := a.Merge(b)
	assert.Equal(t, []int{1, 2, 3}, sortedElements(merged.Elements()))

	// Commutativity and idempotence
	assert.Equal(t, sortedElements(merged.Elements()), sortedElements(b.Merge(a).Elements()))
	assert.Equal(t, sortedElements(a.Elements()), sortedElements(a.Merge(a).Elements()))
}

func TestORSetAddRemove(t *testing.T) {
	s := NewORSet[string]()
	s.Add("a", "x")
	assert.True(t, s.Contains("x"))

	s.Remove("a", "x")
	assert.False(t, s.Contains("x"))

	// Re-adding after remove makes it visible again under a fresh tag
	s.Add("a", "x")
	assert.True(t, s.Contains("x"))
}

// The classic observed-remove guarantee: a remove only removes the tags it
// has seen, so a concurrent add of the same logical value survives the merge.
func TestORSetObservedRemove(t *testing.T) {
	origin := NewORSet[string]()
	origin.Add("origin", "doc")

	// Replica A observes the add and removes the element
	replicaA := origin.Merge(NewORSet[string]())
	replicaA.Remove("A", "doc")

	// Replica B concurrently adds the same logical value
	replicaB := origin.Merge(NewORSet[string]())
	replicaB.Add("B", "doc")

	merged := replicaA.Merge(replicaB)
	assert.True(t, merged.Contains("doc"), "concurrent add must survive observed remove")
	assert.Equal(t, []string{"doc"}, merged.Elements())

	assert.True(t, replicaB.Merge(replicaA).Contains("doc"))
}

func TestORSetDuplicateTagsProjectOnce(t *testing.T) {
	s := NewORSet[string]()
	s.Add("a", "x")
	s.Add("b", "x")

	assert.Equal(t, []string{"x"}, s.Elements())

	// Remove tombstones both visible tags
	s.Remove("a", "x")
	assert.False(t, s.Contains("x"))
}

func TestORSetMergeProperties(t *testing.T) {
	a := NewORSet[int]()
	a.Add("a", 1)
	b := NewORSet[int]()
	b.Add("b", 2)
	c := NewORSet[int]()
	c.Add("c", 3)

	left := a.Merge(b).Merge(c)
	right := a.Merge(b.Merge(c))
	assert.Equal(t, sortedElements(left.Elements()), sortedElements(right.Elements()))
	assert.True(t, left.Clock.Equals(right.Clock))

	same := a.Merge(a)
	assert.Equal(t, len(a.Added), len(same.Added))
	assert.Equal(t, sortedElements(a.Elements()), sortedElements(same.Elements()))
}
