package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddThenRemoveLeavesEmptyCollection(t *testing.T) {
	s := New("article")

	require.NoError(t, Add{Field: "tags", Value: "go"}.Execute(s))
	require.NoError(t, Remove{Field: "tags", Value: "go"}.Execute(s))

	assert.True(t, s.Has("tags"))
	assert.Equal(t, []any{}, s.Get("tags"))
}

func TestReplaceMismatchLeavesFieldUntouched(t *testing.T) {
	s := New("article")
	s.Put("status", "draft")

	err := Replace{Field: "status", Old: "published", New: "archived"}.Execute(s)

	var replacement *ReplacementError
	require.ErrorAs(t, err, &replacement)
	assert.Equal(t, "status", replacement.Field)
	assert.Equal(t, "published", replacement.OldValue)
	assert.Equal(t, "archived", replacement.NewValue)
	assert.Equal(t, "draft", s.Get("status"))
}

func TestReplaceMatch(t *testing.T) {
	s := New("article")
	s.Put("count", 1)

	// numbers compare by value, not by go type
	require.NoError(t, Replace{Field: "count", Old: 1.0, New: 2}.Execute(s))
	assert.Equal(t, 2, s.Get("count"))

	require.NoError(t, Replace{Field: "unset", Old: nil, New: "x"}.Execute(s))
	assert.Equal(t, "x", s.Get("unset"))
}

func TestIncrement(t *testing.T) {
	s := New("article")
	s.Put("title", "not a number")

	require.NoError(t, Increment{Field: "views", Delta: 2}.Execute(s))
	require.NoError(t, Increment{Field: "views", Delta: 3}.Execute(s))
	require.NoError(t, Increment{Field: "title", Delta: 1}.Execute(s))

	assert.Equal(t, 5.0, s.Get("views"))
	assert.Equal(t, 1.0, s.Get("title"))
}

func TestAddToNonCollection(t *testing.T) {
	s := New("article")
	s.Put("tags", "single")

	require.NoError(t, Add{Field: "tags", Value: "go"}.Execute(s))
	assert.Equal(t, []any{"go"}, s.Get("tags"))

	// remove on a non collection is a no-op
	s.Put("title", "x")
	require.NoError(t, Remove{Field: "title", Value: "x"}.Execute(s))
	assert.Equal(t, "x", s.Get("title"))
}

func TestDottedPaths(t *testing.T) {
	s := New("article")
	s.Put("author.name", "Alice")

	assert.Equal(t, "Alice", s.Get("author.name"))
	assert.Equal(t, map[string]any{"name": "Alice"}, s.Get("author"))
	assert.Nil(t, s.Get("author.name.first"))

	s.Put("author.name", nil)
	assert.False(t, s.Has("author.name"))
}

func TestAtomicallyQueuesOperations(t *testing.T) {
	s := New("counter")
	s.IncrementAtomically("n", 1)
	s.AddAtomically("seen", "a")
	s.ReplaceAtomically("owner", "me")

	assert.Equal(t, 1.0, s.Get("n"))
	assert.Equal(t, "me", s.Get("owner"))
	require.Len(t, s.AtomicOperations(), 3)
	assert.Equal(t, Replace{Field: "owner", Old: nil, New: "me"}, s.AtomicOperations()[2])

	s.ClearAtomicOperations()
	assert.Empty(t, s.AtomicOperations())
}

func TestMergeAgainstStoredRow(t *testing.T) {
	stored := New("counter")
	stored.Put("n", 10)
	stored.Put("owner", "someone")

	// the local copy was loaded before n reached 10
	local := NewWithID("counter", stored.ID())
	local.Put("n", 4)
	local.Put("label", "x")
	local.IncrementAtomically("n", 1)

	values, err := local.Merge(stored)
	require.NoError(t, err)
	assert.Equal(t, 11.0, values["n"])
	assert.Equal(t, "x", values["label"])

	// a stale replace must fail against the stored row
	local.ReplaceAtomically("owner", "me")
	_, err = local.Merge(stored)
	var replacement *ReplacementError
	require.ErrorAs(t, err, &replacement)
	assert.Same(t, local, replacement.State)
}

func TestMergeNewRow(t *testing.T) {
	s := New("lock")
	s.Put("key", "k")
	s.ReplaceAtomically("lockId", "abc")

	values, err := s.Merge(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "k", "lockId": "abc"}, values)
}

func TestJSONCarriesOperations(t *testing.T) {
	s := New("counter")
	s.IncrementAtomically("n", 2)
	s.ReplaceAtomically("owner", "me")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s.ID(), decoded.ID())
	assert.Equal(t, s.AtomicOperations(), decoded.AtomicOperations())
	assert.Equal(t, 2.0, decoded.Get("n"))
}

func TestCloneIsDeep(t *testing.T) {
	s := New("article")
	s.Put("author.name", "Alice")

	c := s.Clone()
	c.Put("author.name", "Bob")

	assert.Equal(t, "Alice", s.Get("author.name"))
}
