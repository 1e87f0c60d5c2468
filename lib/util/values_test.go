package util

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	id := uuid.New()
	now := time.UnixMilli(1700000000000)

	assert.True(t, Equal(1, 1.0))
	assert.True(t, Equal(int64(7), float64(7)))
	assert.True(t, Equal(id, id.String()))
	assert.True(t, Equal(now, float64(now.UnixMilli())))
	assert.True(t, Equal(nil, nil))
	assert.True(t, Equal([]string{"a", "b"}, []any{"a", "b"}))
	assert.True(t, Equal(map[string]any{"x": 1}, map[string]any{"x": 1.0}))

	assert.False(t, Equal("1", 1))
	assert.False(t, Equal(nil, 0))
	assert.False(t, Equal([]any{"a"}, []any{"a", "b"}))
	assert.False(t, Equal(map[string]any{"x": 1}, map[string]any{"y": 1}))
}

func TestCompare(t *testing.T) {
	c, ok := Compare(2, 10.5)
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare("b", "a")
	assert.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = Compare(nil, 1)
	assert.False(t, ok)
}

func TestJitter(t *testing.T) {
	r := NewRand()
	for i := 0; i < 1000; i++ {
		v := Jitter(r, 100, 0.2)
		if v < 80 || v > 120 {
			t.Fatalf("jitter out of range: %f", v)
		}
	}
	assert.Equal(t, 100.0, Jitter(r, 100, 0))
}

func TestNameUUID(t *testing.T) {
	assert.Equal(t, NameUUID("key"), NameUUID("key"))
	assert.NotEqual(t, NameUUID("key"), NameUUID("other"))
}

func TestDeepCopy(t *testing.T) {
	orig := map[string]any{"list": []any{1, map[string]any{"a": "b"}}}
	cp := DeepCopy(orig).(map[string]any)
	cp["list"].([]any)[1].(map[string]any)["a"] = "changed"
	assert.Equal(t, "b", orig["list"].([]any)[1].(map[string]any)["a"])
}
