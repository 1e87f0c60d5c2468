package record

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	s, err := newState("user", "", `{"name":"alice","age":31}`)
	require.NoError(t, err)
	assert.Equal(t, "user", s.Type())
	assert.NotEqual(t, uuid.Nil, s.ID())
	assert.Equal(t, "alice", s.Get("name"))
	assert.EqualValues(t, 31, s.Get("age"))

	id := uuid.New()
	s, err = newState("user", id.String(), `{}`)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID())

	_, err = newState("user", "", `[1,2]`)
	assert.Error(t, err)
	_, err = newState("user", "not-a-uuid", `{}`)
	assert.Error(t, err)
}
