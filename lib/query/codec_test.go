package query

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryJSONKeepsStructure(t *testing.T) {
	sub := From("author").Where(Eq("name", "Alice"))
	q := From("article").
		Where(And(
			Eq("author", sub),
			Or(Eq("state", Missing), Gt("count", 5)),
			Not(Eq(KeyID, uuid.New())),
		)).
		SortDescending("count").
		WithOption("hint", "fast").
		ReferenceOnly().
		NoFunnelCache()

	data, err := json.Marshal(q)
	require.NoError(t, err)

	var decoded Query
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, q.Key(), decoded.Key())
	assert.True(t, decoded.IsReferenceOnly())
	assert.True(t, decoded.IsFunnelCacheDisabled())

	author := decoded.Predicate().(*CompoundPredicate).Children()[0].(*ComparisonPredicate)
	require.NotNil(t, author.FindValueQuery())
	assert.Equal(t, sub.Key(), author.FindValueQuery().Key())
}

func TestUnmarshalNullPredicate(t *testing.T) {
	p, err := UnmarshalPredicate([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, p)
}
