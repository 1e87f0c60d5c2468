package query

import (
	"context"
	"strings"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFields is a minimal Fields implementation
type testFields struct {
	id     uuid.UUID
	typ    string
	values map[string]any
}

func (f testFields) ID() uuid.UUID          { return f.id }
func (f testFields) Type() string           { return f.typ }
func (f testFields) Values() map[string]any { return f.values }
func (f testFields) Get(path string) any {
	var cur any = f.values
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func newFields(values map[string]any) testFields {
	return testFields{id: uuid.New(), typ: "article", values: values}
}

func TestMatch(t *testing.T) {
	f := newFields(map[string]any{
		"title":  "Hello World",
		"count":  3,
		"tags":   []any{"go", "db"},
		"author": map[string]any{"name": "Alice"},
	})

	tests := []struct {
		name string
		p    Predicate
		want bool
	}{
		{"eq", Eq("count", 3.0), true},
		{"eq any value", Eq("count", 1, 2, 3), true},
		{"eq collection element", Eq("tags", "db"), true},
		{"eq dotted path", Eq("author.name", "Alice"), true},
		{"eq ignore case", EqIgnoreCase("author.name", "alice"), true},
		{"eq case sensitive", Eq("author.name", "alice"), false},
		{"not eq", NotEq("count", 4), true},
		{"lt", Lt("count", 4), true},
		{"gte", Gte("count", 3), true},
		{"gt", Gt("count", 3), false},
		{"starts with", StartsWith("title", "Hello"), true},
		{"contains", Contains("title", "lo Wo"), true},
		{"matches", Matches("title", "world"), true},
		{"matches all", MatchesAll("title", "hello planet"), false},
		{"matches star", Matches("title", "*"), true},
		{"missing", Eq("unset", Missing), true},
		{"nil", Eq("unset", nil), true},
		{"missing set field", Eq("title", Missing), false},
		{"id", Eq(KeyID, f.id), true},
		{"type", Eq(KeyType, TypeName("article")), true},
		{"and", And(Eq("count", 3), Eq("tags", "go")), true},
		{"or", Or(Eq("count", 1), Eq("tags", "go")), true},
		{"not", Not(Eq("count", 3)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.p, f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, tt.p.String())
		})
	}
}

func TestMatchUnsupportedOperator(t *testing.T) {
	p, err := NewComparison("near", false, "location", []any{"x"})
	require.NoError(t, err)

	_, err = Match(p, newFields(nil))
	var unsupported *UnsupportedOperatorError
	assert.ErrorAs(t, err, &unsupported)
}

func TestMatchQueryGroup(t *testing.T) {
	f := newFields(map[string]any{"a": 1})

	ok, err := MatchQuery(From("article").Where(Eq("a", 1)), f)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = MatchQuery(From("author").Where(Eq("a", 1)), f)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSortStates(t *testing.T) {
	records := []testFields{
		newFields(map[string]any{"n": 2}),
		newFields(map[string]any{}),
		newFields(map[string]any{"n": 10}),
		newFields(map[string]any{"n": 1}),
	}

	require.NoError(t, SortStates([]Sorter{{Op: SortDescending, Field: "n"}}, records))
	var got []any
	for _, r := range records {
		got = append(got, r.Get("n"))
	}
	assert.Equal(t, []any{10, 2, 1, nil}, got)

	err := SortStates([]Sorter{{Op: "closest", Field: "n"}}, records)
	var unsupported *UnsupportedSorterError
	assert.ErrorAs(t, err, &unsupported)
}

// staticResolver resolves every sub-query to the same ids
type staticResolver struct {
	ids    []uuid.UUID
	limits []int
}

func (r *staticResolver) ResolveIDs(_ context.Context, _ *Query, limit int) ([]uuid.UUID, error) {
	r.limits = append(r.limits, limit)
	return r.ids, nil
}

func TestResolvePredicate(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	r := &staticResolver{ids: ids}

	sub := From("author").Where(Eq("name", "Alice"))
	p := And(Eq("title", "x"), Eq("author", sub))

	resolved, err := ResolvePredicate(context.Background(), p, r)
	require.NoError(t, err)

	children := resolved.(*CompoundPredicate).Children()
	assert.Same(t, p.(*CompoundPredicate).Children()[0], children[0])
	assert.Equal(t, []any{ids[0], ids[1]}, children[1].(*ComparisonPredicate).Values())
	assert.Equal(t, []int{DefaultSubQueryResolveLimit}, r.limits)

	// the original still holds the sub-query
	assert.NotNil(t, p.(*CompoundPredicate).Children()[1].(*ComparisonPredicate).FindValueQuery())
}

func TestResolveEmptySubQuery(t *testing.T) {
	resolved, err := ResolvePredicate(context.Background(), Eq("author", From("author")), &staticResolver{})
	require.NoError(t, err)

	ok, err := Match(resolved, newFields(map[string]any{"author": util.NameUUID("x")}))
	require.NoError(t, err)
	assert.False(t, ok)
}
