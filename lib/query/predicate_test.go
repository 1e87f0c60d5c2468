package query

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

type color int

func (c color) Name() string {
	return [...]string{"red", "green"}[c]
}

type record struct{ id uuid.UUID }

func (r record) ID() uuid.UUID { return r.id }

func TestCombineFlattensSameOperator(t *testing.T) {
	a, b, c := Eq("a", 1), Eq("b", 2), Eq("c", 3)

	left := NewCompound(OpAnd, a, b)
	combined := Combine(OpAnd, left, c)

	compound, ok := combined.(*CompoundPredicate)
	require.True(t, ok)
	assert.Len(t, compound.Children(), len(left.Children())+1)
	// the original node must not change
	assert.Len(t, left.Children(), 2)

	other := Combine(OpOr, left, c).(*CompoundPredicate)
	assert.Len(t, other.Children(), 2)
}

func TestCombineNilSides(t *testing.T) {
	a := Eq("a", 1)

	assert.Same(t, a, Combine(OpAnd, nil, a))
	assert.Same(t, a, Combine(OpOr, a, nil))
	assert.Nil(t, Combine(OpAnd, nil, nil))

	not, ok := Combine(OpNot, nil, a).(*CompoundPredicate)
	require.True(t, ok)
	assert.Equal(t, OpNot, not.Operator())
	assert.Len(t, not.Children(), 1)
	assert.Equal(t, `not (a = 1)`, not.String())
}

func TestComparisonNilValues(t *testing.T) {
	p, err := NewComparison(OpEquals, false, "field", nil)
	require.NoError(t, err)
	if diff := cmp.Diff([]any{nil}, p.Values()); diff != "" {
		t.Errorf("unexpected values (-want +got):\n%s", diff)
	}
}

func TestComparisonNullAliasesAsMissing(t *testing.T) {
	SetNullAliasesAsMissing(true)
	defer SetNullAliasesAsMissing(false)

	p, err := NewComparison(OpEquals, false, "field", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{Missing}, p.Values())
}

func TestComparisonRejectsBlank(t *testing.T) {
	_, err := NewComparison(" ", false, "field", []any{1})
	assert.ErrorIs(t, err, ErrBlank)

	_, err = NewComparison(OpEquals, false, "", []any{1})
	assert.ErrorIs(t, err, ErrBlank)
}

func TestComparisonNormalizesValues(t *testing.T) {
	id := uuid.New()
	now := time.Now()

	p := Eq("f", record{id: id}, now, color(1), language.German, TypeName("article"), []any{"x", "y"})

	want := []any{id, now.UnixMilli(), "green", "de", util.TypeID("article"), "x", "y"}
	if diff := cmp.Diff(want, p.Values()); diff != "" {
		t.Errorf("unexpected values (-want +got):\n%s", diff)
	}
}

func TestFindValueQuery(t *testing.T) {
	sub := From("author").Where(Eq("name", "x"))
	assert.Same(t, sub, Eq("author", sub).FindValueQuery())
	assert.Nil(t, Eq("author", sub, "y").FindValueQuery())
	assert.Nil(t, Eq("author", "y").FindValueQuery())
}

func TestStructuralEquality(t *testing.T) {
	p1 := And(Eq("a", 1), Or(Eq("b", "x"), Gt("c", 2.5)))
	p2 := And(Eq("a", 1.0), Or(Eq("b", "x"), Gt("c", 2.5)))
	p3 := And(Eq("a", "1"), Or(Eq("b", "x"), Gt("c", 2.5)))

	assert.True(t, Equal(p1, p2))
	assert.False(t, Equal(p1, p3))

	q1 := From("t").Where(p1).SortAscending("a")
	q2 := From("t").Where(p2).SortAscending("a")
	assert.Equal(t, q1.Key(), q2.Key())
	assert.NotEqual(t, q1.Key(), q1.SortDescending("b").Key())
	assert.Equal(t, q1.Key(), q1.NoCache().Key())
	assert.NotEqual(t, q1.Key(), q1.ReferenceOnly().Key())

	cache := map[string]int{q1.Key(): 1}
	assert.Equal(t, 1, cache[q2.Key()])
}

func TestPredicateString(t *testing.T) {
	assert.Equal(t, `name =[c] "x"`, EqIgnoreCase("name", "x").String())
	assert.Equal(t, `(a = 1 and b = (2, 3))`, And(Eq("a", 1), Eq("b", 2, 3)).String())
}

func TestQueryBuildersCopy(t *testing.T) {
	base := From("t")
	narrowed := base.And(Eq("a", 1))

	assert.Nil(t, base.Predicate())
	assert.NotNil(t, narrowed.Predicate())

	ids, ok := ByID("t", uuid.New(), uuid.New()).FindIDOnlyValues()
	assert.True(t, ok)
	assert.Len(t, ids, 2)

	_, ok = narrowed.FindIDOnlyValues()
	assert.False(t, ok)
}
