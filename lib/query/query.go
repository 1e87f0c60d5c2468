package query

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Sorter
// --------------------------------------------------------------------------

const (
	SortAscending  = "ascending"
	SortDescending = "descending"
)

// Sorter orders query results by one field
type Sorter struct {
	Op    string `json:"op"`
	Field string `json:"field"`
}

func (s Sorter) String() string {
	return s.Field + " " + s.Op
}

// --------------------------------------------------------------------------
// Query
// --------------------------------------------------------------------------

// Query selects records of one group (record type) matching a predicate.
// Builder methods never modify the receiver, they return a modified copy.
type Query struct {
	group         string
	predicate     Predicate
	sorters       []Sorter
	options       map[string]string
	noCache       bool
	referenceOnly bool
	resolving     bool
	noFunnelCache bool
}

// From creates a query over all records of the given type.
// An empty type name selects records of every type.
func From(group string) *Query {
	return &Query{group: group}
}

// FromAll creates a query over every record
func FromAll() *Query {
	return &Query{}
}

// Clone returns a copy of the query
func (q *Query) Clone() *Query {
	c := *q
	c.sorters = slices.Clone(q.sorters)
	c.options = maps.Clone(q.options)
	return &c
}

func (q *Query) Group() string               { return q.group }
func (q *Query) Predicate() Predicate        { return q.predicate }
func (q *Query) Sorters() []Sorter           { return slices.Clone(q.sorters) }
func (q *Query) IsCacheDisabled() bool       { return q.noCache }
func (q *Query) IsReferenceOnly() bool       { return q.referenceOnly }
func (q *Query) IsResolving() bool           { return q.resolving }
func (q *Query) IsFunnelCacheDisabled() bool { return q.noFunnelCache }

func (q *Query) Option(name string) (string, bool) {
	v, ok := q.options[name]
	return v, ok
}

// Where replaces the predicate
func (q *Query) Where(p Predicate) *Query {
	c := q.Clone()
	c.predicate = p
	return c
}

// And narrows the predicate
func (q *Query) And(p Predicate) *Query {
	return q.Where(Combine(OpAnd, q.predicate, p))
}

// Or widens the predicate
func (q *Query) Or(p Predicate) *Query {
	return q.Where(Combine(OpOr, q.predicate, p))
}

func (q *Query) SortAscending(field string) *Query {
	c := q.Clone()
	c.sorters = append(c.sorters, Sorter{Op: SortAscending, Field: field})
	return c
}

func (q *Query) SortDescending(field string) *Query {
	c := q.Clone()
	c.sorters = append(c.sorters, Sorter{Op: SortDescending, Field: field})
	return c
}

// SortBy adds a sorter with an arbitrary operator. Databases that do not know the
// operator fail with an unsupported sorter error.
func (q *Query) SortBy(s Sorter) *Query {
	c := q.Clone()
	c.sorters = append(c.sorters, s)
	return c
}

// WithOption sets a backend specific option
func (q *Query) WithOption(name, value string) *Query {
	c := q.Clone()
	if c.options == nil {
		c.options = map[string]string{}
	}
	c.options[name] = value
	return c
}

// NoCache disables the caching stage for this query
func (q *Query) NoCache() *Query {
	c := q.Clone()
	c.noCache = true
	return c
}

// ReferenceOnly marks a query that only needs record references (id and type)
func (q *Query) ReferenceOnly() *Query {
	c := q.Clone()
	c.referenceOnly = true
	return c
}

// Resolving marks a query that was issued internally to resolve references of
// an already loaded record
func (q *Query) Resolving() *Query {
	c := q.Clone()
	c.resolving = true
	return c
}

// NoFunnelCache disables the funnel cache of the backend for this query
func (q *Query) NoFunnelCache() *Query {
	c := q.Clone()
	c.noFunnelCache = true
	return c
}

// Key returns the structural identity of the query. Flags that do not change the
// result (cache switches, resolving marker) are not part of the key.
func (q *Query) Key() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%q", q.group))
	sb.WriteByte('|')
	if q.predicate != nil {
		q.predicate.writeKey(&sb)
	}
	sb.WriteByte('|')
	for i, s := range q.sorters {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%q:%s", s.Field, s.Op))
	}
	sb.WriteByte('|')
	for i, name := range slices.Sorted(maps.Keys(q.options)) {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%q=%q", name, q.options[name]))
	}
	if q.referenceOnly {
		sb.WriteString("|ref")
	}
	return sb.String()
}

func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteString("FROM ")
	if q.group == "" {
		sb.WriteString("*")
	} else {
		sb.WriteString(q.group)
	}
	if q.predicate != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(q.predicate.String())
	}
	if len(q.sorters) > 0 {
		sb.WriteString(" SORT BY ")
		for i, s := range q.sorters {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(s.String())
		}
	}
	return sb.String()
}

// FindIDOnlyValues returns the ids if the query selects nothing but records by id
// (a single `_id = ...` comparison)
func (q *Query) FindIDOnlyValues() ([]uuid.UUID, bool) {
	cp, ok := q.predicate.(*ComparisonPredicate)
	if !ok || cp.key != KeyID || cp.operator != OpEquals || cp.ignoreCase {
		return nil, false
	}

	ids := make([]uuid.UUID, 0, len(cp.values))
	for _, v := range cp.values {
		switch x := v.(type) {
		case uuid.UUID:
			ids = append(ids, x)
		case string:
			id, err := uuid.Parse(x)
			if err != nil {
				return nil, false
			}
			ids = append(ids, id)
		default:
			return nil, false
		}
	}
	return ids, len(ids) > 0
}

// ByID creates a query selecting records by id
func ByID(group string, ids ...uuid.UUID) *Query {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return From(group).Where(Eq(KeyID, values...))
}
