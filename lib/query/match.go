package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/google/uuid"
)

// Fields is the read view of a record the matcher works on
type Fields interface {
	ID() uuid.UUID
	Type() string
	Get(path string) any
	Values() map[string]any
}

// UnsupportedOperatorError is returned for operators the matcher does not know
type UnsupportedOperatorError struct {
	Predicate Predicate
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported predicate operator [%s] in [%s]", e.Predicate.Operator(), e.Predicate)
}

// UnsupportedSorterError is returned for sort operators the matcher does not know
type UnsupportedSorterError struct {
	Sorter Sorter
}

func (e *UnsupportedSorterError) Error() string {
	return fmt.Sprintf("unsupported sorter [%s]", e.Sorter)
}

// --------------------------------------------------------------------------
// Matching
// --------------------------------------------------------------------------

// Match evaluates the predicate against a record. A nil predicate matches every record.
// Sub-query values must have been resolved with ResolvePredicate before.
func Match(p Predicate, f Fields) (bool, error) {
	switch x := p.(type) {
	case nil:
		return true, nil
	case *CompoundPredicate:
		return matchCompound(x, f)
	case *ComparisonPredicate:
		return matchComparison(x, f)
	default:
		return false, &UnsupportedOperatorError{Predicate: p}
	}
}

// MatchQuery checks the record group and the predicate of q
func MatchQuery(q *Query, f Fields) (bool, error) {
	if q.group != "" && q.group != f.Type() {
		return false, nil
	}
	return Match(q.predicate, f)
}

func matchCompound(p *CompoundPredicate, f Fields) (bool, error) {
	switch p.operator {
	case OpAnd:
		for _, child := range p.children {
			ok, err := Match(child, f)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr, OpNot:
		matched := false
		for _, child := range p.children {
			ok, err := Match(child, f)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				break
			}
		}
		if p.operator == OpNot {
			return !matched, nil
		}
		return matched, nil
	default:
		return false, &UnsupportedOperatorError{Predicate: p}
	}
}

// fieldValues returns the values stored at key. Collections match element wise,
// an unset field is a single nil.
func fieldValues(key string, f Fields) []any {
	switch key {
	case KeyID:
		return []any{f.ID()}
	case KeyType:
		return []any{f.Type(), util.TypeID(f.Type())}
	case KeyAny:
		var all []any
		for _, v := range f.Values() {
			all = append(all, flatten(v)...)
		}
		return all
	}
	return flatten(f.Get(key))
}

func flatten(v any) []any {
	if s, ok := util.AsSlice(v); ok {
		if len(s) == 0 {
			return []any{nil}
		}
		return s
	}
	return []any{v}
}

func matchComparison(p *ComparisonPredicate, f Fields) (bool, error) {
	actual := fieldValues(p.key, f)

	for _, v := range p.values {
		if _, ok := v.(*Query); ok {
			return false, fmt.Errorf("unresolved sub-query in [%s]", p)
		}
	}

	switch p.operator {
	case OpEquals:
		return anyPair(actual, p.values, func(a, v any) bool { return equals(a, v, p.ignoreCase) }), nil
	case OpNotEquals:
		return !anyPair(actual, p.values, func(a, v any) bool { return equals(a, v, p.ignoreCase) }), nil
	case OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		return anyPair(actual, p.values, func(a, v any) bool {
			c, ok := util.Compare(a, v)
			if !ok {
				return false
			}
			switch p.operator {
			case OpLessThan:
				return c < 0
			case OpLessThanOrEqual:
				return c <= 0
			case OpGreaterThan:
				return c > 0
			default:
				return c >= 0
			}
		}), nil
	case OpStartsWith:
		return anyPair(actual, p.values, func(a, v any) bool {
			if a == nil || v == nil {
				return false
			}
			return strings.HasPrefix(foldCase(util.ToString(a), p.ignoreCase), foldCase(util.ToString(v), p.ignoreCase))
		}), nil
	case OpContains:
		return anyPair(actual, p.values, func(a, v any) bool {
			if a == nil || v == nil {
				return false
			}
			return strings.Contains(foldCase(util.ToString(a), p.ignoreCase), foldCase(util.ToString(v), p.ignoreCase))
		}), nil
	case OpMatchesAny, OpMatchesAll:
		return matchText(p, actual), nil
	default:
		return false, &UnsupportedOperatorError{Predicate: p}
	}
}

func equals(a, v any, ignoreCase bool) bool {
	if v == Missing {
		return a == nil
	}
	if ignoreCase {
		as, aok := a.(string)
		vs, vok := v.(string)
		if aok && vok {
			return strings.EqualFold(as, vs)
		}
	}
	return util.Equal(a, v)
}

func anyPair(actual, values []any, fn func(a, v any) bool) bool {
	for _, a := range actual {
		for _, v := range values {
			if fn(a, v) {
				return true
			}
		}
	}
	return false
}

func foldCase(s string, ignoreCase bool) string {
	if ignoreCase {
		return strings.ToLower(s)
	}
	return s
}

// matchText implements a simple token based full text match. The term "*"
// matches any record where the field is set.
func matchText(p *ComparisonPredicate, actual []any) bool {
	var text strings.Builder
	for _, a := range actual {
		if a != nil {
			text.WriteString(strings.ToLower(util.ToString(a)))
			text.WriteByte(' ')
		}
	}
	haystack := text.String()

	matchedAny := false
	for _, v := range p.values {
		if v == nil {
			continue
		}
		term := strings.ToLower(util.ToString(v))
		if term == "*" {
			if haystack == "" {
				return false
			}
			matchedAny = true
			continue
		}
		hit := false
		for _, token := range strings.Fields(term) {
			if strings.Contains(haystack, token) {
				hit = true
				if p.operator == OpMatchesAny {
					break
				}
			} else if p.operator == OpMatchesAll {
				return false
			}
		}
		if hit {
			matchedAny = true
		}
	}
	return matchedAny
}

// --------------------------------------------------------------------------
// Sorting
// --------------------------------------------------------------------------

// SortStates sorts records in place by the given sorters. Unset values sort last.
func SortStates[F Fields](sorters []Sorter, records []F) error {
	for _, s := range sorters {
		if s.Op != SortAscending && s.Op != SortDescending {
			return &UnsupportedSorterError{Sorter: s}
		}
	}
	if len(sorters) == 0 {
		return nil
	}

	slices.SortStableFunc(records, func(a, b F) int {
		for _, s := range sorters {
			av, bv := sortValue(s.Field, a), sortValue(s.Field, b)
			switch {
			case av == nil && bv == nil:
				continue
			case av == nil:
				return 1
			case bv == nil:
				return -1
			}
			c, _ := util.Compare(av, bv)
			if c == 0 {
				continue
			}
			if s.Op == SortDescending {
				return -c
			}
			return c
		}
		return 0
	})
	return nil
}

func sortValue(field string, f Fields) any {
	switch field {
	case KeyID:
		return f.ID().String()
	case KeyType:
		return f.Type()
	}
	return f.Get(field)
}
