package util

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dPersist/lib/query"
)

// conditionOperators in matching order, longer operators first
var conditionOperators = []string{">=", "<=", "!=", "^=", "~=", "=", ">", "<"}

// ParseValue parses a command line value. JSON literals (numbers, booleans,
// null, arrays, objects, quoted strings) are decoded, everything else is
// taken as a plain string.
func ParseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// ParseCondition parses a condition of the form field<op>value, e.g.
// "rank>=3" or "name^=al". Supported operators are = != < <= > >=, ^= (starts
// with) and ~= (contains).
func ParseCondition(s string) (query.Predicate, error) {
	for _, op := range conditionOperators {
		idx := strings.Index(s, op)
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(s[:idx])
		raw := strings.TrimSpace(s[idx+len(op):])
		value := ParseValue(raw)
		switch op {
		case "=":
			return query.Eq(field, value), nil
		case "!=":
			return query.NotEq(field, value), nil
		case "<":
			return query.Lt(field, value), nil
		case "<=":
			return query.Lte(field, value), nil
		case ">":
			return query.Gt(field, value), nil
		case ">=":
			return query.Gte(field, value), nil
		case "^=":
			return query.StartsWith(field, raw), nil
		case "~=":
			return query.Contains(field, value), nil
		}
	}
	return nil, fmt.Errorf("invalid condition %q (expected field<op>value)", s)
}

// BuildQuery creates a query of the given type from conditions and sort
// fields. A sort field prefixed with '-' sorts descending.
func BuildQuery(typeName string, conditions, sort []string) (*query.Query, error) {
	q := query.From(typeName)
	if typeName == "" {
		q = query.FromAll()
	}
	for _, c := range conditions {
		p, err := ParseCondition(c)
		if err != nil {
			return nil, err
		}
		q = q.And(p)
	}
	for _, field := range sort {
		if name, ok := strings.CutPrefix(field, "-"); ok {
			q = q.SortDescending(name)
		} else {
			q = q.SortAscending(field)
		}
	}
	return q, nil
}

// MarshalIndent encodes v as indented JSON
func MarshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
