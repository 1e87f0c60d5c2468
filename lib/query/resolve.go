package query

import (
	"context"

	"github.com/google/uuid"
)

// Resolver looks up the ids of records matching a sub-query.
// db.Database implementations provide one via db.ResolverFor.
type Resolver interface {
	ResolveIDs(ctx context.Context, q *Query, limit int) ([]uuid.UUID, error)
}

// ResolveValues expands every sub-query value into the ids of the records it
// selects (at most SubQueryResolveLimit per sub-query) and every ObjectType into
// its type id.
func (p *ComparisonPredicate) ResolveValues(ctx context.Context, r Resolver) ([]any, error) {
	resolved := make([]any, 0, len(p.values))
	for _, v := range p.values {
		sub, ok := v.(*Query)
		if !ok {
			// ObjectType values were already turned into type ids by normalize
			resolved = append(resolved, v)
			continue
		}
		ids, err := r.ResolveIDs(ctx, sub, SubQueryResolveLimit())
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			resolved = append(resolved, id)
		}
	}
	return resolved, nil
}

// ResolvePredicate returns p with all sub-query values resolved.
// The tree is only copied where something changed.
func ResolvePredicate(ctx context.Context, p Predicate, r Resolver) (Predicate, error) {
	switch x := p.(type) {
	case nil:
		return nil, nil
	case *ComparisonPredicate:
		if !x.hasSubQuery() {
			return x, nil
		}
		values, err := x.ResolveValues(ctx, r)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			// the sub-query selected nothing, compare with a value no record has
			values = []any{uuid.Nil}
		}
		return &ComparisonPredicate{operator: x.operator, ignoreCase: x.ignoreCase, key: x.key, values: values}, nil
	case *CompoundPredicate:
		var children []Predicate
		for i, child := range x.children {
			resolved, err := ResolvePredicate(ctx, child, r)
			if err != nil {
				return nil, err
			}
			if resolved != child && children == nil {
				children = make([]Predicate, i, len(x.children))
				copy(children, x.children[:i])
			}
			if children != nil {
				children = append(children, resolved)
			}
		}
		if children == nil {
			return x, nil
		}
		return &CompoundPredicate{operator: x.operator, children: children}, nil
	default:
		return p, nil
	}
}

func (p *ComparisonPredicate) hasSubQuery() bool {
	for _, v := range p.values {
		if _, ok := v.(*Query); ok {
			return true
		}
	}
	return false
}
