package query

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// JSON wire format (used by the rpc layer)
// --------------------------------------------------------------------------

type predicateJSON struct {
	Op         string            `json:"op"`
	Key        string            `json:"key,omitempty"`
	IgnoreCase bool              `json:"ic,omitempty"`
	Values     []json.RawMessage `json:"values,omitempty"`
	Children   []json.RawMessage `json:"children,omitempty"`
}

type queryJSON struct {
	Group         string            `json:"group,omitempty"`
	Predicate     json.RawMessage   `json:"predicate,omitempty"`
	Sorters       []Sorter          `json:"sorters,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
	NoCache       bool              `json:"noCache,omitempty"`
	ReferenceOnly bool              `json:"referenceOnly,omitempty"`
	Resolving     bool              `json:"resolving,omitempty"`
	NoFunnelCache bool              `json:"noFunnelCache,omitempty"`
}

type specialValueJSON struct {
	Query   *Query `json:"$query,omitempty"`
	Missing bool   `json:"$missing,omitempty"`
}

// MarshalPredicate encodes a predicate tree. A nil predicate encodes to null.
func MarshalPredicate(p Predicate) ([]byte, error) {
	switch x := p.(type) {
	case nil:
		return []byte("null"), nil
	case *ComparisonPredicate:
		enc := predicateJSON{Op: x.operator, Key: x.key, IgnoreCase: x.ignoreCase}
		for _, v := range x.values {
			raw, err := marshalValue(v)
			if err != nil {
				return nil, err
			}
			enc.Values = append(enc.Values, raw)
		}
		return json.Marshal(enc)
	case *CompoundPredicate:
		enc := predicateJSON{Op: x.operator}
		for _, child := range x.children {
			raw, err := MarshalPredicate(child)
			if err != nil {
				return nil, err
			}
			enc.Children = append(enc.Children, raw)
		}
		return json.Marshal(enc)
	default:
		return nil, errors.Errorf("cannot encode predicate of type %T", p)
	}
}

// UnmarshalPredicate decodes a predicate tree written by MarshalPredicate
func UnmarshalPredicate(data []byte) (Predicate, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var dec predicateJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return nil, errors.Wrap(err, "decode predicate")
	}

	switch dec.Op {
	case OpAnd, OpOr, OpNot:
		children := make([]Predicate, 0, len(dec.Children))
		for _, raw := range dec.Children {
			child, err := UnmarshalPredicate(raw)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return NewCompound(dec.Op, children...), nil
	}

	values := make([]any, 0, len(dec.Values))
	for _, raw := range dec.Values {
		v, err := unmarshalValue(raw)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		values = nil
	}
	return NewComparison(dec.Op, dec.IgnoreCase, dec.Key, values)
}

func marshalValue(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case *Query:
		return json.Marshal(specialValueJSON{Query: x})
	case missingValue:
		return json.Marshal(specialValueJSON{Missing: true})
	default:
		return json.Marshal(x)
	}
}

func unmarshalValue(raw json.RawMessage) (any, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var special specialValueJSON
		if err := json.Unmarshal(trimmed, &special); err == nil {
			if special.Query != nil {
				return special.Query, nil
			}
			if special.Missing {
				return Missing, nil
			}
		}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "decode predicate value")
	}
	return v, nil
}

// MarshalJSON implements json.Marshaler
func (p *ComparisonPredicate) MarshalJSON() ([]byte, error) {
	return MarshalPredicate(p)
}

// MarshalJSON implements json.Marshaler
func (p *CompoundPredicate) MarshalJSON() ([]byte, error) {
	return MarshalPredicate(p)
}

// MarshalJSON implements json.Marshaler
func (q *Query) MarshalJSON() ([]byte, error) {
	pred, err := MarshalPredicate(q.predicate)
	if err != nil {
		return nil, err
	}
	return json.Marshal(queryJSON{
		Group:         q.group,
		Predicate:     pred,
		Sorters:       q.sorters,
		Options:       q.options,
		NoCache:       q.noCache,
		ReferenceOnly: q.referenceOnly,
		Resolving:     q.resolving,
		NoFunnelCache: q.noFunnelCache,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (q *Query) UnmarshalJSON(data []byte) error {
	var dec queryJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return errors.Wrap(err, "decode query")
	}
	pred, err := UnmarshalPredicate(dec.Predicate)
	if err != nil {
		return err
	}
	*q = Query{
		group:         dec.Group,
		predicate:     pred,
		sorters:       dec.Sorters,
		options:       dec.Options,
		noCache:       dec.NoCache,
		referenceOnly: dec.ReferenceOnly,
		resolving:     dec.Resolving,
		noFunnelCache: dec.NoFunnelCache,
	}
	return nil
}

// GobEncode encodes the query in its JSON form, the fields are unexported
func (q *Query) GobEncode() ([]byte, error) {
	return q.MarshalJSON()
}

// GobDecode implements gob.GobDecoder
func (q *Query) GobDecode(data []byte) error {
	return q.UnmarshalJSON(data)
}
