package state

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/pkg/errors"
)

// AtomicOperation changes one field of a State
type AtomicOperation interface {
	// FieldName returns the dotted path of the field the operation changes
	FieldName() string
	// Execute applies the operation to the state in place
	Execute(s *State) error
}

// ReplacementError signals a lost compare-and-swap: the field did not hold the
// expected old value. It is a control flow signal, not a fatal error.
type ReplacementError struct {
	State    *State
	Field    string
	OldValue any
	NewValue any
}

func (e *ReplacementError) Error() string {
	id := ""
	if e.State != nil {
		id = e.State.ID().String()
	}
	return fmt.Sprintf("can't replace [%s] in #[%s]!", e.Field, id)
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Increment adds Delta to the field. Unset or non-numeric values count as 0.
type Increment struct {
	Field string
	Delta float64
}

func (o Increment) FieldName() string { return o.Field }

func (o Increment) Execute(s *State) error {
	current := 0.0
	if v := s.Get(o.Field); util.IsNumber(v) {
		current, _ = util.ToFloat(v)
	}
	s.Put(o.Field, current+o.Delta)
	return nil
}

// Add appends Value to the collection stored in the field. A new collection is
// created if the field is unset or not a collection.
type Add struct {
	Field string
	Value any
}

func (o Add) FieldName() string { return o.Field }

func (o Add) Execute(s *State) error {
	current, ok := util.AsSlice(s.Get(o.Field))
	if !ok {
		s.Put(o.Field, []any{o.Value})
		return nil
	}
	next := make([]any, 0, len(current)+1)
	next = append(next, current...)
	s.Put(o.Field, append(next, o.Value))
	return nil
}

// Remove removes every occurrence of Value from the collection stored in the
// field. It does nothing if the field is not a collection.
type Remove struct {
	Field string
	Value any
}

func (o Remove) FieldName() string { return o.Field }

func (o Remove) Execute(s *State) error {
	current, ok := util.AsSlice(s.Get(o.Field))
	if !ok {
		return nil
	}
	next := make([]any, 0, len(current))
	for _, item := range current {
		if !util.Equal(item, o.Value) {
			next = append(next, item)
		}
	}
	s.Put(o.Field, next)
	return nil
}

// Put sets the field unconditionally
type Put struct {
	Field string
	Value any
}

func (o Put) FieldName() string { return o.Field }

func (o Put) Execute(s *State) error {
	s.Put(o.Field, o.Value)
	return nil
}

// Replace sets the field to New if it currently equals Old. Otherwise it fails
// with a *ReplacementError and leaves the field untouched.
type Replace struct {
	Field string
	Old   any
	New   any
}

func (o Replace) FieldName() string { return o.Field }

func (o Replace) Execute(s *State) error {
	if !util.Equal(s.Get(o.Field), o.Old) {
		return &ReplacementError{State: s, Field: o.Field, OldValue: o.Old, NewValue: o.New}
	}
	s.Put(o.Field, o.New)
	return nil
}

// --------------------------------------------------------------------------
// JSON encoding
// --------------------------------------------------------------------------

type operationJSON struct {
	Kind  string  `json:"kind"`
	Field string  `json:"field"`
	Delta float64 `json:"delta,omitempty"`
	Value any     `json:"value,omitempty"`
	Old   any     `json:"old,omitempty"`
	New   any     `json:"new,omitempty"`
}

// MarshalOperation encodes one of the operations of this package
func MarshalOperation(op AtomicOperation) ([]byte, error) {
	var enc operationJSON
	switch o := op.(type) {
	case Increment:
		enc = operationJSON{Kind: "increment", Field: o.Field, Delta: o.Delta}
	case Add:
		enc = operationJSON{Kind: "add", Field: o.Field, Value: o.Value}
	case Remove:
		enc = operationJSON{Kind: "remove", Field: o.Field, Value: o.Value}
	case Put:
		enc = operationJSON{Kind: "put", Field: o.Field, Value: o.Value}
	case Replace:
		enc = operationJSON{Kind: "replace", Field: o.Field, Old: o.Old, New: o.New}
	default:
		return nil, errors.Errorf("cannot encode atomic operation %T", op)
	}
	return json.Marshal(enc)
}

// UnmarshalOperation decodes an operation written by MarshalOperation
func UnmarshalOperation(data []byte) (AtomicOperation, error) {
	var dec operationJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return nil, errors.Wrap(err, "decode atomic operation")
	}
	switch dec.Kind {
	case "increment":
		return Increment{Field: dec.Field, Delta: dec.Delta}, nil
	case "add":
		return Add{Field: dec.Field, Value: dec.Value}, nil
	case "remove":
		return Remove{Field: dec.Field, Value: dec.Value}, nil
	case "put":
		return Put{Field: dec.Field, Value: dec.Value}, nil
	case "replace":
		return Replace{Field: dec.Field, Old: dec.Old, New: dec.New}, nil
	default:
		return nil, errors.Errorf("unknown atomic operation %q", dec.Kind)
	}
}
