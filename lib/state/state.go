package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State is the in-memory form of one record
type State struct {
	id            uuid.UUID
	typeName      string
	values        map[string]any
	extras        map[string]any
	operations    []AtomicOperation
	referenceOnly bool
	lastUpdate    time.Time
	errors        map[string][]string
}

// New creates an empty record of the given type with a random id
func New(typeName string) *State {
	return NewWithID(typeName, uuid.New())
}

// NewWithID creates an empty record with a fixed id
func NewWithID(typeName string, id uuid.UUID) *State {
	return &State{
		id:       id,
		typeName: typeName,
		values:   map[string]any{},
		extras:   map[string]any{},
	}
}

// NewReference creates a reference-only record that carries nothing but its
// identity
func NewReference(typeName string, id uuid.UUID) *State {
	s := NewWithID(typeName, id)
	s.referenceOnly = true
	return s
}

func (s *State) ID() uuid.UUID         { return s.id }
func (s *State) Type() string          { return s.typeName }
func (s *State) TypeID() uuid.UUID     { return util.TypeID(s.typeName) }
func (s *State) IsReferenceOnly() bool { return s.referenceOnly }
func (s *State) LastUpdate() time.Time { return s.lastUpdate }

// SetLastUpdate is called by the databases when a row is loaded or written
func (s *State) SetLastUpdate(t time.Time) {
	s.lastUpdate = t
}

// Values returns the live value map
func (s *State) Values() map[string]any {
	return s.values
}

// Extras returns the live map of transient values that are never persisted
func (s *State) Extras() map[string]any {
	return s.extras
}

// SetValues replaces all values with a deep copy of values
func (s *State) SetValues(values map[string]any) {
	if values == nil {
		s.values = map[string]any{}
		return
	}
	s.values = util.DeepCopy(values).(map[string]any)
}

// --------------------------------------------------------------------------
// Dotted path access
// --------------------------------------------------------------------------

// Get returns the value at a dotted path or nil if it is not set
func (s *State) Get(path string) any {
	return getPath(s.values, path)
}

// Has reports whether the path is set
func (s *State) Has(path string) bool {
	return getPath(s.values, path) != nil
}

// Put sets the value at a dotted path, creating intermediate maps.
// Putting nil removes the field.
func (s *State) Put(path string, value any) {
	putPath(s.values, path, value)
}

func getPath(values map[string]any, path string) any {
	var cur any = values
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func putPath(values map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := values
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			if value == nil {
				return
			}
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	last := parts[len(parts)-1]
	if value == nil {
		delete(cur, last)
		return
	}
	cur[last] = value
}

// --------------------------------------------------------------------------
// Copy, size and validation
// --------------------------------------------------------------------------

// Clone returns a deep copy of values and extras. Queued atomic operations and
// validation errors are copied as well.
func (s *State) Clone() *State {
	c := *s
	c.values = util.DeepCopy(s.values).(map[string]any)
	c.extras = maps.Clone(s.extras)
	if c.extras == nil {
		c.extras = map[string]any{}
	}
	c.operations = append([]AtomicOperation(nil), s.operations...)
	c.errors = maps.Clone(s.errors)
	return &c
}

// DataLength returns the size of the encoded values in bytes
func (s *State) DataLength() int {
	data, err := json.Marshal(s.values)
	if err != nil {
		return 0
	}
	return len(data)
}

// AddError records a validation error for a field
func (s *State) AddError(field, message string) {
	if s.errors == nil {
		s.errors = map[string][]string{}
	}
	s.errors[field] = append(s.errors[field], message)
}

// Errors returns the recorded validation errors by field
func (s *State) Errors() map[string][]string {
	return maps.Clone(s.errors)
}

func (s *State) HasErrors() bool {
	return len(s.errors) > 0
}

func (s *State) ClearErrors() {
	s.errors = nil
}

func (s *State) String() string {
	return fmt.Sprintf("%s#%s", s.typeName, s.id)
}

// --------------------------------------------------------------------------
// Atomic operations
// --------------------------------------------------------------------------

// queue executes op on this state and remembers it for the next save
func (s *State) queue(op AtomicOperation) error {
	if err := op.Execute(s); err != nil {
		return err
	}
	s.operations = append(s.operations, op)
	return nil
}

// IncrementAtomically adds delta to a numeric field
func (s *State) IncrementAtomically(field string, delta float64) {
	_ = s.queue(Increment{Field: field, Delta: delta}) // never fails
}

// DecrementAtomically subtracts delta from a numeric field
func (s *State) DecrementAtomically(field string, delta float64) {
	_ = s.queue(Increment{Field: field, Delta: -delta})
}

// AddAtomically appends value to a collection field
func (s *State) AddAtomically(field string, value any) {
	_ = s.queue(Add{Field: field, Value: value})
}

// RemoveAtomically removes all occurrences of value from a collection field
func (s *State) RemoveAtomically(field string, value any) {
	_ = s.queue(Remove{Field: field, Value: value})
}

// PutAtomically sets a field as part of the atomic write
func (s *State) PutAtomically(field string, value any) {
	_ = s.queue(Put{Field: field, Value: value})
}

// ReplaceAtomically sets field to value on the condition that the stored row
// still holds the value this state currently has
func (s *State) ReplaceAtomically(field string, value any) {
	_ = s.queue(Replace{Field: field, Old: util.DeepCopy(s.Get(field)), New: value})
}

// AtomicOperations returns the queued operations
func (s *State) AtomicOperations() []AtomicOperation {
	return append([]AtomicOperation(nil), s.operations...)
}

// ClearAtomicOperations drops the queued operations, usually after a successful save
func (s *State) ClearAtomicOperations() {
	s.operations = nil
}

// Merge computes the values to persist when this state is saved over stored
// (which may be nil for a new row). Plain values are taken from this state.
// Fields touched by atomic operations are recomputed by executing the operations
// against the stored values, so concurrent writers never lose updates and a
// stale Replace fails with a *ReplacementError.
func (s *State) Merge(stored *State) (map[string]any, error) {
	result := util.DeepCopy(s.values).(map[string]any)
	if len(s.operations) == 0 {
		return result, nil
	}

	base := NewWithID(s.typeName, s.id)
	if stored != nil {
		base.values = util.DeepCopy(stored.values).(map[string]any)
	}

	for _, op := range s.operations {
		if err := op.Execute(base); err != nil {
			var replacement *ReplacementError
			if errors.As(err, &replacement) {
				// report the caller's state, not the scratch copy
				replacement.State = s
			}
			return nil, err
		}
		putPath(result, op.FieldName(), util.DeepCopy(base.Get(op.FieldName())))
	}
	return result, nil
}

// --------------------------------------------------------------------------
// JSON encoding
// --------------------------------------------------------------------------

type stateJSON struct {
	ID            uuid.UUID         `json:"id"`
	Type          string            `json:"type"`
	Values        map[string]any    `json:"values"`
	Operations    []json.RawMessage `json:"ops,omitempty"`
	ReferenceOnly bool              `json:"ref,omitempty"`
	LastUpdate    int64             `json:"lastUpdate,omitempty"`
}

// MarshalJSON encodes the state including its queued atomic operations
func (s *State) MarshalJSON() ([]byte, error) {
	enc := stateJSON{
		ID:            s.id,
		Type:          s.typeName,
		Values:        s.values,
		ReferenceOnly: s.referenceOnly,
	}
	if !s.lastUpdate.IsZero() {
		enc.LastUpdate = s.lastUpdate.UnixMilli()
	}
	for _, op := range s.operations {
		raw, err := MarshalOperation(op)
		if err != nil {
			return nil, err
		}
		enc.Operations = append(enc.Operations, raw)
	}
	return json.Marshal(enc)
}

// UnmarshalJSON implements json.Unmarshaler
func (s *State) UnmarshalJSON(data []byte) error {
	var dec stateJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return errors.Wrap(err, "decode state")
	}
	*s = State{
		id:            dec.ID,
		typeName:      dec.Type,
		values:        dec.Values,
		extras:        map[string]any{},
		referenceOnly: dec.ReferenceOnly,
	}
	if s.values == nil {
		s.values = map[string]any{}
	}
	if dec.LastUpdate != 0 {
		s.lastUpdate = time.UnixMilli(dec.LastUpdate)
	}
	for _, raw := range dec.Operations {
		op, err := UnmarshalOperation(raw)
		if err != nil {
			return err
		}
		s.operations = append(s.operations, op)
	}
	return nil
}

// GobEncode encodes the state in its JSON form, the fields are unexported
func (s *State) GobEncode() ([]byte, error) {
	return s.MarshalJSON()
}

// GobDecode implements gob.GobDecoder
func (s *State) GobDecode(data []byte) error {
	return s.UnmarshalJSON(data)
}
