package funnel

import (
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/google/uuid"
)

// Object is a snapshot of a record as it is kept in the cache
type Object struct {
	ID     uuid.UUID
	TypeID uuid.UUID
	Values map[string]any
	Extras map[string]any
}

// FromState takes a snapshot of s
func FromState(s *state.State) Object {
	return Object{
		ID:     s.ID(),
		TypeID: s.TypeID(),
		Values: util.DeepCopy(s.Values()).(map[string]any),
		Extras: util.DeepCopy(s.Extras()).(map[string]any),
	}
}

// FromStates takes a snapshot of every state
func FromStates(states []*state.State) []Object {
	objects := make([]Object, 0, len(states))
	for _, s := range states {
		if s != nil {
			objects = append(objects, FromState(s))
		}
	}
	return objects
}

// State turns the snapshot back into an independent record of the given type
func (o Object) State(typeName string) *state.State {
	s := state.NewWithID(typeName, o.ID)
	s.SetValues(o.Values)
	for k, v := range o.Extras {
		s.Extras()[k] = util.DeepCopy(v)
	}
	return s
}
