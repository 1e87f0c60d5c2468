package internal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/pkg/errors"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTApply CommandType = iota // Apply a write batch.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTApply:
		return "Apply"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command is a single entry in the raft log
type Command struct {
	Type   CommandType
	Writes []db.Write
}

// Serialize encodes the command, see the package docs for the format
func (command *Command) Serialize() ([]byte, error) {
	result := make([]byte, 5, 5+64*len(command.Writes))
	result[0] = byte(command.Type)
	binary.BigEndian.PutUint32(result[1:5], uint32(len(command.Writes)))

	for _, w := range command.Writes {
		data, err := json.Marshal(w.State)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", w.State)
		}
		result = append(result, byte(w.Operation))
		result = binary.BigEndian.AppendUint32(result, uint32(len(data)))
		result = append(result, data...)
		result = binary.BigEndian.AppendUint16(result, uint16(len(w.Fields)))
		for _, f := range w.Fields {
			result = binary.BigEndian.AppendUint16(result, uint16(len(f)))
			result = append(result, f...)
		}
	}
	return result, nil
}

// Deserialize decodes a command encoded by Serialize
func (command *Command) Deserialize(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("data too short for command")
	}
	command.Type = CommandType(data[0])
	count := binary.BigEndian.Uint32(data[1:5])
	pos := 5

	need := func(n int) error {
		if len(data) < pos+n {
			return fmt.Errorf("data too short at offset %d (need %d bytes)", pos, n)
		}
		return nil
	}

	command.Writes = make([]db.Write, 0, count)
	for i := uint32(0); i < count; i++ {
		if err := need(5); err != nil {
			return err
		}
		op := db.WriteOperation(data[pos])
		length := int(binary.BigEndian.Uint32(data[pos+1 : pos+5]))
		pos += 5

		if err := need(length); err != nil {
			return err
		}
		s := &state.State{}
		if err := json.Unmarshal(data[pos:pos+length], s); err != nil {
			return errors.Wrapf(err, "decode write %d", i)
		}
		pos += length

		if err := need(2); err != nil {
			return err
		}
		fieldCount := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2

		var fields []string
		for j := 0; j < fieldCount; j++ {
			if err := need(2); err != nil {
				return err
			}
			fl := int(binary.BigEndian.Uint16(data[pos : pos+2]))
			pos += 2
			if err := need(fl); err != nil {
				return err
			}
			fields = append(fields, string(data[pos:pos+fl]))
			pos += fl
		}

		command.Writes = append(command.Writes, db.Write{Operation: op, State: s, Fields: fields})
	}
	return nil
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// Outcome is the JSON payload of an applied command
type Outcome struct {
	// Saved holds the persisted values of every saved record by id
	Saved map[string]map[string]any `json:"saved,omitempty"`
	// Msg describes a failure
	Msg string `json:"msg,omitempty"`
	// Replacement describes a failed atomic replace
	Replacement *Replacement `json:"replacement,omitempty"`
}

// Replacement is the wire form of a state.ReplacementError
type Replacement struct {
	ID       string `json:"id"`
	Field    string `json:"field"`
	OldValue any    `json:"old"`
	NewValue any    `json:"new"`
}

// Encode marshals the outcome, encoding failures are reported in Msg
func (o Outcome) Encode() []byte {
	data, err := json.Marshal(o)
	if err != nil {
		data, _ = json.Marshal(Outcome{Msg: fmt.Sprintf("failed to encode outcome: %v", err)})
	}
	return data
}

// DecodeOutcome unmarshals an outcome, empty data is an empty outcome
func DecodeOutcome(data []byte) (Outcome, error) {
	var o Outcome
	if len(data) == 0 {
		return o, nil
	}
	err := json.Unmarshal(data, &o)
	return o, err
}
