package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Query   *query.Query `json:"query,omitempty"`   // Used for: all reads, DeleteByQuery
	Offset  int64        `json:"offset,omitempty"`  // Used for: ReadPartial, ReadPartialGrouped
	Limit   int          `json:"limit,omitempty"`   // Used for: ReadPartial, ReadPartialGrouped
	Fields  []string     `json:"fields,omitempty"`  // Used for: ReadAllGrouped, ReadPartialGrouped
	Primary bool         `json:"primary,omitempty"` // Read from the primary, bypassing server side caches

	// Used for: Apply (request and response)
	Writes     []WireWrite `json:"writes,omitempty"`
	Eventually bool        `json:"eventually,omitempty"`

	// Response only fields
	States []*state.State `json:"states,omitempty"` // Used for: ReadAll, ReadFirst, ReadPartial
	Groups []*db.Grouping `json:"groups,omitempty"` // Used for: ReadAllGrouped, ReadPartialGrouped
	Count  int64          `json:"count,omitempty"`  // Used for: ReadCount, ReadPartial(Grouped)
	Time   int64          `json:"time,omitempty"`   // Unix millis. Used for: ReadLastUpdate, Now

	Err         string       `json:"err,omitempty"`      // Empty if no error, otherwise contains the error message
	ErrCode     db.RetCode   `json:"err_code,omitempty"` // Code of a database error
	Replacement *Replacement `json:"replacement,omitempty"`
}

// WireWrite is the wire form of a db.Write
type WireWrite struct {
	Operation db.WriteOperation `json:"op"`
	State     *state.State      `json:"state"`
	Fields    []string          `json:"fields,omitempty"`
}

// Replacement is the wire form of a state.ReplacementError
type Replacement struct {
	ID       string `json:"id"`
	Field    string `json:"field"`
	OldValue any    `json:"old"`
	NewValue any    `json:"new"`
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewReadRequest creates a read request of the given type
func NewReadRequest(msgType MessageType, q *query.Query, primary bool) *Message {
	return &Message{MsgType: msgType, Query: q, Primary: primary}
}

// NewReadGroupedRequest creates a ReadAllGrouped request
func NewReadGroupedRequest(q *query.Query, primary bool, fields []string) *Message {
	return &Message{MsgType: MsgTReadAllGrouped, Query: q, Primary: primary, Fields: fields}
}

// NewReadPartialRequest creates a ReadPartial request
func NewReadPartialRequest(q *query.Query, primary bool, offset int64, limit int) *Message {
	return &Message{MsgType: MsgTReadPartial, Query: q, Primary: primary, Offset: offset, Limit: limit}
}

// NewReadPartialGroupedRequest creates a ReadPartialGrouped request
func NewReadPartialGroupedRequest(q *query.Query, primary bool, offset int64, limit int, fields []string) *Message {
	return &Message{MsgType: MsgTReadPartialGrouped, Query: q, Primary: primary, Offset: offset, Limit: limit, Fields: fields}
}

// NewApplyRequest creates an Apply request for a write batch
func NewApplyRequest(writes []db.Write, eventually bool) *Message {
	msg := &Message{MsgType: MsgTApply, Eventually: eventually}
	for _, w := range writes {
		msg.Writes = append(msg.Writes, WireWrite{Operation: w.Operation, State: w.State, Fields: w.Fields})
	}
	return msg
}

// NewDeleteByQueryRequest creates a DeleteByQuery request
func NewDeleteByQueryRequest(q *query.Query) *Message {
	return &Message{MsgType: MsgTDeleteByQuery, Query: q}
}

// NewNowRequest creates a Now request
func NewNowRequest() *Message {
	return &Message{MsgType: MsgTNow}
}

// NewResponse creates an empty response of the given type, err may be nil
func NewResponse(msgType MessageType, err error) *Message {
	msg := &Message{MsgType: msgType}
	msg.SetError(err)
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
		ErrCode: db.RetCInternalError,
	}
}

// SetError stores err in the message. Database errors keep their code, failed
// replacements their details.
func (m *Message) SetError(err error) {
	if err == nil {
		return
	}
	m.Err = err.Error()
	m.ErrCode = db.RetCInternalError

	var (
		dbErr       *db.Error
		replacement *state.ReplacementError
		predErr     *db.UnsupportedPredicateError
		sortErr     *db.UnsupportedSorterError
	)
	if errors.As(err, &replacement) {
		m.ErrCode = db.RetCReplacementFailed
		m.Replacement = &Replacement{
			Field:    replacement.Field,
			OldValue: replacement.OldValue,
			NewValue: replacement.NewValue,
		}
		if replacement.State != nil {
			m.Replacement.ID = replacement.State.ID().String()
		}
		return
	}
	switch {
	case errors.As(err, &dbErr):
		m.ErrCode = dbErr.Code
	case errors.As(err, &predErr), errors.As(err, &sortErr):
		m.ErrCode = db.RetCUnsupportedOperation
	}
}

// Error converts the error of a response back into an error value. Failed
// replacements reference the matching state of writes. Returns nil if the
// message carries no error.
func (m *Message) Error(d db.Database, writes []db.Write) error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	if m.Replacement != nil {
		replacement := &state.ReplacementError{
			Field:    m.Replacement.Field,
			OldValue: m.Replacement.OldValue,
			NewValue: m.Replacement.NewValue,
		}
		for _, w := range writes {
			if w.State.ID().String() == m.Replacement.ID {
				replacement.State = w.State
				break
			}
		}
		return db.NewError(d, db.RetCReplacementFailed, "atomic replace failed", replacement)
	}
	code := m.ErrCode
	if code == db.RetCSuccess {
		code = db.RetCInternalError
	}
	return db.NewError(d, code, m.Err, nil)
}

// UnixMilli converts t into the wire time format, the zero time is 0
func UnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMilli converts the wire time format back, 0 is the zero time
func FromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:            "success",
	MsgTError:              "error",
	MsgTReadAll:            "readAll",
	MsgTReadAllGrouped:     "readAllGrouped",
	MsgTReadCount:          "readCount",
	MsgTReadFirst:          "readFirst",
	MsgTReadLastUpdate:     "readLastUpdate",
	MsgTReadPartial:        "readPartial",
	MsgTReadPartialGrouped: "readPartialGrouped",
	MsgTApply:              "apply",
	MsgTDeleteByQuery:      "deleteByQuery",
	MsgTNow:                "now",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for mt, name := range messageTypeNames {
		if name == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Read operations

	MsgTReadAll
	MsgTReadAllGrouped
	MsgTReadCount
	MsgTReadFirst
	MsgTReadLastUpdate
	MsgTReadPartial
	MsgTReadPartialGrouped

	// Write operations

	MsgTApply         // Apply a write batch
	MsgTDeleteByQuery // Delete all records matching a query

	// Misc

	MsgTNow // Clock of the database
)
