package serializer

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/pkg/errors"
)

// Field values travel as interface values in groupings and replacement errors.
// States and queries encode themselves (GobEncoder).
func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(time.Time{})
}

// NewGOBSerializer returns the gob serializer. A fresh encoder is used per
// message, since the transport is request scoped and type info can't be reused.
func NewGOBSerializer() IRPCSerializer {
	return gobSerializer{}
}

type gobSerializer struct{}

func (gobSerializer) Name() string { return "gob" }

func (gobSerializer) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, errors.Wrapf(err, "gob: encode %s message", msg.MsgType)
	}
	return buf.Bytes(), nil
}

func (gobSerializer) Deserialize(b []byte, msg *common.Message) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(msg); err != nil {
		return errors.Wrap(err, "gob: decode message")
	}
	return nil
}
