package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/pkg/errors"
)

// NewJSONSerializer returns the json serializer. States and queries use their
// own MarshalJSON, so messages stay readable with curl.
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializer{}
}

type jsonSerializer struct{}

func (jsonSerializer) Name() string { return "json" }

func (jsonSerializer) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "json: encode %s message", msg.MsgType)
	}
	return b, nil
}

func (jsonSerializer) Deserialize(b []byte, msg *common.Message) error {
	if err := json.Unmarshal(b, msg); err != nil {
		return errors.Wrap(err, "json: decode message")
	}
	return nil
}
