package serializer

import (
	"fmt"

	"github.com/ValentinKolb/dPersist/rpc/common"
)

// IRPCSerializer converts rpc messages to and from their wire form. Client and
// server must use the same serializer.
type IRPCSerializer interface {
	// Name is the identifier accepted by New
	Name() string
	// Serialize encodes msg
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg
	Deserialize(b []byte, msg *common.Message) error
}

// New returns the serializer with the given name ("json" or "gob"). An empty
// name selects json.
func New(name string) (IRPCSerializer, error) {
	switch name {
	case "json", "":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q (expected json or gob)", name)
	}
}
