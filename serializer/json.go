package serializer

import (
	"encoding/json"

	"github.com/pkg/errors"

	rerr "github.com/WuKongIM/wkrpc/rerrors"
)

// JSONCodec is the codec byte conventionally assigned to the JSON
// serializer. No ecosystem JSON library appears anywhere in the pack
// (json-iterator is only ever an indirect gin dependency, never used by
// a component this module adapts), so stdlib encoding/json is used here.
const JSONCodec byte = 2

// JSON serializes any value via encoding/json.
type JSON struct{}

func (JSON) Serialize(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, rerr.Wrap(rerr.SERVER_SERIAL_EXCEPTION, errors.Wrap(err, "json marshal"))
	}
	return b, nil
}

func (JSON) Deserialize(data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return rerr.Wrap(rerr.SERVER_DESERIAL_EXCEPTION, errors.Wrap(err, "json unmarshal"))
	}
	return nil
}
