package serializer

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"

	rerr "github.com/WuKongIM/wkrpc/rerrors"
)

// ProtobufCodec is the codec byte conventionally assigned to the
// protobuf serializer in this module's default registrations.
const ProtobufCodec byte = 1

// Protobuf serializes proto.Message values.
type Protobuf struct{}

func (Protobuf) Serialize(v interface{}) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, rerr.New(rerr.SERVER_SERIAL_EXCEPTION, "value does not implement proto.Message")
	}
	b, err := proto.Marshal(m)
	if err != nil {
		return nil, rerr.Wrap(rerr.SERVER_SERIAL_EXCEPTION, errors.Wrap(err, "protobuf marshal"))
	}
	return b, nil
}

func (Protobuf) Deserialize(data []byte, out interface{}) error {
	m, ok := out.(proto.Message)
	if !ok {
		return rerr.New(rerr.SERVER_DESERIAL_EXCEPTION, "target does not implement proto.Message")
	}
	if err := proto.Unmarshal(data, m); err != nil {
		return rerr.Wrap(rerr.SERVER_DESERIAL_EXCEPTION, errors.Wrap(err, "protobuf unmarshal"))
	}
	return nil
}
