// Package serializer converts payload objects to and from wire bytes,
// keyed by the codec byte carried in a frame's header, independent of
// className-based processor/type resolution.
package serializer

import (
	"sync"

	"github.com/WuKongIM/wkrpc/rerrors"
)

// Serializer turns a Go value into bytes and back.
type Serializer interface {
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte, out interface{}) error
}

var (
	mu    sync.RWMutex
	byCodec = map[byte]Serializer{}
)

func init() {
	// JSONCodec/ProtobufCodec are usable out of the box; Register with
	// the same codec byte again to override either one process-wide.
	byCodec[JSONCodec] = JSON{}
	byCodec[ProtobufCodec] = Protobuf{}
}

// Register installs a Serializer under the given codec byte. Intended to
// be called at process start; last writer for a given codec wins, but
// registering after Start has been called on a server or client is a
// programmer error the caller is responsible for avoiding.
func Register(codec byte, s Serializer) {
	mu.Lock()
	defer mu.Unlock()
	byCodec[codec] = s
}

// Get looks up the Serializer for codec, returning DESERIAL_CODE_ERROR
// when no serializer was registered for that byte.
func Get(codec byte) (Serializer, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := byCodec[codec]
	if !ok {
		return nil, rerrors.New(rerrors.DESERIAL_CODE_ERROR, "no serializer registered for codec")
	}
	return s, nil
}

// EncodePayload looks up the serializer for codec and serializes
// payload, the shared building block behind both client and server
// typed-payload invoke helpers.
func EncodePayload(codec byte, payload interface{}) ([]byte, error) {
	s, err := Get(codec)
	if err != nil {
		return nil, err
	}
	return s.Serialize(payload)
}

// DecodePayload looks up the serializer for codec and deserializes data
// into out.
func DecodePayload(codec byte, data []byte, out interface{}) error {
	s, err := Get(codec)
	if err != nil {
		return err
	}
	return s.Deserialize(data, out)
}

// class-name -> payload prototype factory, independent of codec choice.
var (
	classMu sync.RWMutex
	classes = map[string]func() interface{}{}
)

// RegisterClass associates a className with a factory producing a fresh
// zero-value instance of the payload type that className, so the
// receiver can allocate the right Go type before deserializing into it.
func RegisterClass(className string, factory func() interface{}) {
	classMu.Lock()
	defer classMu.Unlock()
	classes[className] = factory
}

// NewByClassName allocates a payload instance for className, or returns
// SERVER_DESERIAL_EXCEPTION if the class was never registered.
func NewByClassName(className string) (interface{}, error) {
	classMu.RLock()
	factory, ok := classes[className]
	classMu.RUnlock()
	if !ok {
		return nil, rerrors.New(rerrors.SERVER_DESERIAL_EXCEPTION, "unknown class name: "+className)
	}
	return factory(), nil
}
