package serializer

import (
	"testing"

	"github.com/stretchr/testify/require"

	rerr "github.com/WuKongIM/wkrpc/rerrors"
)

type pingPayload struct {
	Text string `json:"text"`
}

func TestJSONRoundTrip(t *testing.T) {
	Register(JSONCodec, JSON{})
	s, err := Get(JSONCodec)
	require.NoError(t, err)

	b, err := s.Serialize(&pingPayload{Text: "hi"})
	require.NoError(t, err)

	var out pingPayload
	require.NoError(t, s.Deserialize(b, &out))
	require.Equal(t, "hi", out.Text)
}

func TestGetUnknownCodec(t *testing.T) {
	_, err := Get(0xFE)
	require.Error(t, err)
	require.True(t, rerr.Is(err, rerr.DESERIAL_CODE_ERROR))
}

func TestClassRegistry(t *testing.T) {
	RegisterClass("Ping", func() interface{} { return &pingPayload{} })

	v, err := NewByClassName("Ping")
	require.NoError(t, err)
	require.IsType(t, &pingPayload{}, v)

	_, err = NewByClassName("DoesNotExist")
	require.Error(t, err)
	require.True(t, rerr.Is(err, rerr.SERVER_DESERIAL_EXCEPTION))
}
