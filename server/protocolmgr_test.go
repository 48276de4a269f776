package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/stretchr/testify/require"

	"github.com/WuKongIM/wkrpc/invoke"
	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/transport"
)

type taggedEchoProcessor struct {
	BaseProcessor
	tag string
}

func (p *taggedEchoProcessor) HandleRequest(ctx context.Context, rc *Context, async *AsyncContext) ([]byte, error) {
	return append([]byte(p.tag+":"), rc.Content...), nil
}

// TestProtocolManagerRoutesByFrameProto exercises two Servers sharing one
// ProtocolManager: a connection dials only the first Server's listener,
// but a frame carrying the second Server's protocol code is routed to
// the second Server's own processor rather than the accepting Server's.
func TestProtocolManagerRoutesByFrameProto(t *testing.T) {
	mgr := NewProtocolManager()

	const codeA byte = 1
	const codeB byte = 3

	sA := New(WithAddr("127.0.0.1:0"), WithProtocolCode(codeA), WithProtocolManager(mgr))
	require.NoError(t, sA.RegisterProcessor(&taggedEchoProcessor{BaseProcessor{ClassName: "Ping"}, "A"}))
	require.NoError(t, sA.Start())
	defer sA.Stop()

	sB := New(WithAddr("127.0.0.1:0"), WithProtocolCode(codeB), WithProtocolManager(mgr))
	require.NoError(t, sB.RegisterProcessor(&taggedEchoProcessor{BaseProcessor{ClassName: "Ping"}, "B"}))
	require.NoError(t, sB.Start())
	defer sB.Stop()

	// Both Servers have registered into the shared registry; only now is
	// it safe to close it to further registration.
	mgr.Lock()

	tw := timingwheel.NewTimingWheel(10*time.Millisecond, 20)
	tw.Start()
	defer tw.Stop()

	nc, err := net.Dial("tcp", sA.Addr().String())
	require.NoError(t, err)
	client := transport.NewConnection(nc, transport.Options{Registry: invoke.NewRegistry(tw)})
	defer client.Close(nil)

	send := func(protoCode byte, content string) *invoke.Result {
		req := &proto.Frame{
			Proto:     protoCode,
			Type:      proto.TypeRequest,
			CmdCode:   proto.CmdRequest,
			RequestID: client.NextRequestID(),
			ClassName: []byte("Ping"),
			Content:   []byte(content),
		}
		future, err := client.Send(req, true, time.Second, nil)
		require.NoError(t, err)
		res, err := future.Await(time.Second)
		require.NoError(t, err)
		return res
	}

	resA := send(codeA, "hi")
	require.Equal(t, rerrors.SUCCESS, resA.Status)
	require.Equal(t, "A:hi", string(resA.Content))

	// codeB was never registered against sA directly; it only resolves
	// through the ProtocolManager sA and sB share.
	resB := send(codeB, "hi")
	require.Equal(t, rerrors.SUCCESS, resB.Status)
	require.Equal(t, "B:hi", string(resB.Content))
}
