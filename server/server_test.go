package server

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/stretchr/testify/require"

	"github.com/WuKongIM/wkrpc/invoke"
	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/transport"
)

type echoProcessor struct {
	BaseProcessor
}

func (p *echoProcessor) HandleRequest(ctx context.Context, rc *Context, async *AsyncContext) ([]byte, error) {
	return append([]byte("ok:"), rc.Content...), nil
}

func dialClientConn(t *testing.T, addr string, tw *timingwheel.TimingWheel) *transport.Connection {
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return transport.NewConnection(nc, transport.Options{Registry: invoke.NewRegistry(tw)})
}

func TestServerSyncEcho(t *testing.T) {
	s := New(WithAddr("127.0.0.1:0"))
	require.NoError(t, s.RegisterProcessor(&echoProcessor{BaseProcessor{ClassName: "Ping"}}))
	require.NoError(t, s.Start())
	defer s.Stop()

	tw := timingwheel.NewTimingWheel(10*time.Millisecond, 20)
	tw.Start()
	defer tw.Stop()

	client := dialClientConn(t, s.Addr().String(), tw)
	defer client.Close(nil)

	req := &proto.Frame{
		Proto:     proto.V1,
		Type:      proto.TypeRequest,
		CmdCode:   proto.CmdRequest,
		RequestID: client.NextRequestID(),
		ClassName: []byte("Ping"),
		Content:   []byte("hi"),
	}
	future, err := client.Send(req, true, time.Second, nil)
	require.NoError(t, err)

	res, err := future.Await(time.Second)
	require.NoError(t, err)
	require.Equal(t, rerrors.SUCCESS, res.Status)
	require.Equal(t, "ok:hi", string(res.Content))
}

func TestServerNoProcessor(t *testing.T) {
	s := New(WithAddr("127.0.0.1:0"))
	require.NoError(t, s.Start())
	defer s.Stop()

	tw := timingwheel.NewTimingWheel(10*time.Millisecond, 20)
	tw.Start()
	defer tw.Stop()

	client := dialClientConn(t, s.Addr().String(), tw)
	defer client.Close(nil)

	req := &proto.Frame{
		Proto:     proto.V1,
		Type:      proto.TypeRequest,
		CmdCode:   proto.CmdRequest,
		RequestID: client.NextRequestID(),
		ClassName: []byte("Nope"),
	}
	future, err := client.Send(req, true, time.Second, nil)
	require.NoError(t, err)

	res, err := future.Await(time.Second)
	require.Error(t, err)
	require.Equal(t, rerrors.NO_PROCESSOR, res.Status)
}

func TestServerOnewayDoesNotRespond(t *testing.T) {
	s := New(WithAddr("127.0.0.1:0"))
	proc := &countingProcessor{BaseProcessor: BaseProcessor{ClassName: "Count"}}
	require.NoError(t, s.RegisterProcessor(proc))
	require.NoError(t, s.Start())
	defer s.Stop()

	tw := timingwheel.NewTimingWheel(10*time.Millisecond, 20)
	tw.Start()
	defer tw.Stop()

	client := dialClientConn(t, s.Addr().String(), tw)
	defer client.Close(nil)

	for i := 0; i < 100; i++ {
		req := &proto.Frame{
			Proto:     proto.V1,
			Type:      proto.TypeOneway,
			CmdCode:   proto.CmdRequest,
			RequestID: client.NextRequestID(),
			ClassName: []byte("Count"),
		}
		_, err := client.Send(req, false, 0, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return proc.count() == 100 }, 2*time.Second, 10*time.Millisecond)
}

type countingProcessor struct {
	BaseProcessor
	n int64
}

func (p *countingProcessor) count() int64 { return atomic.LoadInt64(&p.n) }

func (p *countingProcessor) HandleRequest(ctx context.Context, rc *Context, async *AsyncContext) ([]byte, error) {
	atomic.AddInt64(&p.n, 1)
	return nil, nil
}
