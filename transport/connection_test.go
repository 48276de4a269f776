package transport

import (
	"net"
	"testing"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/stretchr/testify/require"

	"github.com/WuKongIM/wkrpc/invoke"
	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/rerrors"
)

func newTestPairTW(t *testing.T) *timingwheel.TimingWheel {
	tw := timingwheel.NewTimingWheel(10*time.Millisecond, 20)
	tw.Start()
	t.Cleanup(tw.Stop)
	return tw
}

func TestConnectionSyncRequestResponse(t *testing.T) {
	tw := newTestPairTW(t)
	serverSide, clientSide := net.Pipe()

	serverConn := NewConnection(serverSide, Options{
		Registry: invoke.NewRegistry(tw),
		Dispatch: func(c *Connection, f *proto.Frame) {
			if f.Type == proto.TypeRequest && f.CmdCode == proto.CmdRequest {
				resp := &proto.Frame{
					Proto:     proto.V1,
					Type:      proto.TypeResponse,
					CmdCode:   proto.CmdResponse,
					RequestID: f.RequestID,
					Codec:     f.Codec,
					Status:    uint16(rerrors.SUCCESS),
					Content:   append([]byte("ok:"), f.Content...),
				}
				_, _ = c.Send(resp, false, 0, nil)
			}
		},
	})
	defer serverConn.Close(nil)

	client := NewConnection(clientSide, Options{Registry: invoke.NewRegistry(tw)})
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
	require.Equal(t, "ok:hi", string(res.Content))
}

func TestConnectionCloseDrainsPending(t *testing.T) {
	tw := newTestPairTW(t)
	a, b := net.Pipe()

	client := NewConnection(a, Options{Registry: invoke.NewRegistry(tw)})
	other := NewConnection(b, Options{Registry: invoke.NewRegistry(tw)})
	defer other.Close(nil)

	req := &proto.Frame{Proto: proto.V1, Type: proto.TypeRequest, CmdCode: proto.CmdRequest, RequestID: client.NextRequestID()}
	future, err := client.Send(req, true, 5*time.Second, nil)
	require.NoError(t, err)

	client.Close(nil)

	res, err := future.Await(time.Second)
	require.Error(t, err)
	require.Equal(t, rerrors.CONNECTION_CLOSED, res.Status)
}

func TestHeartbeatAnsweredInline(t *testing.T) {
	tw := newTestPairTW(t)
	serverSide, clientSide := net.Pipe()

	dispatchCalled := false
	server := NewConnection(serverSide, Options{
		Registry: invoke.NewRegistry(tw),
		Dispatch: func(c *Connection, f *proto.Frame) { dispatchCalled = true },
	})
	defer server.Close(nil)

	client := NewConnection(clientSide, Options{Registry: invoke.NewRegistry(tw), EnableHeartbeat: true})
	defer client.Close(nil)

	hb := &proto.Frame{Proto: proto.V1, Type: proto.TypeRequest, CmdCode: proto.CmdHeartbeat, RequestID: client.NextRequestID()}
	future, err := client.Send(hb, true, time.Second, nil)
	require.NoError(t, err)

	res, err := future.Await(time.Second)
	require.NoError(t, err)
	require.Equal(t, rerrors.SUCCESS, res.Status)
	require.False(t, dispatchCalled)
}
