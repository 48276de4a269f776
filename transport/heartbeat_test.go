package transport

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WuKongIM/wkrpc/invoke"
	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/rerrors"
)

// TestHeartbeatEvictsUnresponsivePeer exercises scenario (e): a peer that
// stops answering (rather than closing the socket outright) is evicted
// once heartbeatMissed reaches MaxMissed, and any pending invoke on that
// connection fails with CONNECTION_CLOSED.
func TestHeartbeatEvictsUnresponsivePeer(t *testing.T) {
	tw := newTestPairTW(t)
	clientSide, deadPeer := net.Pipe()

	// The peer accepts bytes but never answers, simulating an
	// unresponsive server that has not actually torn down the socket.
	go func() { _, _ = io.Copy(io.Discard, deadPeer) }()
	t.Cleanup(func() { _ = deadPeer.Close() })

	client := NewConnection(clientSide, Options{
		Registry:        invoke.NewRegistry(tw),
		EnableHeartbeat: true,
	})
	defer client.Close(nil)

	pending, err := client.Send(&proto.Frame{
		Proto: proto.V1, Type: proto.TypeRequest, CmdCode: proto.CmdRequest,
		RequestID: client.NextRequestID(), ClassName: []byte("Ping"),
	}, true, 5*time.Second, nil)
	require.NoError(t, err)

	opts := HeartbeatOptions{Interval: 30 * time.Millisecond, MaxMissed: 2, Timeout: 20 * time.Millisecond}
	hb := StartClientHeartbeat(client, opts, tw)
	defer hb.Stop()

	require.Eventually(t, func() bool { return !client.IsActive() }, 2*time.Second, 10*time.Millisecond)

	res, err := pending.Await(time.Second)
	require.Error(t, err)
	require.Equal(t, rerrors.CONNECTION_CLOSED, res.Status)
}
