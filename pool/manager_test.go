package pool

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/stretchr/testify/require"

	"github.com/WuKongIM/wkrpc/invoke"
	"github.com/WuKongIM/wkrpc/transport"
)

func fakeDial(dialCount *int64) DialFunc {
	return func(ctx context.Context, addr Address) (*transport.Connection, error) {
		atomic.AddInt64(dialCount, 1)
		tw := timingwheel.NewTimingWheel(10*time.Millisecond, 20)
		tw.Start()
		a, b := net.Pipe()
		peer := transport.NewConnection(b, transport.Options{Registry: invoke.NewRegistry(tw)})
		_ = peer
		return transport.NewConnection(a, transport.Options{Registry: invoke.NewRegistry(tw)}), nil
	}
}

func TestGetAndCreateIfAbsentBuildsAndCaches(t *testing.T) {
	tw := timingwheel.NewTimingWheel(10*time.Millisecond, 20)
	tw.Start()
	defer tw.Stop()

	var dialCount int64
	m := NewManager(fakeDial(&dialCount), tw)
	defer m.Stop()

	addr, err := ParseAddress("127.0.0.1:9000?_CONNECTIONNUM=3")
	require.NoError(t, err)

	conn, err := m.GetAndCreateIfAbsent(context.Background(), addr)
	require.NoError(t, err)
	require.NotNil(t, conn)

	got := m.Get(addr.UniqueKey())
	require.NotNil(t, got)
}

func TestGetAndCreateIfAbsentSharesInFlightBuild(t *testing.T) {
	tw := timingwheel.NewTimingWheel(10*time.Millisecond, 20)
	tw.Start()
	defer tw.Stop()

	var dialCount int64
	m := NewManager(fakeDial(&dialCount), tw)
	defer m.Stop()

	addr, err := ParseAddress("127.0.0.1:9001")
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = m.GetAndCreateIfAbsent(context.Background(), addr)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	require.NotNil(t, m.Get(addr.UniqueKey()))
}

func TestRemoveClosesAllConnections(t *testing.T) {
	tw := timingwheel.NewTimingWheel(10*time.Millisecond, 20)
	tw.Start()
	defer tw.Stop()

	var dialCount int64
	m := NewManager(fakeDial(&dialCount), tw)
	defer m.Stop()

	addr, err := ParseAddress("127.0.0.1:9002")
	require.NoError(t, err)
	conn, err := m.GetAndCreateIfAbsent(context.Background(), addr)
	require.NoError(t, err)

	m.Remove(addr.UniqueKey())
	require.Eventually(t, func() bool { return !conn.IsActive() }, time.Second, 10*time.Millisecond)
	require.Nil(t, m.Get(addr.UniqueKey()))
}
