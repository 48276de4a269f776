package reconnect

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconnectAttemptedOnClose(t *testing.T) {
	var attempts int64
	r := New(func(ctx context.Context, key string) error {
		atomic.AddInt64(&attempts, 1)
		return nil
	}, Options{Backoff: 10 * time.Millisecond})
	r.Start()
	defer r.Stop()

	r.NotifyClosed("127.0.0.1:9000")

	require.Eventually(t, func() bool { return atomic.LoadInt64(&attempts) == 1 }, time.Second, 10*time.Millisecond)
}

func TestDisabledAddressIsNotReconnected(t *testing.T) {
	var attempts int64
	r := New(func(ctx context.Context, key string) error {
		atomic.AddInt64(&attempts, 1)
		return nil
	}, Options{Backoff: 10 * time.Millisecond})
	r.Start()
	defer r.Stop()

	r.CloseConnection("127.0.0.1:9000")
	r.NotifyClosed("127.0.0.1:9000")

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int64(0), atomic.LoadInt64(&attempts))
}

func TestAtMostOneInFlightPerKey(t *testing.T) {
	var attempts int64
	block := make(chan struct{})
	r := New(func(ctx context.Context, key string) error {
		atomic.AddInt64(&attempts, 1)
		<-block
		return nil
	}, Options{Backoff: time.Millisecond})
	r.Start()
	defer r.Stop()

	r.NotifyClosed("k")
	time.Sleep(20 * time.Millisecond)
	r.NotifyClosed("k")
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, int64(1), atomic.LoadInt64(&attempts))
	close(block)
}
