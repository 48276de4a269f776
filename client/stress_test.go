package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"

	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/server"
)

// TestParallelStressNoCollisionsNoLeaks exercises scenario (f): many
// concurrent callers hammering one connection with sync requests, each
// expecting its own correlated echo back, with an empty pending table
// once every call has drained. Scaled down from a full 16x10000 run for
// test wall-clock time; the concurrency and correlation shape is
// unchanged.
func TestParallelStressNoCollisionsNoLeaks(t *testing.T) {
	const goroutines = 16
	const perGoroutine = 200

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	defer pool.Release()

	s := server.New(server.WithAddr("127.0.0.1:0"), server.WithSharedPoolSize(4))
	require.NoError(t, s.RegisterProcessor(&echoProcessor{BaseProcessor: server.BaseProcessor{ClassName: "Ping", Pool: pool}}))
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	c := New()
	require.NoError(t, c.Startup())
	defer c.Shutdown()

	addr := s.Addr().String()
	conn, err := c.resolve(context.Background(), addr)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mismatches, errs int32Counter
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				payload := fmt.Sprintf("g%d-i%d", g, i)
				res, err := c.InvokeSync(addr, &proto.Frame{ClassName: []byte("Ping"), Content: []byte(payload)}, 5*time.Second)
				if err != nil {
					errs.inc()
					continue
				}
				if string(res.Content) != "ok:"+payload {
					mismatches.inc()
				}
			}
		}(g)
	}
	wg.Wait()

	require.EqualValues(t, 0, errs.load())
	require.EqualValues(t, 0, mismatches.load())
	require.Equal(t, 0, conn.PendingCount())
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) load() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
