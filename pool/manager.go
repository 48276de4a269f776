package pool

import (
	"context"
	"sync"
	"time"

	"github.com/RussellLuo/timingwheel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/rlog"
	"github.com/WuKongIM/wkrpc/transport"
)

// DialFunc dials one physical connection for addr. Supplied by the
// client/server facade, which knows how to wrap the resulting net.Conn
// in a transport.Connection with the right registry, dispatch, and
// heartbeat options.
type DialFunc func(ctx context.Context, addr Address) (*transport.Connection, error)

// Manager maps uniqueKey(address) -> Pool, implementing
// getAndCreateIfAbsent/get/add/remove/check exactly per spec.md 4.7.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool

	dial DialFunc
	sf   singleflight.Group

	tw          *timingwheel.TimingWheel
	scanTimer   *timingwheel.Timer
	scanPeriod  time.Duration

	log rlog.Log
}

func NewManager(dial DialFunc, tw *timingwheel.TimingWheel) *Manager {
	m := &Manager{
		pools:      make(map[string]*Pool),
		dial:       dial,
		tw:         tw,
		scanPeriod: 10 * time.Second,
		log:        rlog.New("pool.manager"),
	}
	m.armScan()
	return m
}

func (m *Manager) armScan() {
	m.scanTimer = m.tw.AfterFunc(m.scanPeriod, m.scan)
}

// scan walks every pool: pools with zero live connections and no
// warmup requirement are removed (spec.md 4.7's "Pool maintenance").
// It does not look at heartbeat counters and closes no connections; a
// connection over the miss threshold is closed by its own
// transport.ClientHeartbeat.
func (m *Manager) scan() {
	m.mu.Lock()
	type entry struct {
		key  string
		pool *Pool
	}
	entries := make([]entry, 0, len(m.pools))
	for k, p := range m.pools {
		entries = append(entries, entry{k, p})
	}
	m.mu.Unlock()

	for _, e := range entries {
		if e.pool.LiveCount() == 0 && !e.pool.isWarmedUp() {
			m.mu.Lock()
			delete(m.pools, e.key)
			m.mu.Unlock()
		}
	}
	m.armScan()
}

// getAndCreateIfAbsent returns an existing warmed pool for addr, or
// builds one, racing up to addr.ConnectionNum parallel dials and
// unblocking the caller on the first success while the rest continue in
// the background. Concurrent callers for the same key share a single
// build via singleflight.
func (m *Manager) GetAndCreateIfAbsent(ctx context.Context, addr Address) (*transport.Connection, error) {
	key := addr.UniqueKey()

	m.mu.RLock()
	p, ok := m.pools[key]
	m.mu.RUnlock()
	if ok && p.LiveCount() > 0 {
		return p.Get(), nil
	}

	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		return m.build(ctx, key, addr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*transport.Connection), nil
}

func (m *Manager) build(ctx context.Context, key string, addr Address) (*transport.Connection, error) {
	m.mu.Lock()
	p, ok := m.pools[key]
	if !ok {
		p = NewPool(nil)
		m.pools[key] = p
	}
	m.mu.Unlock()

	n := addr.ConnectionNum
	if n < 1 {
		n = 1
	}

	if addr.ConnectionWarmup {
		return m.warmupSync(ctx, addr, p, key, n)
	}
	return m.warmupRace(ctx, addr, p, key, n)
}

// warmupRace dials n connections in parallel, returning as soon as the
// first succeeds; the remaining dials continue in the background and are
// added to the pool as they complete.
func (m *Manager) warmupRace(ctx context.Context, addr Address, p *Pool, key string, n int) (*transport.Connection, error) {
	type result struct {
		conn *transport.Connection
		err  error
	}
	resCh := make(chan result, 1)
	var once sync.Once
	var failMu sync.Mutex
	failures := 0

	for i := 0; i < n; i++ {
		go func() {
			dialCtx, cancel := context.WithTimeout(ctx, addr.ConnectTimeout)
			defer cancel()
			conn, err := m.dial(dialCtx, addr)
			if err != nil {
				// Only the last of n failures unblocks the caller with an
				// error; any success before that wins the race.
				failMu.Lock()
				failures++
				allFailed := failures == n
				failMu.Unlock()
				if allFailed {
					once.Do(func() { resCh <- result{nil, err} })
				}
				return
			}
			p.Add(conn, key)
			once.Do(func() { resCh <- result{conn, nil} })
		}()
	}

	r := <-resCh
	if r.err != nil {
		return nil, rerrors.Wrap(rerrors.ERROR_COMM, r.err)
	}
	return r.conn, nil
}

// warmupSync builds the full target pool size synchronously before
// returning, per the _CONNECTIONWARMUP=true address option.
func (m *Manager) warmupSync(ctx context.Context, addr Address, p *Pool, key string, n int) (*transport.Connection, error) {
	g, gctx := errgroup.WithContext(ctx)
	conns := make([]*transport.Connection, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			dialCtx, cancel := context.WithTimeout(gctx, addr.ConnectTimeout)
			defer cancel()
			conn, err := m.dial(dialCtx, addr)
			if err != nil {
				return err
			}
			conns[i] = conn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, rerrors.Wrap(rerrors.ERROR_COMM, err)
	}
	for _, c := range conns {
		p.Add(c, key)
	}
	p.markWarmedUp()
	return p.Get(), nil
}

// Get returns a selected live connection for key, or nil.
func (m *Manager) Get(key string) *transport.Connection {
	m.mu.RLock()
	p, ok := m.pools[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.Get()
}

// Add appends conn to the pool for key, creating the pool if absent.
func (m *Manager) Add(conn *transport.Connection, key string) {
	m.mu.Lock()
	p, ok := m.pools[key]
	if !ok {
		p = NewPool(nil)
		m.pools[key] = p
	}
	m.mu.Unlock()
	p.Add(conn, key)
}

// Remove removes the pool for key, closing all its connections.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	p, ok := m.pools[key]
	delete(m.pools, key)
	m.mu.Unlock()
	if ok {
		p.CloseAll(rerrors.New(rerrors.CONNECTION_CLOSED, "pool removed"))
	}
}

// Check returns CONNECTION_CLOSED if conn is nil or inactive.
func Check(conn *transport.Connection) error {
	if conn == nil || !conn.IsActive() {
		return rerrors.New(rerrors.CONNECTION_CLOSED, "connection is nil or inactive")
	}
	return nil
}

// RemoveConnectionFromAllKeys drops conn from every pool named in its
// poolKeys, satisfying spec.md 3's alias-removal invariant. Intended to
// be wired as a transport.EventListener for EventClose.
func (m *Manager) RemoveConnectionFromAllKeys(conn *transport.Connection) {
	for _, key := range conn.PoolKeys() {
		m.mu.RLock()
		p, ok := m.pools[key]
		m.mu.RUnlock()
		if ok {
			p.Remove(conn)
		}
	}
}

// Stop halts the background scanner.
func (m *Manager) Stop() {
	if m.scanTimer != nil {
		m.scanTimer.Stop()
	}
}

// CloseAll closes every connection in every pool and forgets the pools,
// used by a client's Shutdown per spec.md 4.8 ("shutdown() closes the
// manager").
func (m *Manager) CloseAll(cause error) {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()
	for _, p := range pools {
		p.CloseAll(cause)
	}
}
