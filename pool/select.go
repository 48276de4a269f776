package pool

import (
	"math/rand"
	"sync"

	"github.com/WuKongIM/wkrpc/transport"
)

// SelectStrategy chooses one live connection from a snapshot. The
// snapshot is read lock-free by design (spec.md 5: "selection reads the
// snapshot lock-free").
type SelectStrategy interface {
	Select(conns []*transport.Connection) *transport.Connection
}

// RandomStrategy is the default: uniform random over live connections.
// The pack has no direct dependency reaching for anything fancier than
// math/rand for unkeyed selection (its own non-crypto-random uses are
// plain stdlib or fastrand, which this module does not otherwise need),
// so math/rand is used here rather than importing a dependency for a
// single Intn call.
type RandomStrategy struct{}

func (RandomStrategy) Select(conns []*transport.Connection) *transport.Connection {
	if len(conns) == 0 {
		return nil
	}
	return conns[rand.Intn(len(conns))]
}

// Pool is an append-only list of Connections for one unique key plus a
// selection strategy. Mutation is guarded by a lock; Get reads a
// snapshot slice so selection itself never blocks on the write lock.
type Pool struct {
	mu       sync.RWMutex
	conns    []*transport.Connection
	strategy SelectStrategy
	warmedUp bool
}

func NewPool(strategy SelectStrategy) *Pool {
	if strategy == nil {
		strategy = RandomStrategy{}
	}
	return &Pool{strategy: strategy}
}

// Add appends conn to the pool and marks conn as reachable under key.
func (p *Pool) Add(conn *transport.Connection, key string) {
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.mu.Unlock()
	conn.AddPoolKey(key)
}

// Remove drops conn from the pool.
func (p *Pool) Remove(conn *transport.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.conns {
		if c == conn {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			return
		}
	}
}

// Get selects one live connection, skipping inactive ones, or nil if the
// pool has no live connections.
func (p *Pool) Get() *transport.Connection {
	p.mu.RLock()
	snapshot := make([]*transport.Connection, 0, len(p.conns))
	for _, c := range p.conns {
		if c.IsActive() {
			snapshot = append(snapshot, c)
		}
	}
	p.mu.RUnlock()
	return p.strategy.Select(snapshot)
}

// Len returns the number of connections currently tracked, live or not.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// LiveCount returns the number of active connections.
func (p *Pool) LiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, c := range p.conns {
		if c.IsActive() {
			n++
		}
	}
	return n
}

func (p *Pool) markWarmedUp() {
	p.mu.Lock()
	p.warmedUp = true
	p.mu.Unlock()
}

func (p *Pool) isWarmedUp() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.warmedUp
}

// CloseAll closes every connection in the pool.
func (p *Pool) CloseAll(cause error) {
	p.mu.RLock()
	conns := append([]*transport.Connection{}, p.conns...)
	p.mu.RUnlock()
	for _, c := range conns {
		c.Close(cause)
	}
}
