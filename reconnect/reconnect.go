// Package reconnect implements the optional background reconnector:
// draining close events for addresses not explicitly disabled and
// restoring them at a fixed back-off, at most one in-flight attempt per
// address (spec.md 4.9). Grounded on client2.go's run() retry loop
// (fixed errSleepDuri between DialTimeout attempts) and
// clientEvent.OnTick's disconnect->connecting polling.
package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/WuKongIM/wkrpc/rlog"
)

// ReconnectFunc attempts to restore a connection for key. Supplied by
// the owning client/server facade.
type ReconnectFunc func(ctx context.Context, key string) error

// Options configures the Reconnector.
type Options struct {
	Backoff time.Duration
}

func DefaultOptions() Options {
	return Options{Backoff: time.Second}
}

// Reconnector is the CONN_RECONNECT_SWITCH background worker. It is
// entirely optional: a client/server that never calls Start never pays
// for it.
type Reconnector struct {
	opts Options
	fn   ReconnectFunc
	log  rlog.Log

	mu       sync.Mutex
	disabled map[string]struct{}
	inFlight map[string]struct{}

	events chan string
	stopCh chan struct{}
}

func New(fn ReconnectFunc, opts Options) *Reconnector {
	return &Reconnector{
		opts:     opts,
		fn:       fn,
		log:      rlog.New("reconnect"),
		disabled: make(map[string]struct{}),
		inFlight: make(map[string]struct{}),
		events:   make(chan string, 256),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker goroutine that drains close events.
func (r *Reconnector) Start() {
	go r.loop()
}

// Stop halts the worker; safe to call once.
func (r *Reconnector) Stop() {
	close(r.stopCh)
}

// NotifyClosed enqueues a CLOSE event for key. A no-op if key has been
// explicitly disabled via CloseConnection.
func (r *Reconnector) NotifyClosed(key string) {
	r.mu.Lock()
	_, disabled := r.disabled[key]
	r.mu.Unlock()
	if disabled {
		return
	}
	select {
	case r.events <- key:
	default:
		r.log.Warn("reconnect event queue full, dropping event")
	}
}

// CloseConnection marks key as intentionally closed: no automatic
// reconnect will be attempted for it until Enable is called.
func (r *Reconnector) CloseConnection(key string) {
	r.mu.Lock()
	r.disabled[key] = struct{}{}
	r.mu.Unlock()
}

// Enable re-permits automatic reconnect for a previously disabled key.
func (r *Reconnector) Enable(key string) {
	r.mu.Lock()
	delete(r.disabled, key)
	r.mu.Unlock()
}

func (r *Reconnector) loop() {
	for {
		select {
		case <-r.stopCh:
			return
		case key := <-r.events:
			r.maybeReconnect(key)
		}
	}
}

func (r *Reconnector) maybeReconnect(key string) {
	r.mu.Lock()
	if _, disabled := r.disabled[key]; disabled {
		r.mu.Unlock()
		return
	}
	if _, busy := r.inFlight[key]; busy {
		r.mu.Unlock()
		return
	}
	r.inFlight[key] = struct{}{}
	r.mu.Unlock()

	taskID := uuid.NewString()
	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inFlight, key)
			r.mu.Unlock()
		}()

		time.Sleep(r.opts.Backoff)
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.Backoff*5)
		defer cancel()
		if err := r.fn(ctx, key); err != nil {
			r.log.Warn("reconnect attempt failed", zap.String("task", taskID), zap.String("key", key))
		}
	}()
}
