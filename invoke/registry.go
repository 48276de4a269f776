package invoke

import (
	"sync"
	"time"

	"github.com/RussellLuo/timingwheel"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/rlog"
)

// Registry is the pending-request table private to one Connection.
// add/remove/scan mirror spec.md 4.4 exactly: add must be unique, remove
// pops on response arrival or local cancellation, scan is the coarse
// reaper safety net behind each future's own exact timer.
type Registry struct {
	mu      sync.Mutex
	pending map[uint32]*Future
	tw      *timingwheel.TimingWheel

	// recentlyDone records the request ids of the last 4096 responses
	// passed to Complete, known or not. It is bounded, so stale ids do not
	// accumulate; Complete does not consult it when deciding whether to
	// drop a response (that decision is the pending-map lookup alone).
	recentlyDone *lru.Cache[uint32, struct{}]

	// callbackPool, when set, is where a completed future's callback runs
	// instead of the caller of Complete — normally the connection's own
	// readLoop goroutine. Without it a slow InvokeWithCallback consumer
	// would stall decoding of every other frame on that connection,
	// including unrelated pending responses and heartbeat answers.
	callbackPool *ants.Pool

	log rlog.Log
}

// NewRegistry constructs a Registry sharing tw for per-request exact
// timeout timers. tw is owned by the caller (typically one per process,
// per pkg/wknet's idleTimer convention of sharing a single wheel).
func NewRegistry(tw *timingwheel.TimingWheel) *Registry {
	cache, _ := lru.New[uint32, struct{}](4096)
	return &Registry{
		pending:      make(map[uint32]*Future),
		tw:           tw,
		recentlyDone: cache,
		log:          rlog.New("invoke.registry"),
	}
}

// SetCallbackExecutor installs pool as where every completed future's
// callback on this registry runs, off the goroutine that called
// Complete/Timeout/DrainWithError/Scan. Not safe to change once the
// registry is handling traffic; callers set it once, right after
// construction.
func (r *Registry) SetCallbackExecutor(pool *ants.Pool) {
	r.callbackPool = pool
}

// Add inserts a new pending future for id, arming both the exact timer
// and recording the reaper deadline. Duplicate ids are a programmer
// error per spec.md 4.4 and panic rather than silently overwrite.
func (r *Registry) Add(id uint32, timeout time.Duration, callback func(*Result)) *Future {
	if callback != nil && r.callbackPool != nil {
		callback = r.dispatchCallback(callback)
	}
	r.mu.Lock()
	if _, exists := r.pending[id]; exists {
		r.mu.Unlock()
		r.log.Panic("duplicate request id registered while still pending")
	}
	f := newFuture(id, time.Now().Add(timeout), callback)
	r.pending[id] = f
	r.mu.Unlock()

	timer := r.tw.AfterFunc(timeout, func() {
		r.Timeout(id)
	})
	f.cancelTimer = func() { timer.Stop() }
	return f
}

// dispatchCallback wraps cb to run on r.callbackPool, falling back to
// running inline if the pool rejects the submission (full and
// non-blocking, or shutting down) rather than dropping the result.
func (r *Registry) dispatchCallback(cb func(*Result)) func(*Result) {
	return func(res *Result) {
		err := r.callbackPool.Submit(func() { cb(res) })
		if err != nil {
			r.log.Warn("callback executor rejected submission, running inline")
			cb(res)
		}
	}
}

// Remove pops the pending future for id without completing it, used for
// local cancellation.
func (r *Registry) Remove(id uint32) *Future {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return f
}

// Complete resolves the pending future for res.RequestID, if any. A
// response with an unknown request id (already completed, or never
// registered) is logged and dropped — invariant 3, and the resolution of
// spec.md 9's Open Question.
func (r *Registry) Complete(res *Result) {
	r.mu.Lock()
	f, ok := r.pending[res.RequestID]
	if ok {
		delete(r.pending, res.RequestID)
	}
	r.recentlyDone.Add(res.RequestID, struct{}{})
	r.mu.Unlock()

	if !ok {
		r.log.Debug("response for unknown or already-completed request id, dropping")
		return
	}
	f.complete(res)
}

// Timeout completes the pending future for id with a TIMEOUT result, if
// it is still pending. Invoked by the future's own timer.
func (r *Registry) Timeout(id uint32) {
	r.mu.Lock()
	f, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	f.complete(&Result{RequestID: id, Status: rerrors.TIMEOUT, Err: rerrors.New(rerrors.TIMEOUT, "invoke timed out")})
}

// Scan is the coarse reaper: anything whose deadline has passed but
// whose exact timer has not yet fired (scheduler starvation, timer wheel
// tick granularity) is completed with TIMEOUT here instead. Nothing in
// this module calls Scan on a schedule; it runs only when the registry's
// owner calls it.
func (r *Registry) Scan() {
	now := time.Now()
	var expired []*Future
	r.mu.Lock()
	for id, f := range r.pending {
		if now.After(f.deadline) {
			expired = append(expired, f)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, f := range expired {
		r.log.Warn("reaper caught a future the exact timer missed")
		f.complete(&Result{RequestID: f.id, Status: rerrors.TIMEOUT, Err: rerrors.New(rerrors.TIMEOUT, "invoke timed out")})
	}
}

// DrainWithError completes every pending future with err, used when the
// owning Connection closes (spec.md 4.3: "every entry in pendingInvokes
// is completed with CONNECTION_CLOSED").
func (r *Registry) DrainWithError(status rerrors.Status, err error) {
	r.mu.Lock()
	all := make([]*Future, 0, len(r.pending))
	for id, f := range r.pending {
		all = append(all, f)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	for _, f := range all {
		f.complete(&Result{RequestID: f.id, Status: status, Err: err})
	}
}

// Len reports the number of pending entries, used by tests to assert an
// empty table after drain (spec.md 8, scenario f).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
