// Package invoke implements the per-connection invocation registry and
// the InvokeFuture primitive every invoke style is built on: the pending
// table keyed by request id, a per-request exact timeout timer, and a
// coarse Scan pass as a safety net for leaks (spec.md 4.4).
package invoke

import (
	"time"

	"go.uber.org/atomic"

	"github.com/WuKongIM/wkrpc/rerrors"
)

// Result is what completes a Future: either a well-formed response or an
// error carrying the mapped status (timeout, connection closed, codec
// failure, and so on).
type Result struct {
	RequestID uint32
	Status    rerrors.Status
	ClassName string
	Codec     byte
	Content   []byte
	Err       error
}

// Future is the completion object for one outstanding request. It is
// completed exactly once by a matching response, a timeout, or a
// connection close — enforced by a compare-and-set on completed.
type Future struct {
	id        uint32
	deadline  time.Time
	resultCh  chan *Result
	callback  func(*Result)
	completed atomic.Bool
	cancelTimer func()
}

func newFuture(id uint32, deadline time.Time, callback func(*Result)) *Future {
	return &Future{
		id:       id,
		deadline: deadline,
		resultCh: make(chan *Result, 1),
		callback: callback,
	}
}

// ID returns the request id this future correlates to.
func (f *Future) ID() uint32 { return f.id }

// complete resolves the future exactly once. Subsequent calls are no-ops
// that return false, which is how the registry implements "ignore
// silently" for a response arriving after the future already timed out.
func (f *Future) complete(res *Result) bool {
	if !f.completed.CompareAndSwap(false, true) {
		return false
	}
	if f.cancelTimer != nil {
		f.cancelTimer()
	}
	if f.callback != nil {
		f.callback(res)
	}
	f.resultCh <- res
	close(f.resultCh)
	return true
}

// Await blocks the caller until the future completes or the deadline
// passes, whichever is first. This is the only suspension point in the
// synchronous invoke style (spec.md 5's "Suspension points").
func (f *Future) Await(timeout time.Duration) (*Result, error) {
	select {
	case res, ok := <-f.resultCh:
		if !ok {
			return nil, rerrors.New(rerrors.UNKNOWN, "future channel closed without a result")
		}
		return res, res.Err
	case <-time.After(timeout):
		// The registry's own timer is expected to fire first in normal
		// operation; this is a redundant local guard so Await never
		// outlives the caller's requested timeout even under scheduler
		// jitter.
		return nil, rerrors.New(rerrors.TIMEOUT, "invoke timed out waiting locally")
	}
}
