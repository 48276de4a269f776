package invoke

import (
	"testing"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/stretchr/testify/require"

	"github.com/WuKongIM/wkrpc/rerrors"
)

func newTestRegistry(t *testing.T) (*Registry, func()) {
	tw := timingwheel.NewTimingWheel(10*time.Millisecond, 20)
	tw.Start()
	r := NewRegistry(tw)
	return r, tw.Stop
}

func TestCompleteDeliversResultToAwait(t *testing.T) {
	r, stop := newTestRegistry(t)
	defer stop()

	f := r.Add(1, time.Second, nil)
	go func() {
		r.Complete(&Result{RequestID: 1, Status: rerrors.SUCCESS, Content: []byte("ok")})
	}()

	res, err := f.Await(time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", string(res.Content))
	require.Equal(t, 0, r.Len())
}

func TestUnknownIDIsDroppedSilently(t *testing.T) {
	r, stop := newTestRegistry(t)
	defer stop()

	require.NotPanics(t, func() {
		r.Complete(&Result{RequestID: 999, Status: rerrors.SUCCESS})
	})
}

func TestResponseAfterTimeoutIsIgnored(t *testing.T) {
	r, stop := newTestRegistry(t)
	defer stop()

	f := r.Add(2, 20*time.Millisecond, nil)
	res, err := f.Await(200 * time.Millisecond)
	require.Error(t, err)
	require.Equal(t, rerrors.TIMEOUT, res.Status)

	// A late response for the same id arrives after the future already
	// completed via timeout; per spec.md 9's Open Question this must be
	// ignored silently rather than re-completing the future.
	require.NotPanics(t, func() {
		r.Complete(&Result{RequestID: 2, Status: rerrors.SUCCESS})
	})
}

func TestDuplicateAddPanics(t *testing.T) {
	r, stop := newTestRegistry(t)
	defer stop()

	r.Add(3, time.Second, nil)
	require.Panics(t, func() {
		r.Add(3, time.Second, nil)
	})
}

func TestDrainWithErrorCompletesAllPending(t *testing.T) {
	r, stop := newTestRegistry(t)
	defer stop()

	f1 := r.Add(10, time.Second, nil)
	f2 := r.Add(11, time.Second, nil)

	r.DrainWithError(rerrors.CONNECTION_CLOSED, rerrors.New(rerrors.CONNECTION_CLOSED, "closed"))

	_, err1 := f1.Await(time.Second)
	_, err2 := f2.Await(time.Second)
	require.True(t, rerrors.Is(err1, rerrors.CONNECTION_CLOSED))
	require.True(t, rerrors.Is(err2, rerrors.CONNECTION_CLOSED))
	require.Equal(t, 0, r.Len())
}

func TestCallbackInvokedExactlyOnce(t *testing.T) {
	r, stop := newTestRegistry(t)
	defer stop()

	calls := 0
	f := r.Add(20, 30*time.Millisecond, func(res *Result) {
		calls++
	})
	// let the exact timer fire first...
	time.Sleep(100 * time.Millisecond)
	// ...then race a late Complete against it.
	r.Complete(&Result{RequestID: 20, Status: rerrors.SUCCESS})
	_ = f
	require.Equal(t, 1, calls)
}
