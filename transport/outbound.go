package transport

import (
	"net"
	"sync"

	"go.uber.org/atomic"

	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/rlog"
)

// OutboundOptions configures the write path's backpressure watermarks.
// LowWatermark/HighWatermark mirror bolt.netty.buffer.low_watermark /
// …high_watermark.
type OutboundOptions struct {
	LowWatermark  int64
	HighWatermark int64
}

func NewOutboundOptions() *OutboundOptions {
	return &OutboundOptions{
		LowWatermark:  512 * 1024,
		HighWatermark: 1024 * 1024,
	}
}

// Outbound is the non-blocking write path for one Connection. Unlike the
// host application's Outbound, which stalls a slow caller until pending
// bytes drop back under the high watermark, this Outbound rejects new
// writes immediately once over the high watermark (spec.md 4.3: "writes
// begin to back-pressure by refusing new sends with OVERLOAD_EXCEPTION"),
// since blocking the invoking goroutine is not an option for a library
// whose callers may be on the caller's own request path.
type Outbound struct {
	conn net.Conn
	opts *OutboundOptions

	mu           sync.Mutex
	pendingBytes int64
	queue        net.Buffers
	closed       atomic.Bool

	flushCond *sync.Cond
	log       rlog.Log
}

func NewOutbound(conn net.Conn, opts *OutboundOptions) *Outbound {
	if opts == nil {
		opts = NewOutboundOptions()
	}
	o := &Outbound{
		conn: conn,
		opts: opts,
		log:  rlog.New("transport.outbound"),
	}
	o.flushCond = sync.NewCond(&o.mu)
	go o.writeLoop()
	return o
}

// Write queues b for send, rejecting with OVERLOAD_EXCEPTION when doing
// so would push pending bytes over the high watermark.
func (o *Outbound) Write(b []byte) error {
	if o.closed.Load() {
		return rerrors.New(rerrors.CONNECTION_CLOSED, "outbound closed")
	}
	o.mu.Lock()
	if o.pendingBytes+int64(len(b)) > o.opts.HighWatermark {
		o.mu.Unlock()
		return rerrors.New(rerrors.OVERLOAD_EXCEPTION, "write buffer over high watermark")
	}
	o.queue = append(o.queue, b)
	o.pendingBytes += int64(len(b))
	o.mu.Unlock()
	o.flushCond.Signal()
	return nil
}

// Pending reports the current number of unflushed bytes.
func (o *Outbound) Pending() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pendingBytes
}

func (o *Outbound) writeLoop() {
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed.Load() {
			o.flushCond.Wait()
		}
		if o.closed.Load() && len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		buffers := o.queue
		o.queue = nil
		o.mu.Unlock()

		n, err := buffers.WriteTo(o.conn)
		o.mu.Lock()
		o.pendingBytes -= n
		if o.pendingBytes < 0 {
			o.pendingBytes = 0
		}
		o.mu.Unlock()
		if err != nil {
			o.log.Warn("outbound write failed")
			o.Close()
			return
		}
	}
}

// Close stops the write loop and closes the underlying connection.
func (o *Outbound) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.flushCond.Signal()
	return o.conn.Close()
}
