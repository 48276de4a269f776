// Package transport owns one TCP channel per Connection: per-connection
// state (invoke registry, heartbeat counters, attributes), the
// non-blocking write path, and the idle/heartbeat liveness machinery.
package transport

import (
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/WuKongIM/wkrpc/invoke"
	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/rlog"
)

// Connection owns one net.Conn and all per-connection state: the pending
// invoke table, heartbeat counters, arbitrary attributes, and the set of
// pool unique-keys this connection is reachable under (spec.md 3).
type Connection struct {
	conn       net.Conn
	remoteAddr string
	protocolCode byte
	withCRC    bool

	registry *invoke.Registry
	idGen    *invoke.IDGenerator
	outbound *Outbound

	attributes sync.Map

	poolKeysMu sync.Mutex
	poolKeys   map[string]struct{}

	heartbeatMissed atomic.Int32
	enableHeartbeat bool

	lastReadNano  atomic.Int64
	lastWriteNano atomic.Int64

	closed atomic.Bool
	bus    *EventBus

	// dispatch is invoked for every fully decoded inbound frame that is
	// not a response correlated to a pending future (i.e. requests and
	// onewa­y commands); nil on a pure client connection with no server
	// role.
	dispatch func(conn *Connection, f *proto.Frame)

	// onClose is an optional single-shot hook for the owner's own internal
	// bookkeeping (e.g. removing this connection from a lookup table),
	// called directly rather than through the shared EventBus so an
	// owner accepting many short-lived connections never accumulates one
	// bus listener per connection.
	onClose func(conn *Connection, cause error)

	log rlog.Log
}

// Options configures a new Connection.
type Options struct {
	ProtocolCode    byte
	WithCRC         bool
	EnableHeartbeat bool
	Outbound        *OutboundOptions
	Bus             *EventBus
	Registry        *invoke.Registry
	Dispatch        func(conn *Connection, f *proto.Frame)
	OnClose         func(conn *Connection, cause error)
}

// NewConnection wraps conn, starting its outbound write path and inbound
// read loop. The Connection is returned already bound to the channel per
// spec.md 4.7's "the new Connection is bound to the channel via a
// channel attribute before the pipeline is activated" — here that just
// means readLoop is started only after every field is initialized.
func NewConnection(conn net.Conn, opts Options) *Connection {
	if opts.Registry == nil {
		panic("transport: NewConnection requires a Registry")
	}
	bus := opts.Bus
	if bus == nil {
		bus = NewEventBus()
	}
	c := &Connection{
		conn:            conn,
		remoteAddr:      conn.RemoteAddr().String(),
		protocolCode:    opts.ProtocolCode,
		withCRC:         opts.WithCRC,
		registry:        opts.Registry,
		idGen:           invoke.NewIDGenerator(),
		outbound:        NewOutbound(conn, opts.Outbound),
		poolKeys:        make(map[string]struct{}),
		enableHeartbeat: opts.EnableHeartbeat,
		bus:             bus,
		dispatch:        opts.Dispatch,
		onClose:         opts.OnClose,
		log:             rlog.New("transport.conn"),
	}
	now := time.Now().UnixNano()
	c.lastReadNano.Store(now)
	c.lastWriteNano.Store(now)
	go c.readLoop()
	bus.Publish(Event{Type: EventConnect, Conn: c})
	return c
}

// RemoteAddr returns the string form of the peer address.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// ProtocolCode returns the protocol code negotiated for this connection.
func (c *Connection) ProtocolCode() byte { return c.protocolCode }

// SetProtocolCode overrides the protocol code, used when a connection
// factory needs to pin a non-default protocol per spec.md 4.3.
func (c *Connection) SetProtocolCode(code byte) { c.protocolCode = code }

// IsActive reports whether the connection is still usable.
func (c *Connection) IsActive() bool { return !c.closed.Load() }

// AttrGet/AttrSet expose the arbitrary per-connection attribute bag (spec.md 9's
// "Serializer discovery"/original's Connection#getAttribute contract).
func (c *Connection) AttrGet(key string) (interface{}, bool) { return c.attributes.Load(key) }
func (c *Connection) AttrSet(key string, val interface{})    { c.attributes.Store(key, val) }

// AddPoolKey / PoolKeys implement the poolKeys side of spec.md 3's
// invariant: "reachable by every uniqueKey stored in its poolKeys;
// removal from any alias removes the mapping from all aliases". There is
// no RemovePoolKey: a connection never drops a single alias on its own,
// it only ever leaves every pool at once, which pool.Manager does from
// the outside via RemoveConnectionFromAllKeys reading PoolKeys() and
// calling Pool.Remove per key.
func (c *Connection) AddPoolKey(key string) {
	c.poolKeysMu.Lock()
	c.poolKeys[key] = struct{}{}
	c.poolKeysMu.Unlock()
}

func (c *Connection) PoolKeys() []string {
	c.poolKeysMu.Lock()
	defer c.poolKeysMu.Unlock()
	keys := make([]string, 0, len(c.poolKeys))
	for k := range c.poolKeys {
		keys = append(keys, k)
	}
	return keys
}

// Send writes req and, if expectResponse is true, registers and returns
// an InvokeFuture that the caller (or a callback) can wait on. This is
// the single underlying primitive every invoke style in the client and
// server facades is built on (spec.md 4.8's sendOnConnection).
func (c *Connection) Send(f *proto.Frame, expectResponse bool, timeout time.Duration, callback func(*invoke.Result)) (*invoke.Future, error) {
	if c.closed.Load() {
		return nil, rerrors.New(rerrors.CONNECTION_CLOSED, "connection is closed")
	}

	var future *invoke.Future
	if expectResponse {
		future = c.registry.Add(f.RequestID, timeout, callback)
	}

	buf := proto.Encode(f, c.withCRC)
	if err := c.outbound.Write(buf); err != nil {
		if expectResponse {
			c.registry.Remove(f.RequestID)
		}
		return nil, err
	}
	c.lastWriteNano.Store(time.Now().UnixNano())
	return future, nil
}

// NextRequestID allocates the next monotonic request id for frames this
// connection originates.
func (c *Connection) NextRequestID() uint32 { return c.idGen.Next() }

// PendingCount reports the number of invokes on this connection still
// awaiting completion, used by tests to assert an empty table after a
// batch of requests has fully drained.
func (c *Connection) PendingCount() int { return c.registry.Len() }

func (c *Connection) readLoop() {
	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(tmp)
		if err != nil {
			c.Close(rerrors.Wrap(rerrors.CONNECTION_CLOSED, err))
			return
		}
		c.lastReadNano.Store(time.Now().UnixNano())
		buf = append(buf, tmp[:n]...)

		consumed := proto.Decode(buf, c.withCRC, func(f *proto.Frame, decodeErr error) {
			if decodeErr != nil {
				c.log.Warn("frame decode error, skipping frame")
				return
			}
			c.handleFrame(f)
		})
		buf = append(buf[:0], buf[consumed:]...)
	}
}

func (c *Connection) handleFrame(f *proto.Frame) {
	if f.CmdCode == proto.CmdHeartbeat && f.Type != proto.TypeResponse {
		c.answerHeartbeat(f)
		return
	}
	if f.Type == proto.TypeResponse {
		res := &invoke.Result{
			RequestID: f.RequestID,
			Status:    rerrors.Status(f.Status),
			ClassName: string(f.ClassName),
			Codec:     f.Codec,
			Content:   f.Content,
		}
		if res.Status != rerrors.SUCCESS {
			res.Err = rerrors.New(res.Status, "remote returned a non-success status")
		}
		c.registry.Complete(res)
		return
	}
	if c.dispatch != nil {
		c.dispatch(c, f)
	}
}

// answerHeartbeat replies inline on the read goroutine with no executor
// submission, per spec.md 4.5: "the answer must not require
// user-processor dispatch".
func (c *Connection) answerHeartbeat(f *proto.Frame) {
	resp := &proto.Frame{
		Proto:     f.Proto,
		Ver2:      f.Ver2,
		Type:      proto.TypeResponse,
		CmdCode:   proto.CmdHeartbeat,
		RequestID: f.RequestID,
		Codec:     f.Codec,
		Status:    uint16(rerrors.SUCCESS),
	}
	buf := proto.Encode(resp, c.withCRC)
	if err := c.outbound.Write(buf); err != nil {
		c.log.Warn("failed writing heartbeat response")
	}
}

// Close idempotently tears the connection down: every pending invoke is
// completed with CONNECTION_CLOSED, the outbound path and socket are
// closed, and a CLOSE event is published so the connection manager can
// remove this connection from every pool it belongs to (spec.md 4.3,
// 4.7).
func (c *Connection) Close(cause error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if cause == nil {
		cause = rerrors.New(rerrors.CONNECTION_CLOSED, "connection closed")
	}
	c.registry.DrainWithError(rerrors.CONNECTION_CLOSED, cause)
	_ = c.outbound.Close()
	if c.onClose != nil {
		c.onClose(c, cause)
	}
	c.bus.Publish(Event{Type: EventClose, Conn: c, Err: cause})
}

// HeartbeatMissed and IncrementHeartbeatMissed/ResetHeartbeatMissed are
// used by the heartbeat subsystem to track liveness (spec.md 4.6).
func (c *Connection) HeartbeatMissed() int32 { return c.heartbeatMissed.Load() }
func (c *Connection) IncrementHeartbeatMissed() int32 {
	return c.heartbeatMissed.Inc()
}
func (c *Connection) ResetHeartbeatMissed() { c.heartbeatMissed.Store(0) }

func (c *Connection) LastReadTime() time.Time {
	return time.Unix(0, c.lastReadNano.Load())
}

func (c *Connection) LastWriteTime() time.Time {
	return time.Unix(0, c.lastWriteNano.Load())
}
