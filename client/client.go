// Package client implements the invocation-style facade: oneway,
// invokeSync, invokeWithFuture, invokeWithCallback, all built on the
// single sendOnConnection primitive, plus lifecycle (spec.md 4.8).
// Grounded on client2.go's Request/RequestWithContext (sync) and
// Send/SendNoFlush (oneway).
package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/WuKongIM/wkrpc/invoke"
	"github.com/WuKongIM/wkrpc/pool"
	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/reconnect"
	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/rlog"
	"github.com/WuKongIM/wkrpc/serializer"
	"github.com/WuKongIM/wkrpc/transport"
)

// Options configures a Client.
type Options struct {
	ProtocolCode     byte
	WithCRC          bool
	EnableHeartbeat  bool
	HeartbeatOptions transport.HeartbeatOptions
	Registry         *prometheus.Registry
	ReconnectEnabled bool
	ReconnectBackoff time.Duration
	CallbackPoolSize int
}

func NewOptions() *Options {
	return &Options{
		ProtocolCode:     1,
		EnableHeartbeat:  true,
		HeartbeatOptions: transport.DefaultClientHeartbeatOptions(),
		ReconnectBackoff: time.Second,
		CallbackPoolSize: 256,
	}
}

type Option func(*Options)

func WithProtocolCode(code byte) Option    { return func(o *Options) { o.ProtocolCode = code } }
func WithCRC(enabled bool) Option          { return func(o *Options) { o.WithCRC = enabled } }
func WithHeartbeat(enabled bool) Option    { return func(o *Options) { o.EnableHeartbeat = enabled } }
func WithReconnect(enabled bool) Option    { return func(o *Options) { o.ReconnectEnabled = enabled } }
func WithCallbackPoolSize(n int) Option    { return func(o *Options) { o.CallbackPoolSize = n } }

// Client is the RPC client facade.
type Client struct {
	opts *Options

	tw           *timingwheel.TimingWheel
	bus          *transport.EventBus
	manager      *pool.Manager
	metrics      *Metrics
	recon        *reconnect.Reconnector
	callbackPool *ants.Pool

	heartbeats sync.Map // remoteAddr -> *transport.ClientHeartbeat

	started atomic.Bool
	stopped atomic.Bool

	log rlog.Log
}

// New constructs a Client. Startup must be called before any invoke.
func New(opts ...Option) *Client {
	o := NewOptions()
	for _, fn := range opts {
		fn(o)
	}
	c := &Client{
		opts: o,
		tw:   timingwheel.NewTimingWheel(100*time.Millisecond, 512),
		bus:  transport.NewEventBus(),
		log:  rlog.New("client"),
	}
	var registerer prometheus.Registerer
	if o.Registry != nil {
		registerer = o.Registry
	}
	c.metrics = NewMetrics(registerer)
	c.callbackPool, _ = ants.NewPool(o.CallbackPoolSize)
	c.manager = pool.NewManager(c.dial, c.tw)

	if o.ReconnectEnabled {
		c.recon = reconnect.New(c.reconnect, reconnect.Options{Backoff: o.ReconnectBackoff})
	}
	c.bus.Register(transport.EventListenerFunc(c.onEvent))
	return c
}

func (c *Client) onEvent(ev transport.Event) {
	if ev.Type != transport.EventClose {
		return
	}
	keys := ev.Conn.PoolKeys()
	c.manager.RemoveConnectionFromAllKeys(ev.Conn)
	if c.recon != nil {
		for _, key := range keys {
			c.recon.NotifyClosed(key)
		}
	}
}

// Startup is idempotent-guarded: calling it twice without an
// intervening Shutdown fails with LIFECYCLE (spec.md 4.8).
func (c *Client) Startup() error {
	if !c.started.CompareAndSwap(false, true) {
		return rerrors.New(rerrors.LIFECYCLE, "client already started")
	}
	c.tw.Start()
	if c.recon != nil {
		c.recon.Start()
	}
	return nil
}

// Shutdown closes every pooled connection and stops background workers.
// Safe to call repeatedly; the client is unusable afterward.
func (c *Client) Shutdown() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	c.manager.Stop()
	c.manager.CloseAll(rerrors.New(rerrors.CONNECTION_CLOSED, "client shutdown"))
	if c.recon != nil {
		c.recon.Stop()
	}
	c.tw.Stop()
	c.callbackPool.Release()
	return nil
}

func (c *Client) dial(ctx context.Context, addr pool.Address) (*transport.Connection, error) {
	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr.HostPort())
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ERROR_COMM, err)
	}
	registry := invoke.NewRegistry(c.tw)
	registry.SetCallbackExecutor(c.callbackPool)
	conn := transport.NewConnection(nc, transport.Options{
		ProtocolCode:    addr.Protocol,
		WithCRC:         c.opts.WithCRC,
		EnableHeartbeat: c.opts.EnableHeartbeat,
		Bus:             c.bus,
		Registry:        registry,
	})
	if c.opts.EnableHeartbeat {
		hb := transport.StartClientHeartbeat(conn, c.opts.HeartbeatOptions, c.tw)
		c.heartbeats.Store(conn.RemoteAddr(), hb)
	}
	return conn, nil
}

func (c *Client) reconnect(ctx context.Context, key string) error {
	addr, err := pool.ParseAddress(hostPortFromKey(key))
	if err != nil {
		return err
	}
	_, err = c.manager.GetAndCreateIfAbsent(ctx, addr)
	return err
}

// hostPortFromKey strips the pool-manager's uniqueKey encoding back down
// to the plain host:port dialable form for a reconnect attempt.
func hostPortFromKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '?' {
			return key[:i]
		}
	}
	return key
}

func (c *Client) resolve(ctx context.Context, addrStr string) (*transport.Connection, error) {
	addr, err := pool.ParseAddress(addrStr)
	if err != nil {
		return nil, err
	}
	return c.manager.GetAndCreateIfAbsent(ctx, addr)
}

// sendOnConnection is the single primitive every invoke style below is
// built on (spec.md 4.8).
func (c *Client) sendOnConnection(conn *transport.Connection, req *proto.Frame, expectResponse bool, timeout time.Duration, callback func(*invoke.Result)) (*invoke.Future, error) {
	if req.RequestID == 0 {
		req.RequestID = conn.NextRequestID()
	}
	return conn.Send(req, expectResponse, timeout, callback)
}

// Oneway builds req with Type=oneway, writes it, and never registers a
// pending entry.
func (c *Client) Oneway(addrStr string, req *proto.Frame) error {
	conn, err := c.resolve(context.Background(), addrStr)
	if err != nil {
		return err
	}
	req.Type = proto.TypeOneway
	req.Timeout = 0
	c.metrics.OnewaySent.Inc()
	_, err = c.sendOnConnection(conn, req, false, 0, nil)
	return err
}

// InvokeSync writes req and blocks until the future completes or
// timeout elapses, returning the mapped error on failure.
func (c *Client) InvokeSync(addrStr string, req *proto.Frame, timeout time.Duration) (*invoke.Result, error) {
	conn, err := c.resolve(context.Background(), addrStr)
	if err != nil {
		return nil, err
	}
	req.Type = proto.TypeRequest
	req.Timeout = uint32(timeout.Milliseconds())
	c.metrics.Sent.Inc()

	future, err := c.sendOnConnection(conn, req, true, timeout, nil)
	if err != nil {
		return nil, err
	}
	res, err := future.Await(timeout)
	if err != nil {
		c.recordError(res, err)
	}
	return res, err
}

// InvokeWithFuture returns the InvokeFuture to the caller instead of
// blocking.
func (c *Client) InvokeWithFuture(addrStr string, req *proto.Frame, timeout time.Duration) (*invoke.Future, error) {
	conn, err := c.resolve(context.Background(), addrStr)
	if err != nil {
		return nil, err
	}
	req.Type = proto.TypeRequest
	req.Timeout = uint32(timeout.Milliseconds())
	c.metrics.Sent.Inc()
	return c.sendOnConnection(conn, req, true, timeout, nil)
}

// InvokeWithCallback sets cb on the future; on completion cb is
// dispatched from the completion site (spec.md 9: "Callbacks vs
// futures" — a decorator over the future primitive).
func (c *Client) InvokeWithCallback(addrStr string, req *proto.Frame, timeout time.Duration, cb func(*invoke.Result)) error {
	conn, err := c.resolve(context.Background(), addrStr)
	if err != nil {
		return err
	}
	req.Type = proto.TypeRequest
	req.Timeout = uint32(timeout.Milliseconds())
	c.metrics.Sent.Inc()
	_, err = c.sendOnConnection(conn, req, true, timeout, cb)
	return err
}

// InvokeSyncWithPayload serializes payload through the codec registered
// in package serializer before writing it as the frame's Content, in
// the manner of client2.go's RequestWithMessage wrapping Request(p,
// body []byte) with a gproto.Marshal call.
func (c *Client) InvokeSyncWithPayload(addrStr string, className string, codec byte, payload interface{}, timeout time.Duration) (*invoke.Result, error) {
	content, err := serializer.EncodePayload(codec, payload)
	if err != nil {
		return nil, err
	}
	return c.InvokeSync(addrStr, &proto.Frame{ClassName: []byte(className), Codec: codec, Content: content}, timeout)
}

// OnewayWithPayload is InvokeSyncWithPayload's fire-and-forget counterpart.
func (c *Client) OnewayWithPayload(addrStr string, className string, codec byte, payload interface{}) error {
	content, err := serializer.EncodePayload(codec, payload)
	if err != nil {
		return err
	}
	return c.Oneway(addrStr, &proto.Frame{ClassName: []byte(className), Codec: codec, Content: content})
}

// DecodeResult deserializes res.Content into out using the codec the
// response frame carried, the receiving half of InvokeSyncWithPayload.
func DecodeResult(res *invoke.Result, out interface{}) error {
	return serializer.DecodePayload(res.Codec, res.Content, out)
}

func (c *Client) recordError(res *invoke.Result, err error) {
	status := rerrors.StatusOf(err)
	if status == rerrors.TIMEOUT {
		c.metrics.Timeouts.Inc()
	}
	c.metrics.Errors.WithLabelValues(status.String()).Inc()
}
