package server

import (
	"net"
	"sync"

	"github.com/RussellLuo/timingwheel"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/WuKongIM/wkrpc/invoke"
	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/rlog"
	"github.com/WuKongIM/wkrpc/transport"
)

// Options configures a Server, mirroring pkg/wkserver/options.go's
// functional-option pattern.
type Options struct {
	Addr             string
	ProtocolCode     byte
	WithCRC          bool
	SharedPoolSize   int
	HeartbeatOptions transport.HeartbeatOptions
	Registry         *prometheus.Registry
	Bus              *transport.EventBus
	// ProtocolManager overrides the private per-Server registry with a
	// shared one, e.g. DefaultProtocolManager(), when a process wants a
	// single canonical registry across several Servers.
	ProtocolManager *ProtocolManager
}

func NewOptions() *Options {
	return &Options{
		ProtocolCode:     1,
		WithCRC:          false,
		SharedPoolSize:   256,
		HeartbeatOptions: transport.DefaultServerHeartbeatOptions(),
	}
}

type Option func(*Options)

func WithAddr(addr string) Option              { return func(o *Options) { o.Addr = addr } }
func WithCRC(enabled bool) Option              { return func(o *Options) { o.WithCRC = enabled } }
func WithSharedPoolSize(n int) Option          { return func(o *Options) { o.SharedPoolSize = n } }
func WithProtocolCode(code byte) Option        { return func(o *Options) { o.ProtocolCode = code } }
func WithHeartbeatOptions(h transport.HeartbeatOptions) Option {
	return func(o *Options) { o.HeartbeatOptions = h }
}

// WithProtocolManager shares mgr across several Servers instead of each
// defaulting to its own private registry, so a connection accepted by
// one Server can route frames carrying another Server's protocol code
// to that Server (spec.md 9's "Global protocol registry").
func WithProtocolManager(mgr *ProtocolManager) Option {
	return func(o *Options) { o.ProtocolManager = mgr }
}

// Server is the RPC server facade: lifecycle, user-processor
// registration, and the inbound dispatch pipeline. Grounded on
// pkg/wkserver/server.go's Start/Stop/Route shape and
// server_event.go's onData/handleMsg pipeline.
type Server struct {
	opts *Options

	mu                sync.RWMutex
	processors        map[string]UserProcessor
	classExecutors    map[string]*ants.Pool
	commandExecutors  map[proto.CmdCode]*ants.Pool
	sharedPool        *ants.Pool

	tw           *timingwheel.TimingWheel
	bus          *transport.EventBus
	metrics      *Metrics
	listener     net.Listener
	protoMgr     *ProtocolManager
	ownsProtoMgr bool

	conns   sync.Map // remoteAddr -> *transport.Connection, for the Connection-address overload
	started atomic.Bool
	stopped atomic.Bool

	log rlog.Log
}

// New constructs a Server. Start must be called before it accepts
// connections.
func New(opts ...Option) *Server {
	o := NewOptions()
	for _, fn := range opts {
		fn(o)
	}
	sharedPool, _ := ants.NewPool(o.SharedPoolSize)
	reg := o.Registry
	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	s := &Server{
		opts:             o,
		processors:       make(map[string]UserProcessor),
		classExecutors:   make(map[string]*ants.Pool),
		commandExecutors: make(map[proto.CmdCode]*ants.Pool),
		sharedPool:       sharedPool,
		tw:               timingwheel.NewTimingWheel(timerTick, timerWheelSize),
		bus:              o.Bus,
		metrics:          NewMetrics(registerer),
		protoMgr:         o.ProtocolManager,
		log:              rlog.New("server"),
	}
	if s.bus == nil {
		s.bus = transport.NewEventBus()
	}
	if s.protoMgr == nil {
		s.protoMgr = NewProtocolManager()
		s.ownsProtoMgr = true
	}
	return s
}

const (
	timerTick      = 100_000_000 // 100ms, in time.Duration nanoseconds
	timerWheelSize = 512
)

// RegisterProcessor binds proc under its Interest()/MultiInterest()
// class names. Duplicate class-name registration is a startup error per
// spec.md 5's shared-state discipline.
func (s *Server) RegisterProcessor(proc UserProcessor) error {
	names := append([]string{proc.Interest()}, proc.MultiInterest()...)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, exists := s.processors[name]; exists {
			return rerrors.New(rerrors.ERROR, "duplicate processor registration for class "+name)
		}
	}
	for _, name := range names {
		s.processors[name] = proc
	}
	return nil
}

// RegisterClassExecutor sets the class-indexed default executor used
// when a processor does not specify its own.
func (s *Server) RegisterClassExecutor(className string, pool *ants.Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classExecutors[className] = pool
}

// RegisterCommandExecutor sets the command-default executor.
func (s *Server) RegisterCommandExecutor(cmd proto.CmdCode, pool *ants.Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandExecutors[cmd] = pool
}

// RegisterEventListener adds a lifecycle event subscriber (spec.md 6).
func (s *Server) RegisterEventListener(l transport.EventListener) {
	s.bus.Register(l)
}

// Start binds the listener and begins accepting connections. Idempotent-
// guarded: calling Start twice without an intervening Stop fails with
// LIFECYCLE (spec.md 4.8).
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return rerrors.New(rerrors.LIFECYCLE, "server already started")
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		s.started.Store(false)
		return rerrors.Wrap(rerrors.ERROR_COMM, err)
	}
	s.listener = ln
	s.tw.Start()

	s.protoMgr.Register(s.opts.ProtocolCode, s)
	// A private registry is locked as soon as its one owner has registered.
	// A shared one (WithProtocolManager) is left open here since sibling
	// Servers still need to register their own codes into it before any
	// connection can rely on the table being complete.
	if s.ownsProtoMgr {
		s.protoMgr.Lock()
	}

	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address, valid after Start succeeds.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopped.Load() {
				return
			}
			s.log.Warn("accept failed")
			continue
		}
		s.onAccept(conn)
	}
}

func (s *Server) onAccept(nc net.Conn) {
	registry := invoke.NewRegistry(s.tw)
	registry.SetCallbackExecutor(s.sharedPool)
	c := transport.NewConnection(nc, transport.Options{
		ProtocolCode: s.opts.ProtocolCode,
		WithCRC:      s.opts.WithCRC,
		Bus:          s.bus,
		Registry:     registry,
		Dispatch:     s.routeFrame,
		OnClose: func(conn *transport.Connection, _ error) {
			s.conns.Delete(conn.RemoteAddr())
		},
	})
	s.conns.Store(c.RemoteAddr(), c)
	transport.StartServerIdleCloser(c, s.opts.HeartbeatOptions, s.tw)
}

// Connection looks up an accepted connection by remote address, backing
// the server-side Connection-address overload of spec.md 4.8.
func (s *Server) Connection(remoteAddr string) (*transport.Connection, bool) {
	v, ok := s.conns.Load(remoteAddr)
	if !ok {
		return nil, false
	}
	return v.(*transport.Connection), true
}

// Stop closes the listener, every accepted connection, and the shared
// executors. Safe to call repeatedly; the instance is unusable
// afterward (spec.md 4.8).
func (s *Server) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.conns.Range(func(_, v interface{}) bool {
		v.(*transport.Connection).Close(rerrors.New(rerrors.CONNECTION_CLOSED, "server shutdown"))
		return true
	})
	s.tw.Stop()
	s.sharedPool.Release()
	return nil
}
