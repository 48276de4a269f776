package server

import "sync"

// ProtocolManager maps a protocol code to the Server responsible for it
// (spec.md 9's "Global protocol registry": initialize from a static
// table at process start, forbid mutation after first use). A Server
// owns a private ProtocolManager by default; pass a shared instance via
// Options.ProtocolManager when a process genuinely wants one canonical
// process-wide registry multiplexing several wire protocols behind
// DefaultProtocolManager, as the design note describes. Defaulting to a
// private instance per Server keeps independent Server instances in one
// process (as in this module's own tests) from colliding on a shared
// lock.
type ProtocolManager struct {
	mu       sync.Mutex
	handlers map[byte]*Server
	locked   bool
}

func NewProtocolManager() *ProtocolManager {
	return &ProtocolManager{handlers: make(map[byte]*Server)}
}

var defaultProtocolManager = NewProtocolManager()

// DefaultProtocolManager returns the process-wide registry, for
// processes that want a single shared instance across multiple Servers.
func DefaultProtocolManager() *ProtocolManager { return defaultProtocolManager }

// Register binds code to srv. Panics if called after the registry has
// been locked by a call to Lock.
func (m *ProtocolManager) Register(code byte, srv *Server) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		panic("server: ProtocolManager is locked, cannot register after first Start")
	}
	m.handlers[code] = srv
}

// Lock forbids further registration. A Server that owns a private
// registry calls this itself right after registering, at the end of its
// own Start. A Server sharing one via Options.ProtocolManager leaves it
// unlocked so sibling Servers can still register their own codes; call
// Lock explicitly once every sharing Server has started.
func (m *ProtocolManager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = true
}

// Lookup returns the Server registered for code, if any. Every accepted
// connection's Dispatch callback consults this to route an inbound
// frame to the Server matching its protocol code, falling back to the
// accepting Server on a miss.
func (m *ProtocolManager) Lookup(code byte) (*Server, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.handlers[code]
	return s, ok
}
