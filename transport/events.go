package transport

import (
	"sync"

	"github.com/WuKongIM/wkrpc/rlog"
)

// EventType is one of the lifecycle signals a Connection fires.
type EventType int

const (
	EventConnect EventType = iota
	EventClose
	EventException
	EventConnectFailed
	EventReconnect
)

func (e EventType) String() string {
	switch e {
	case EventConnect:
		return "CONNECT"
	case EventClose:
		return "CLOSE"
	case EventException:
		return "EXCEPTION"
	case EventConnectFailed:
		return "CONNECT_FAILED"
	case EventReconnect:
		return "RECONNECT"
	}
	return "UNKNOWN"
}

// Event carries a lifecycle signal plus the connection and optional
// cause associated with it.
type Event struct {
	Type EventType
	Conn *Connection
	Err  error
}

// EventListener receives lifecycle signals, dispatched off the I/O path
// so a slow listener cannot stall a connection's read/write loop.
type EventListener interface {
	OnEvent(ev Event)
}

// EventListenerFunc adapts a plain function to EventListener.
type EventListenerFunc func(ev Event)

func (f EventListenerFunc) OnEvent(ev Event) { f(ev) }

// EventBus fans lifecycle events out to registered listeners, starting
// one goroutine per listener for each publish, matching the original's
// ConnectionEventProcessor registration surface (spec.md 6).
type EventBus struct {
	mu        sync.RWMutex
	listeners []EventListener
	log       rlog.Log
}

func NewEventBus() *EventBus {
	return &EventBus{log: rlog.New("transport.events")}
}

func (b *EventBus) Register(l EventListener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

// Publish dispatches ev to every listener on its own goroutine so a slow
// or blocking listener never stalls the caller (typically I/O code).
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	listeners := make([]EventListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		l := l
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event listener panicked")
				}
			}()
			l.OnEvent(ev)
		}()
	}
}
