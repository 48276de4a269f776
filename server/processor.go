// Package server implements the command dispatcher and server-side
// facade: inbound decode -> route by command code -> select executor ->
// invoke user processor -> send response (spec.md 4.5), plus lifecycle
// and user-processor registration (spec.md 4.8). Grounded on
// server_event.go's onData/handleMsg/handleRequest pipeline and
// server.go's ants.Pool executor setup.
package server

import (
	"context"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"

	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/serializer"
	"github.com/WuKongIM/wkrpc/transport"
)

// Context is handed to a UserProcessor on each request.
type Context struct {
	Conn      *transport.Connection
	ClassName string
	Header    []byte
	Content   []byte
	Codec     byte
}

// DecodePayload deserializes Content into out using the serializer
// registered for the request's own codec byte, so a processor never has
// to hardcode which wire format its caller used.
func (rc *Context) DecodePayload(out interface{}) error {
	return serializer.DecodePayload(rc.Codec, rc.Content, out)
}

// EncodePayload serializes payload with the serializer registered for
// codec, for a processor building a typed response to return from
// HandleRequest.
func EncodePayload(codec byte, payload interface{}) ([]byte, error) {
	return serializer.EncodePayload(codec, payload)
}

// AsyncContext lets a processor answer later, off the calling goroutine,
// per spec.md 6's handleRequest(ctx, req, asyncCtx) surface. Whichever of
// SendResponse/SendException is called first wins; the dispatcher checks
// wasUsed rather than inferring async completion from a nil return value,
// so a synchronous processor is free to return a nil, empty response.
type AsyncContext struct {
	respond func(content []byte, status rerrors.Status)
	used    atomic.Bool
}

func (a *AsyncContext) SendResponse(content []byte) {
	if a.used.CompareAndSwap(false, true) {
		a.respond(content, rerrors.SUCCESS)
	}
}

func (a *AsyncContext) SendException(status rerrors.Status) {
	if a.used.CompareAndSwap(false, true) {
		a.respond(nil, status)
	}
}

// wasUsed reports whether the processor already answered via this
// AsyncContext.
func (a *AsyncContext) wasUsed() bool { return a.used.Load() }

// UserProcessor is the user-provided handler bound to one or more class
// names.
type UserProcessor interface {
	// Interest returns the single class name this processor handles.
	// MultiInterest may return additional names; both may be used
	// together.
	Interest() string
	MultiInterest() []string
	// HandleRequest processes ctx synchronously and returns the response
	// bytes, or handles it asynchronously via asyncCtx (asyncCtx is nil
	// for oneway commands, which have no response to send).
	HandleRequest(ctx context.Context, rc *Context, asyncCtx *AsyncContext) ([]byte, error)
	// Executor optionally overrides the executor this processor's tasks
	// run on; nil means "use the class-indexed or shared default".
	Executor() *ants.Pool
}

// BaseProcessor gives UserProcessor implementations Interest/MultiInterest/
// Executor defaults so a concrete type only needs to implement
// HandleRequest, matching the pack's small-interface-plus-embedding
// idiom.
type BaseProcessor struct {
	ClassName      string
	OtherInterests []string
	Pool           *ants.Pool
}

func (b *BaseProcessor) Interest() string          { return b.ClassName }
func (b *BaseProcessor) MultiInterest() []string   { return b.OtherInterests }
func (b *BaseProcessor) Executor() *ants.Pool       { return b.Pool }
