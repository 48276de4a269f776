package server

import (
	"context"

	"github.com/panjf2000/ants/v2"

	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/transport"
)

// routeFrame is wired as the transport.Connection Dispatch callback on
// every accepted connection. It consults protoMgr for the *Server
// registered under the frame's own protocol code (spec.md 4.5: "the
// dispatcher consults ProtocolManager[protocolCode]") so one shared
// ProtocolManager lets a single listener serve frames belonging to
// several Servers; a code with no registration (including the common
// case of a client that never set Proto) falls back to the Server that
// accepted the connection.
func (s *Server) routeFrame(conn *transport.Connection, f *proto.Frame) {
	target := s
	if handler, ok := s.protoMgr.Lookup(f.Proto); ok {
		target = handler
	}
	target.handleFrame(conn, f)
}

// handleFrame is invoked for every decoded frame that is not itself a
// response (responses are already routed to the invoke registry by
// transport before dispatch is ever called; heartbeats are answered
// inline by transport and never reach here either).
func (s *Server) handleFrame(conn *transport.Connection, f *proto.Frame) {
	switch f.Type {
	case proto.TypeRequest:
		s.metrics.RequestsReceived.Inc()
		s.submit(conn, f, true)
	case proto.TypeOneway:
		s.metrics.OnewayReceived.Inc()
		s.submit(conn, f, false)
	default:
		s.log.Warn("dispatcher received an unexpected frame type")
	}
}

// submit resolves the UserProcessor, picks an executor per the chain of
// spec.md 4.5 point 2 (processor-specified -> class-indexed default ->
// command-default -> shared pool), and submits the task. respond is
// false for oneway commands: no response frame is ever written and any
// processor error is only logged.
func (s *Server) submit(conn *transport.Connection, f *proto.Frame, respond bool) {
	className := string(f.ClassName)

	s.mu.RLock()
	proc, ok := s.processors[className]
	s.mu.RUnlock()

	if !ok {
		if respond {
			s.writeResponse(conn, f, rerrors.NO_PROCESSOR, nil)
			s.metrics.Errors.WithLabelValues(rerrors.NO_PROCESSOR.String()).Inc()
		} else {
			s.log.Warn("no processor for oneway command class")
		}
		return
	}

	pool := s.selectExecutor(proc, className, f.CmdCode)
	task := func() {
		s.runProcessor(conn, f, proc, respond)
	}

	if pool == nil {
		go task()
		return
	}
	if err := pool.Submit(task); err != nil {
		s.metrics.ExecutorRejected.Inc()
		if respond {
			s.writeResponse(conn, f, rerrors.SERVER_THREADPOOL_BUSY, nil)
		} else {
			s.log.Warn("oneway command dropped, executor pool full")
		}
	}
}

// selectExecutor implements the four-level fallback chain.
func (s *Server) selectExecutor(proc UserProcessor, className string, cmd proto.CmdCode) *ants.Pool {
	if p := proc.Executor(); p != nil {
		return p
	}
	s.mu.RLock()
	if p, ok := s.classExecutors[className]; ok {
		s.mu.RUnlock()
		return p
	}
	if p, ok := s.commandExecutors[cmd]; ok {
		s.mu.RUnlock()
		return p
	}
	s.mu.RUnlock()
	return s.sharedPool
}

func (s *Server) runProcessor(conn *transport.Connection, f *proto.Frame, proc UserProcessor, respond bool) {
	rc := &Context{Conn: conn, ClassName: string(f.ClassName), Header: f.Header, Content: f.Content, Codec: f.Codec}

	var async *AsyncContext
	if respond {
		async = &AsyncContext{respond: func(content []byte, status rerrors.Status) {
			s.writeResponse(conn, f, status, content)
		}}
	}

	content, err := proc.HandleRequest(context.Background(), rc, async)
	if !respond {
		if err != nil {
			s.log.Warn("oneway processor returned an error, logging only")
		}
		return
	}
	if err != nil {
		status := rerrors.StatusOf(err)
		if status == rerrors.UNKNOWN {
			status = rerrors.SERVER_EXCEPTION
		}
		s.writeResponse(conn, f, status, nil)
		s.metrics.Errors.WithLabelValues(status.String()).Inc()
		return
	}
	if async.wasUsed() {
		return
	}
	s.writeResponse(conn, f, rerrors.SUCCESS, content)
}

func (s *Server) writeResponse(conn *transport.Connection, req *proto.Frame, status rerrors.Status, content []byte) {
	resp := &proto.Frame{
		Proto:     req.Proto,
		Ver2:      req.Ver2,
		Type:      proto.TypeResponse,
		CmdCode:   proto.CmdResponse,
		RequestID: req.RequestID,
		Codec:     req.Codec,
		Status:    uint16(status),
		Content:   content,
	}
	if _, err := conn.Send(resp, false, 0, nil); err != nil {
		s.log.Warn("failed to write response frame")
		return
	}
	s.metrics.ResponsesSent.Inc()
}
