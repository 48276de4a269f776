package server

import (
	"time"

	"github.com/WuKongIM/wkrpc/invoke"
	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/transport"
)

// A Server holds Connections, not addresses, so the address overloads
// client.Client exposes ((String, …), (Url, …)) have no server-side
// equivalent; only the (Connection, …) overload applies (spec.md 4.8).
// sendOnConnection is the same underlying primitive client.Client's
// invoke styles are built on, mirrored here for the server-initiated
// direction (a server pushing a request to an already-connected peer).
func (s *Server) sendOnConnection(conn *transport.Connection, req *proto.Frame, expectResponse bool, timeout time.Duration, callback func(*invoke.Result)) (*invoke.Future, error) {
	if req.RequestID == 0 {
		req.RequestID = conn.NextRequestID()
	}
	return conn.Send(req, expectResponse, timeout, callback)
}

// Oneway builds req with Type=oneway, writes it on conn, and never
// registers a pending entry.
func (s *Server) Oneway(conn *transport.Connection, req *proto.Frame) error {
	req.Type = proto.TypeOneway
	req.Timeout = 0
	s.metrics.OnewaySent.Inc()
	_, err := s.sendOnConnection(conn, req, false, 0, nil)
	return err
}

// InvokeSync writes req on conn and blocks until the future completes
// or timeout elapses, returning the mapped error on failure.
func (s *Server) InvokeSync(conn *transport.Connection, req *proto.Frame, timeout time.Duration) (*invoke.Result, error) {
	req.Type = proto.TypeRequest
	req.Timeout = uint32(timeout.Milliseconds())
	s.metrics.RequestsSent.Inc()

	future, err := s.sendOnConnection(conn, req, true, timeout, nil)
	if err != nil {
		return nil, err
	}
	res, err := future.Await(timeout)
	if err != nil {
		s.recordInvokeError(err)
	}
	return res, err
}

// InvokeWithFuture returns the InvokeFuture to the caller instead of
// blocking.
func (s *Server) InvokeWithFuture(conn *transport.Connection, req *proto.Frame, timeout time.Duration) (*invoke.Future, error) {
	req.Type = proto.TypeRequest
	req.Timeout = uint32(timeout.Milliseconds())
	s.metrics.RequestsSent.Inc()
	return s.sendOnConnection(conn, req, true, timeout, nil)
}

// InvokeWithCallback sets cb on the future; on completion cb is
// dispatched via the connection's registry callback executor rather
// than inline on the peer's read loop (spec.md 9's "Callbacks vs
// futures").
func (s *Server) InvokeWithCallback(conn *transport.Connection, req *proto.Frame, timeout time.Duration, cb func(*invoke.Result)) error {
	req.Type = proto.TypeRequest
	req.Timeout = uint32(timeout.Milliseconds())
	s.metrics.RequestsSent.Inc()
	_, err := s.sendOnConnection(conn, req, true, timeout, cb)
	return err
}

func (s *Server) recordInvokeError(err error) {
	status := rerrors.StatusOf(err)
	if status == rerrors.TIMEOUT {
		s.metrics.InvokeTimeouts.Inc()
	}
	s.metrics.Errors.WithLabelValues(status.String()).Inc()
}
