package transport

import (
	"time"

	"github.com/RussellLuo/timingwheel"

	"github.com/WuKongIM/wkrpc/proto"
	"github.com/WuKongIM/wkrpc/rerrors"
	"github.com/WuKongIM/wkrpc/rlog"
)

// HeartbeatOptions configures the idle detector for one connection.
type HeartbeatOptions struct {
	Interval time.Duration
	MaxMissed int32
	Timeout   time.Duration
}

func DefaultClientHeartbeatOptions() HeartbeatOptions {
	return HeartbeatOptions{Interval: 15 * time.Second, MaxMissed: 3, Timeout: time.Second}
}

func DefaultServerHeartbeatOptions() HeartbeatOptions {
	return HeartbeatOptions{Interval: 90 * time.Second, MaxMissed: 1, Timeout: time.Second}
}

// ClientHeartbeat re-arms itself on the shared timing wheel, sending a
// heartbeat request whenever the connection has been idle for Interval,
// and closing the connection once heartbeatMissed reaches MaxMissed.
// Grounded on client2.go's startHeartbeat/processPingTimer, extended
// with the maxMissed counter spec.md requires instead of disconnecting
// on the very first miss.
type ClientHeartbeat struct {
	conn  *Connection
	opts  HeartbeatOptions
	tw    *timingwheel.TimingWheel
	timer *timingwheel.Timer
	log   rlog.Log
}

func StartClientHeartbeat(conn *Connection, opts HeartbeatOptions, tw *timingwheel.TimingWheel) *ClientHeartbeat {
	h := &ClientHeartbeat{conn: conn, opts: opts, tw: tw, log: rlog.New("transport.heartbeat")}
	h.arm()
	return h
}

func (h *ClientHeartbeat) arm() {
	h.timer = h.tw.AfterFunc(h.opts.Interval, h.tick)
}

func (h *ClientHeartbeat) tick() {
	if !h.conn.IsActive() {
		return
	}
	idleFor := time.Since(h.conn.LastReadTime())
	if idleFor < h.opts.Interval && time.Since(h.conn.LastWriteTime()) < h.opts.Interval {
		h.arm()
		return
	}
	if !h.conn.enableHeartbeat {
		h.arm()
		return
	}

	f := &proto.Frame{
		Proto:     proto.V1,
		Type:      proto.TypeRequest,
		CmdCode:   proto.CmdHeartbeat,
		RequestID: h.conn.NextRequestID(),
		Timeout:   uint32(h.opts.Timeout.Milliseconds()),
	}
	future, err := h.conn.Send(f, true, h.opts.Timeout, nil)
	if err != nil {
		h.onMiss()
		h.arm()
		return
	}
	go func() {
		res, err := future.Await(h.opts.Timeout)
		if err != nil || res.Status != rerrors.SUCCESS {
			h.onMiss()
		} else {
			h.conn.ResetHeartbeatMissed()
		}
	}()
	h.arm()
}

func (h *ClientHeartbeat) onMiss() {
	missed := h.conn.IncrementHeartbeatMissed()
	if missed >= h.opts.MaxMissed {
		h.log.Warn("heartbeat missed threshold reached, closing connection")
		h.conn.Close(rerrors.New(rerrors.CONNECTION_CLOSED, "heartbeat missed threshold reached"))
	}
}

// Stop cancels the re-arm timer.
func (h *ClientHeartbeat) Stop() {
	if h.timer != nil {
		h.timer.Stop()
	}
}

// ServerIdleCloser closes a connection whose reads have been idle for
// longer than Interval, per spec.md 4.6's "Server: on idle read, close
// the connection."
type ServerIdleCloser struct {
	conn  *Connection
	opts  HeartbeatOptions
	tw    *timingwheel.TimingWheel
	timer *timingwheel.Timer
}

func StartServerIdleCloser(conn *Connection, opts HeartbeatOptions, tw *timingwheel.TimingWheel) *ServerIdleCloser {
	s := &ServerIdleCloser{conn: conn, opts: opts, tw: tw}
	s.arm()
	return s
}

func (s *ServerIdleCloser) arm() {
	s.timer = s.tw.AfterFunc(s.opts.Interval, s.tick)
}

func (s *ServerIdleCloser) tick() {
	if !s.conn.IsActive() {
		return
	}
	if time.Since(s.conn.LastReadTime()) >= s.opts.Interval {
		s.conn.Close(rerrors.New(rerrors.CONNECTION_CLOSED, "idle read timeout"))
		return
	}
	s.arm()
}

func (s *ServerIdleCloser) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
}
