package core

import (
	"go.uber.org/zap"

	ncerr "otad/internal/errors"
	"otad/internal/handler"
	"otad/internal/metrics"
	"otad/internal/request"
	"otad/internal/response"
	"otad/internal/session"
	"otad/internal/transport"
	"otad/util"
)

// Server is the connection manager of the OTA endpoint.  It owns the
// single session slot: a new connection pre-empts whatever session was
// live, and every byte received is framed and dispatched to the route
// handlers from here.
//
// Server implements transport.Handler.  The Listener serialises its
// callbacks, so the slot needs no locking.
type Server struct {
	Routes  handler.Routes
	Logger  *util.Logger
	Metrics *metrics.Collector

	sess *session.Session
	log  *util.Logger // Logger with the session's peer attached
}

// Active reports whether a session occupies the slot.
func (s *Server) Active() bool { return s.sess != nil }

// Accept installs c as the current session.  Any previous session is
// aborted without a response; only one still waiting for its answer
// counts as pre-empted.
func (s *Server) Accept(c transport.Conn) {
	if old := s.sess; old != nil {
		if !old.Closing {
			s.log.Warn("pre-empted by %s after %d/%d body bytes", c.RemoteAddr(), max(old.BodyOffset, 0), old.ContentLength)
			s.Metrics.SessionPreempted()
		}
		old.Conn.Abort() //nolint:errcheck
		s.release()
	}

	s.sess = session.New(c)
	s.log = s.Logger.With(zap.Stringer("peer", c.RemoteAddr()))
	s.Metrics.SessionOpened()
	s.log.Verbose("session opened")
}

// Data appends p to the session buffer and processes as much of it as
// possible.  Bytes that did not fit are retried once the handlers have
// made room.
func (s *Server) Data(c transport.Conn, p []byte) {
	sess := s.sess
	if sess == nil || sess.Conn != c {
		s.Logger.Debug("dropping %d bytes from stale connection %s", len(p), c.RemoteAddr())
		return
	}

	for len(p) > 0 && !sess.Closing {
		n, err := sess.Buffer.Append(p)
		if err != nil {
			s.log.Warn("%v, aborting session", err)
			s.Metrics.RecordError(err.Error())
			s.abort()
			return
		}
		p = p[n:]
		if !s.process() {
			return
		}
	}
}

// DeviceRebooted drops the live session, as a reboot resets every
// connection of the device.
func (s *Server) DeviceRebooted() {
	if s.sess == nil {
		return
	}
	if !s.sess.Closing {
		s.log.Warn("device rebooted during %s, dropping session", s.sess.Route)
	}
	s.abort()
}

// Disconnected releases the slot when c was the current session.
func (s *Server) Disconnected(c transport.Conn) {
	if s.sess == nil || s.sess.Conn != c {
		return
	}
	if !s.sess.Closing {
		s.log.Verbose("peer closed before a response was sent")
	}
	s.log.Verbose("session closed")
	s.release()
}

// Reset releases the slot after a transport error on c.
func (s *Server) Reset(c transport.Conn, err error) {
	if s.sess == nil || s.sess.Conn != c {
		return
	}
	s.log.Warn("connection reset: %v", err)
	s.Metrics.SessionAborted()
	s.release()
}

// process frames the buffered bytes and drives the route handler.  It
// returns false once the session has been answered or dropped.
func (s *Server) process() bool {
	sess := s.sess
	for {
		if sess.InHeader() {
			req, n, err := request.Parse(sess.Buffer.Bytes())
			if ncerr.Is(err, ncerr.ErrIncomplete) {
				return true
			}
			if err != nil {
				s.fail(err)
				return false
			}
			sess.Buffer.ConsumePrefix(n)
			sess.Begin(req.Route, req.ContentLength)
			s.log.Verbose("%s %s (%d body bytes)", req.Method, req.Path, req.ContentLength)

			if req.ContentLength == 0 {
				r := s.route(req.Route).Handle(sess, nil)
				sess.Buffer.Reset()
				if r.Outcome != handler.Terminal {
					r = handler.Fail(ncerr.BadRequest("Missing request body"))
				}
				s.finish(r)
				return false
			}
			continue
		}

		r := s.route(sess.Route).Handle(sess, sess.Buffer.Bytes())
		switch r.Outcome {
		case handler.NeedMoreData:
			return true
		case handler.Consumed:
			if r.N <= 0 {
				return true
			}
			sess.Advance(r.N)
		default:
			s.finish(r)
			return false
		}
	}
}

func (s *Server) route(r request.Route) handler.Handler {
	if h, ok := s.Routes[r]; ok && h != nil {
		return h
	}
	return notFound{}
}

// fail answers a framing error.
func (s *Server) fail(err error) {
	se, ok := ncerr.StatusOf(err)
	if !ok {
		se = ncerr.BadRequest("Invalid request")
	}
	s.finish(handler.Fail(se))
}

// finish sends the terminal response, runs the handler's follow-up on
// success and requests a graceful close.  A failed send aborts.
func (s *Server) finish(r handler.Result) {
	sess := s.sess
	sess.Closing = true

	if r.Status >= 400 {
		cause := r.Err
		if cause == nil {
			cause = ncerr.New(r.Body)
		}
		s.log.Warn("%s: %s", sess.Route, cause)
		s.Metrics.RecordError(cause.Error())
	} else {
		s.log.Verbose("%s: %d", sess.Route, r.Status)
	}

	if err := response.Write(sess.Conn, r.Status, r.Body); err != nil {
		s.log.Warn("response not delivered: %v", err)
		s.Metrics.RecordError(err.Error())
		s.abort()
		return
	}
	if r.After != nil {
		r.After()
	}
	if err := sess.Conn.Close(); err != nil {
		s.log.Debug("close: %v", err)
	}
}

// abort drops the current session without a response.
func (s *Server) abort() {
	s.sess.Conn.Abort() //nolint:errcheck
	s.Metrics.SessionAborted()
	s.release()
}

func (s *Server) release() {
	s.sess.Release()
	s.sess = nil
	s.log = nil
	s.Metrics.SessionClosed()
}

type notFound struct{}

func (notFound) Handle(*session.Session, []byte) handler.Result {
	return handler.Fail(ncerr.NotFound())
}
