// Package session holds the state of the single live OTA connection:
// its bounded receive buffer, the header/body parse position, and the
// route that owns the rest of the request.
//
// A Session is owned by the connection manager and handed by pointer
// to the framer and the route handlers; nothing else mutates it.
package session

import (
	"hash"
	"net"
	"time"

	"otad/internal/partition"
	"otad/internal/request"
	"otad/internal/transport"
)

// Session is the state of one accepted connection.
type Session struct {
	Conn   transport.Conn
	Buffer Buffer

	// BodyOffset is -1 while the header is being parsed, otherwise the
	// number of body bytes already committed by the handler.
	BodyOffset    int
	ContentLength int
	Route         request.Route

	// Target is the bank an upload writes to, fixed when the first
	// body chunk is handled.
	Target partition.Bank

	// Closing is set once a response went out; no more parsing happens
	// and the session waits for the transport to report the close.
	Closing bool

	// Digest accumulates committed body bytes for routes that track
	// one (the upload route).  Nil otherwise.
	Digest hash.Hash

	Started time.Time
}

// New returns a session in header-parsing state bound to conn.
func New(conn transport.Conn) *Session {
	return &Session{
		Conn:       conn,
		BodyOffset: -1,
		Started:    time.Now(),
	}
}

// InHeader reports whether the request header is still unresolved.
func (s *Session) InHeader() bool { return s.BodyOffset < 0 }

// Begin records the resolved route and switches to body state.
func (s *Session) Begin(route request.Route, contentLength int) {
	s.Route = route
	s.ContentLength = contentLength
	s.BodyOffset = 0
}

// Advance consumes n body bytes from the buffer and moves the body
// offset forward.
func (s *Session) Advance(n int) {
	s.Buffer.ConsumePrefix(n)
	s.BodyOffset += n
}

// Remaining is the number of body bytes not yet committed.
func (s *Session) Remaining() int { return s.ContentLength - s.BodyOffset }

// Peer returns the remote address, or nil after release.
func (s *Session) Peer() net.Addr {
	if s.Conn == nil {
		return nil
	}
	return s.Conn.RemoteAddr()
}

// Release zeroes every field.
func (s *Session) Release() {
	*s = Session{BodyOffset: -1}
}
