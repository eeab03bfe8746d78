// Package transport moves raw bytes for the OTA endpoint.
//
// On the device side a Listener accepts TCP connections and turns each
// one into a stream of callbacks (accept, data, disconnect, reset) on a
// Handler; callbacks for all connections are delivered one at a time.
// On the client side a Dialer opens outbound connections, either
// directly or through an SSH jump host.
package transport

import (
	"context"
	"net"
)

// Conn is the view of an accepted connection that a Handler drives.
type Conn interface {
	// Send writes p in full or returns an error.
	Send(p []byte) error

	// Close requests a graceful close once pending data is sent.  The
	// Handler still receives Disconnected when the peer goes away.
	Close() error

	// Abort drops the connection immediately without flushing.
	Abort() error

	RemoteAddr() net.Addr
}

// Handler receives connection events.  The Listener never calls two
// methods concurrently, so implementations need no locking of their
// own for state touched only from callbacks.  The slice passed to Data
// is reused once the call returns.
type Handler interface {
	Accept(c Conn)
	Data(c Conn, p []byte)
	Disconnected(c Conn)
	Reset(c Conn, err error)
}

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through a jump host.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
