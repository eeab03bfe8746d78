package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"otad/internal/metrics"
	"otad/util"
)

// Listener accepts TCP connections and dispatches their events to a
// Handler, serialised under a single lock.
type Listener struct {
	Address     string        // ":port"
	IdleTimeout time.Duration // per-read deadline; 0 disables
	MaxConns    int           // simultaneous connections; 0 = unlimited
	Handler     Handler
	Logger      *util.Logger
	Metrics     *metrics.Collector

	// Ready, when set, receives the bound address once listening.
	Ready chan<- net.Addr

	mu    sync.Mutex // serialises Handler callbacks
	conns sync.WaitGroup
	open  atomic.Int32
}

// Run listens until ctx is cancelled, then waits for open connections
// to drain.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.Address, err)
	}
	defer ln.Close()

	l.Logger.Verbose("listening on %s (tcp)", ln.Addr())
	if l.Ready != nil {
		l.Ready <- ln.Addr()
	}

	// Shut the listener down when the context expires.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.conns.Wait()
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		if l.MaxConns > 0 && int(l.open.Load()) >= l.MaxConns {
			l.Logger.Warn("refusing %s: %d connections already open", nc.RemoteAddr(), l.MaxConns)
			nc.Close()
			continue
		}

		l.Logger.Verbose("connection from %s", nc.RemoteAddr())
		l.open.Add(1)
		l.conns.Add(1)
		go l.serve(ctx, nc)
	}
}

func (l *Listener) serve(ctx context.Context, nc net.Conn) {
	defer l.conns.Done()
	defer l.open.Add(-1)
	defer nc.Close()

	c := &tcpConn{nc: nc, metrics: l.Metrics, timeout: l.IdleTimeout}

	// Abort live connections on shutdown so reads unblock.
	stop := context.AfterFunc(ctx, func() { c.Abort() }) //nolint:errcheck
	defer stop()

	l.dispatch(func() { l.Handler.Accept(c) })

	bufp := util.GetBuf()
	defer util.PutBuf(bufp)
	buf := *bufp

	for {
		if l.IdleTimeout > 0 {
			nc.SetReadDeadline(time.Now().Add(l.IdleTimeout)) //nolint:errcheck
		}
		n, err := nc.Read(buf)
		if n > 0 {
			l.Metrics.BytesReceived(int64(n))
			l.dispatch(func() { l.Handler.Data(c, buf[:n]) })
		}
		if err == nil {
			continue
		}
		if c.aborted.Load() || util.IsClosedErr(err) {
			l.dispatch(func() { l.Handler.Disconnected(c) })
		} else {
			l.dispatch(func() { l.Handler.Reset(c, err) })
		}
		return
	}
}

// Do runs fn under the same lock as the Handler callbacks, so events
// that originate outside the network (a device reboot) reach the
// Handler in order with connection events.
func (l *Listener) Do(fn func()) { l.dispatch(fn) }

func (l *Listener) dispatch(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// tcpConn implements Conn over a net.Conn.
type tcpConn struct {
	nc      net.Conn
	metrics *metrics.Collector
	timeout time.Duration
	aborted atomic.Bool
}

func (c *tcpConn) Send(p []byte) error {
	if c.timeout > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(c.timeout)) //nolint:errcheck
	}
	n, err := c.nc.Write(p)
	c.metrics.BytesSent(int64(n))
	if err != nil {
		return fmt.Errorf("send to %s: %w", c.nc.RemoteAddr(), err)
	}
	return nil
}

// Close half-closes the write side so queued bytes are delivered
// before the FIN; the read loop keeps draining until the peer closes
// or the idle deadline fires.
func (c *tcpConn) Close() error {
	if tc, ok := c.nc.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return c.nc.Close()
}

func (c *tcpConn) Abort() error {
	if !c.aborted.CompareAndSwap(false, true) {
		return nil
	}
	if tc, ok := c.nc.(*net.TCPConn); ok {
		tc.SetLinger(0) //nolint:errcheck
	}
	return c.nc.Close()
}

func (c *tcpConn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
