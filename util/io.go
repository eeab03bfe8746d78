package util

import (
	"errors"
	"io"
	"net"
	"os"
)

// IsClosedErr reports whether err is the kind of read/write error that
// is expected when either side shuts a connection down: EOF, use of a
// closed connection, or an idle deadline firing.
func IsClosedErr(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
