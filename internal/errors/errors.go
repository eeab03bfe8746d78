// Package errors provides domain-specific error types for otad.
//
// Request-level failures are carried as *StatusError so the connection
// manager can turn them into a status response.  Transport and tunnel
// failures keep structured context (operation, address, retryability)
// for the client side.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrIncomplete means the framer needs more bytes before it can
	// decide anything.  It is never fatal.
	ErrIncomplete = errors.New("request incomplete")

	// ErrBufferOverflow means the session buffer is full and nothing
	// could be appended.  The session is aborted without a response.
	ErrBufferOverflow = errors.New("session buffer overflow")

	ErrTunnelClosed    = errors.New("tunnel is closed")
	ErrTimeout         = errors.New("operation timed out")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// ── Request errors ───────────────────────────────────────────────────

// Kind classifies a request failure.
type Kind int

const (
	KindProtocol Kind = iota + 1 // malformed request line or header
	KindRouteNotFound
	KindSize   // image too large / too small
	KindHeader // firmware header rejected
	KindFlash  // flash driver failure
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindRouteNotFound:
		return "route-not-found"
	case KindSize:
		return "size"
	case KindHeader:
		return "header"
	case KindFlash:
		return "flash"
	default:
		return "unknown"
	}
}

// StatusError is a request failure that maps onto a status response.
type StatusError struct {
	Code int    // response status code
	Kind Kind   // taxonomy bucket, used for logging and metrics
	Msg  string // response body
	Err  error  // underlying cause (optional)
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Msg)
}

func (e *StatusError) Unwrap() error { return e.Err }

// BadRequest builds a 400 protocol error.
func BadRequest(msg string) *StatusError {
	return &StatusError{Code: 400, Kind: KindProtocol, Msg: msg}
}

// NotFound builds a 404 route error.
func NotFound() *StatusError {
	return &StatusError{Code: 404, Kind: KindRouteNotFound, Msg: "Not found"}
}

// SizeError builds a 400 image-size error.
func SizeError(msg string) *StatusError {
	return &StatusError{Code: 400, Kind: KindSize, Msg: msg}
}

// HeaderError builds a 400 firmware-header error from a validation
// failure.
func HeaderError(err error) *StatusError {
	return &StatusError{Code: 400, Kind: KindHeader, Msg: err.Error(), Err: err}
}

// FlashError builds a 500 error for a failed erase or write.
func FlashError(msg string, err error) *StatusError {
	return &StatusError{Code: 500, Kind: KindFlash, Msg: msg, Err: err}
}

// StatusOf returns the *StatusError inside err, if any.
func StatusOf(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// classifyRetryable inspects standard library error types.  A refused
// connection counts as retryable because the device may be rebooting.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return true
		}
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
