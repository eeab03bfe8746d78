// Package response formats the fixed-shape status responses of the OTA
// endpoint.  Every response is plain text of known length and closes
// the connection.
package response

import (
	"strconv"

	"otad/internal/transport"
)

// Reason returns the status-line reason for code.
func Reason(code int) string {
	if code < 400 {
		return "OK"
	}
	return "ERROR"
}

// Format renders a complete response.
func Format(code int, body string) []byte {
	b := make([]byte, 0, 160+len(body))
	b = append(b, "HTTP/1.0 "...)
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = append(b, Reason(code)...)
	b = append(b, "\r\nContent-Type: text/plain\r\nContent-Length: "...)
	b = strconv.AppendInt(b, int64(len(body)), 10)
	b = append(b, "\r\nConnection: close\r\nCache-Control: no-store, no-cache, must-revalidate\r\n\r\n"...)
	b = append(b, body...)
	return b
}

// Write sends a formatted response on c.  It does not close c; the
// caller decides between a graceful close and an abort.
func Write(c transport.Conn, code int, body string) error {
	return c.Send(Format(code, body))
}
