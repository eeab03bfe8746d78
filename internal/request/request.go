// Package request frames OTA requests out of a byte stream.  It only
// understands what the three OTA routes need: a request line and a
// Content-Length header.
package request

import (
	"bytes"
	"strconv"

	ncerr "otad/internal/errors"
)

var (
	crlf       = []byte("\r\n")
	headerEnd  = []byte("\r\n\r\n")
	contentLen = []byte("Content-Length:")
)

// Request is a resolved request header.
type Request struct {
	Method        string
	Path          string
	Route         Route
	ContentLength int
}

// Parse looks for a complete header block at the start of buf.
//
// It returns ErrIncomplete while the terminating blank line has not
// arrived, a *StatusError for malformed or unroutable requests, and
// otherwise the request plus the number of bytes the header occupied
// (blank line included).
func Parse(buf []byte) (Request, int, error) {
	end := bytes.Index(buf, headerEnd)
	if end < 0 {
		return Request{}, 0, ncerr.ErrIncomplete
	}
	consumed := end + len(headerEnd)
	head := buf[:end]

	line := head
	rest := []byte(nil)
	if i := bytes.Index(head, crlf); i >= 0 {
		line, rest = head[:i], head[i+len(crlf):]
	}

	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 || len(parts[0]) == 0 || len(parts[1]) == 0 {
		return Request{}, 0, ncerr.BadRequest("Invalid request")
	}
	req := Request{Method: string(parts[0]), Path: string(parts[1])}

	route, ok := Lookup(req.Method, req.Path)
	if !ok {
		return Request{}, 0, ncerr.NotFound()
	}
	req.Route = route

	n, err := contentLength(rest)
	if err != nil {
		return Request{}, 0, err
	}
	req.ContentLength = n
	return req, consumed, nil
}

// contentLength returns the first Content-Length value, or 0 when the
// header is absent.
func contentLength(lines []byte) (int, error) {
	for len(lines) > 0 {
		line := lines
		if i := bytes.Index(lines, crlf); i >= 0 {
			line, lines = lines[:i], lines[i+len(crlf):]
		} else {
			lines = nil
		}
		if !bytes.HasPrefix(line, contentLen) {
			continue
		}
		v := string(bytes.TrimSpace(line[len(contentLen):]))
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, ncerr.BadRequest("Invalid Content-Length")
		}
		return n, nil
	}
	return 0, nil
}
