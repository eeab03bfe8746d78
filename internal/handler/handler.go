// Package handler implements the three OTA routes.  A handler is fed
// the buffered body bytes of its session and answers with a Result:
// wait for more bytes, consume a prefix, or finish with a response.
package handler

import (
	ncerr "otad/internal/errors"
	"otad/internal/journal"
	"otad/internal/request"
	"otad/internal/session"
)

// Outcome is the kind of a Result.
type Outcome int

const (
	// NeedMoreData leaves the buffer untouched until the next delivery.
	NeedMoreData Outcome = iota
	// Consumed means N bytes were committed and may be dropped.
	Consumed
	// Terminal means the request is finished; Status and Body must be
	// sent and the session closed.
	Terminal
)

func (o Outcome) String() string {
	switch o {
	case NeedMoreData:
		return "need-more-data"
	case Consumed:
		return "consumed"
	default:
		return "terminal"
	}
}

// Result is a handler's answer for one invocation.
type Result struct {
	Outcome Outcome
	N       int

	Status int
	Body   string
	Err    error  // cause of an error response, for logging
	After  func() // runs once the response has been sent successfully
}

// More asks for more data.
func More() Result { return Result{Outcome: NeedMoreData} }

// Consume commits n bytes.
func Consume(n int) Result { return Result{Outcome: Consumed, N: n} }

// Respond finishes the request with a response.
func Respond(status int, body string) Result {
	return Result{Outcome: Terminal, Status: status, Body: body}
}

// Fail finishes the request with the response carried by err.
func Fail(err *ncerr.StatusError) Result {
	return Result{Outcome: Terminal, Status: err.Code, Body: err.Msg, Err: err}
}

// Handler consumes the body of one route.  body aliases the session
// buffer; for requests without a body it is empty and the handler is
// called exactly once.
type Handler interface {
	Handle(s *session.Session, body []byte) Result
}

// Routes maps resolved routes to their handlers.
type Routes map[request.Route]Handler

// Recorder keeps a history of completed uploads and commits.
type Recorder interface {
	RecordUpload(u journal.Upload) error
	RecordCommit(c journal.Commit) error
}
