package request

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConnection means the transport produced no response: unreachable
	// host, timeout or an aborted call.
	ErrConnection = errors.New("connection error")
	// ErrServer means a response arrived with status >= 400.
	ErrServer = errors.New("server error")
	// ErrParse means the body could not be decoded into the requested shape.
	ErrParse = errors.New("parse error")
	// ErrCancelled means the descriptor was cancelled before or during execution.
	ErrCancelled = errors.New("request cancelled")
)

// Error is the typed failure delivered for a descriptor. Err is one of the
// package sentinels; Cause, when set, is the underlying failure.
type Error struct {
	Err        error
	Cause      error
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
	case e.Cause != nil:
		return fmt.Sprintf("%v: %v", e.Err, e.Cause)
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// ConnectionError reports a transport failure.
func ConnectionError(cause error) *Error {
	return &Error{Err: ErrConnection, Cause: cause}
}

// ServerError reports a response with a failing status code.
func ServerError(statusCode int, header http.Header, body []byte) *Error {
	return &Error{Err: ErrServer, StatusCode: statusCode, Header: header, Body: body}
}

// ParseError reports a decoding failure.
func ParseError(cause error) *Error {
	return &Error{Err: ErrParse, Cause: cause}
}

// CancelledError reports a cancellation. cause may be nil.
func CancelledError(cause error) *Error {
	return &Error{Err: ErrCancelled, Cause: cause}
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return nil, false
	}
	return e, true
}
