package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind separates failures that produced a response from those that did not.
type Kind string

const (
	KindProtocol Kind = "protocol"
	KindNetwork  Kind = "network"
)

// Error is a failed call. Protocol errors carry the status, status text, headers
// and body of the response; network errors carry only the cause.
type Error struct {
	Kind       Kind
	Method     string
	URL        string
	StatusCode int
	StatusText string
	Headers    map[string]string
	Body       any
	Cause      error
}

func (e *Error) Error() string {
	if e.Kind == KindProtocol {
		return fmt.Sprintf("[%s] %q: %d %s", e.Method, e.URL, e.StatusCode, e.StatusText)
	}
	return fmt.Sprintf("[%s] %q: %v", e.Method, e.URL, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// retryableStatus lists the statuses retried by the operation-level retry.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusConflict:            true,
	http.StatusTooEarly:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Retryable reports whether another attempt may succeed: network failures
// and the transient statuses above.
func (e *Error) Retryable() bool {
	if e.Kind == KindNetwork {
		return true
	}
	return retryableStatus[e.StatusCode]
}

func networkError(r Request, cause error) *Error {
	return &Error{Kind: KindNetwork, Method: r.Method, URL: r.URL, Cause: cause}
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var terr *Error
	if errors.As(err, &terr) {
		return terr, true
	}
	return nil, false
}
