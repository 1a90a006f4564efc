package resilience

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure that may succeed on a later attempt
// (429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether a failed request may succeed on a later
// attempt. Besides an explicit TransientError this covers network timeouts
// and connections the server dropped, which the SoilGrids gateway and the
// map server both do under load. A call rejected by an open circuit is never
// transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var te *TransientError
	var netErr net.Error
	switch {
	case errors.As(err, &te):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// Connection closed before the response was complete.
		return true
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	// Errors that lost their type inside net/http.
	msg := strings.ToLower(err.Error())
	for _, p := range droppedConnMessages {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var droppedConnMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"tls handshake timeout",
	"server closed idle connection",
}

// IsTransientHTTPStatus reports whether a status code is worth retrying.
// SoilGrids answers 429 when the fair-use rate is exceeded and 502-504 when
// its gateway is overloaded.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
