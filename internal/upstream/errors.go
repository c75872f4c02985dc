package upstream

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable: 5xx или сетевой сбой, имеет смысл повторить.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrRejected: 4xx (кроме 429), повтор бесполезен.
	ErrRejected = errors.New("upstream rejected request")
	ErrDecode   = errors.New("upstream response decode failed")
)

type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// errorType: метка для msp_source_fetch_errors_total.
func errorType(err error) string {
	var tErr *ThrottleError
	switch {
	case errors.As(err, &tErr):
		return "throttle"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
