package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrGateway matches every *Error with errors.Is.
var ErrGateway = errors.New("sms gateway error")

type Kind string

const (
	KindTransport  Kind = "transport"
	KindHTTPStatus Kind = "http_status"
	KindAPI        Kind = "api"
	KindDecode     Kind = "decode"
)

// Error describes a failed gateway call. StatusCode and Body are set
// whenever a response was received.
type Error struct {
	Kind       Kind
	APIMethod  string
	StatusCode int
	Code       int
	Message    string
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransport:
		return fmt.Sprintf("smsc %s: request failed: %v", e.APIMethod, e.Err)
	case KindHTTPStatus:
		return fmt.Sprintf("smsc %s: got status_code=%d body=%q", e.APIMethod, e.StatusCode, e.Body)
	case KindAPI:
		return fmt.Sprintf("smsc %s: got error_code=%d (%s) body=%q", e.APIMethod, e.Code, e.Message, e.Body)
	default:
		return fmt.Sprintf("smsc %s: invalid response: %v body=%q", e.APIMethod, e.Err, e.Body)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrGateway
}

// Timeout reports whether the call failed because a deadline expired.
func (e *Error) Timeout() bool {
	if e.Kind != KindTransport || e.Err == nil {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// AsError returns the *Error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
