package psp

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient indicates a network failure or a 5xx from the PSP. The
	// call may be retried by the caller.
	ErrTransient = errors.New("psp: transient failure")

	// ErrRejected indicates the PSP rejected the request for business
	// reasons. The attempt is terminal.
	ErrRejected = errors.New("psp: request rejected")

	// ErrAuth indicates a credential failure. All further PSP calls should
	// be halted until an operator intervenes.
	ErrAuth = errors.New("psp: authentication failed")
)

// Rejection is a business rejection returned by the PSP. It unwraps to
// ErrRejected so callers can branch on the taxonomy without losing the
// PSP's error details.
type Rejection struct {
	StatusCode int
	Code       string
	Message    string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("psp: request rejected (http %d, code %s): %s", r.StatusCode, r.Code, r.Message)
}

func (r *Rejection) Unwrap() error {
	return ErrRejected
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuth)
}
