package payment

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrSessionMismatch  = errors.New("checkout session does not belong to this message")
)

// ProcessorError wraps a failure talking to the payment provider.
type ProcessorError struct {
	Err error
}

func (e *ProcessorError) Error() string { return "payment provider error: " + e.Err.Error() }
func (e *ProcessorError) Unwrap() error { return e.Err }
