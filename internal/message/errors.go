package message

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("message not found")
	ErrLocked          = errors.New("message is locked")
	ErrAlreadyUnlocked = errors.New("message already unlocked")
	ErrExpired         = errors.New("message has expired")
	ErrViewContention  = errors.New("too many concurrent views, retry")
)

// GoneError is returned once a message has disappeared. Reason is the rule
// that removed it.
type GoneError struct {
	Reason string
}

func (e *GoneError) Error() string {
	return fmt.Sprintf("message has disappeared: %s", e.Reason)
}

// ValidationError carries a message suitable for a 400 response.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
