package story

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrRejected           = errors.New("rejected")
	ErrUnreachable        = errors.New("unreachable")
	ErrInvalidEntity      = errors.New("invalid entity")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
)

// RejectedError is an authoritative answer from the story service with
// status >= 400. Message is the server's text, unmodified.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return e.Message
}

func (e *RejectedError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return true
	case ErrUnauthenticated:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// UnreachableError means no HTTP response was received at all.
type UnreachableError struct {
	Op  string
	Err error
}

func (e *UnreachableError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("unreachable: %v", e.Err)
	}
	return fmt.Sprintf("%s: unreachable: %v", e.Op, e.Err)
}

func (e *UnreachableError) Is(target error) bool {
	return target == ErrUnreachable
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// Message returns the text to show at the UI boundary for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected):
		return rejected.Error()
	case errors.Is(err, ErrUnauthenticated):
		return "your session has ended, please log in again"
	case errors.Is(err, ErrUnreachable):
		return "you are offline"
	case errors.Is(err, ErrPermissionDenied):
		return "notifications are blocked, allow them in the platform settings"
	case errors.Is(err, ErrChannelUnavailable):
		return "the notification channel is not available"
	}
	return err.Error()
}
