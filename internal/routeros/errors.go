package routeros

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-routeros/routeros/v3"
)

var (
	ErrConfiguration = errors.New("routeros: invalid device configuration")
	ErrConnection    = errors.New("routeros: connection failed")
	ErrTimeout       = errors.New("routeros: operation timed out")
	ErrClosed        = errors.New("routeros: session closed")
	ErrRejected      = errors.New("routeros: rejected by device")
	ErrNotFound      = errors.New("routeros: no such item")
)

// RejectionError is returned when the device answers a command with a trap.
type RejectionError struct {
	Command string
	Message string
}

func NewRejection(command, message string) *RejectionError {
	return &RejectionError{Command: command, Message: message}
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("routeros: %s rejected: %s", e.Command, e.Message)
}

func (e *RejectionError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return true
	case ErrNotFound:
		return isNotFoundMessage(e.Message)
	}
	return false
}

func isNotFoundMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "no such item") || strings.Contains(msg, "not found")
}

// IsRetryable reports whether err is a transport fault that may succeed on a
// fresh connection. Rejections and configuration errors are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrClosed)
}

func classify(command string, err error) error {
	if err == nil {
		return nil
	}

	var devErr *routeros.DeviceError
	if errors.As(err, &devErr) {
		msg := devErr.Error()
		if devErr.Sentence != nil {
			if m, ok := devErr.Sentence.Map["message"]; ok {
				msg = m
			}
		}
		return NewRejection(command, msg)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, command)
	}

	return fmt.Errorf("%w: %s: %v", ErrConnection, command, err)
}
