package task

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task, execution or template id does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when an operation is not allowed for the current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrProviderFailure wraps errors raised by the AI provider.
	ErrProviderFailure = errors.New("provider failure")
	// ErrRepositoryFailure wraps errors raised by the persistence layer.
	ErrRepositoryFailure = errors.New("repository failure")
	// ErrValidation is returned for malformed requests.
	ErrValidation = errors.New("validation failed")
)

// NotFoundError builds a wrapped ErrNotFound for the given entity kind.
func NotFoundError(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// RepositoryError wraps a driver error so callers can classify it.
func RepositoryError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRepositoryFailure, op, err)
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
