package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks malformed transaction data or request payloads.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound is returned when a stored record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrExternalService wraps a failure of an upstream collaborator
// (explanation API, oracle). Metrics computed before the failure are kept.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}
