package provider

import (
	"errors"
	"fmt"
)

// ErrServiceUnavailable matches every ServiceError via errors.Is.
var ErrServiceUnavailable = errors.New("language model service unavailable")

// ServiceError reports a model call that could not complete: transport
// failure, timeout, non-success status or an unusable body.
type ServiceError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: API error %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool { return target == ErrServiceUnavailable }

func serviceErr(providerID string, status int, format string, args ...interface{}) error {
	return &ServiceError{Provider: providerID, Status: status, Err: fmt.Errorf(format, args...)}
}
