package outreach

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned when no active credential remains.
	ErrPoolExhausted = errors.New("credential pool exhausted")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable marks infrastructure failures that abort a run.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ErrorClass groups extraction-service failures by how the worker reacts.
type ErrorClass string

// Error classes returned by ClassOf.
const (
	ClassTransient   ErrorClass = "transient"
	ClassQuota       ErrorClass = "quota"
	ClassUnsupported ErrorClass = "unsupported"
	ClassPermanent   ErrorClass = "permanent"
)

// ServiceError is a classified failure from the extraction service.
type ServiceError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Class, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err. Unclassified errors are transient.
func ClassOf(err error) ErrorClass {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Class
	}
	return ClassTransient
}
