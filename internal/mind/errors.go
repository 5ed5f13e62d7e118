// Package mind is the judgment-service boundary: schema-validated structured
// calls to an external model, wrapped in a per-run circuit breaker.
//
// Every response is validated locally against its schema before use, and a
// validation failure counts exactly like a transport failure. The orchestrator
// never sees a half-valid response.
package mind

import (
	"errors"
	"fmt"
)

// Failure classes for a judgment call.
const (
	FailTransport  = "transport"  // network, timeout, provider error
	FailValidation = "validation" // response did not match its schema
)

// ServiceError is any failure of a judgment call. Both classes count toward
// the circuit breaker.
type ServiceError struct {
	Schema string
	Class  string
	Err    error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("mind: %s failure on %s: %v", e.Class, e.Schema, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsServiceError reports whether err wraps a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

func transportErr(schema string, err error) error {
	return &ServiceError{Schema: schema, Class: FailTransport, Err: err}
}

func validationErr(schema string, err error) error {
	return &ServiceError{Schema: schema, Class: FailValidation, Err: err}
}
