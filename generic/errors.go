/*
errors.go - Centralized error types for the generic toolkit

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Upstream errors - transient (gateway) vs everything else
  2. Validation errors - bad dates, bad periods, unknown codes
  3. Lookup errors - missing records

USAGE:
  Retry loops ask IsTransient; HTTP handlers ask IsClientError:

    if generic.IsTransient(err) {
        // back off and try the same day again
    }

SEE ALSO:
  - retry.go: Uses IsTransient as the default retry predicate
  - codes.go: Returns UnknownCodeError
  - prisonapi/client.go: Maps 502/503/504 onto ErrGatewayUnavailable
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrGatewayUnavailable marks an upstream failure worth retrying: the
	// gateway in front of the upstream API answered instead of the API.
	ErrGatewayUnavailable = errors.New("upstream gateway unavailable")

	// ErrUnknownCode is returned when a stored code has no enumeration value.
	ErrUnknownCode = errors.New("unknown code")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnknownCodeError names the enumeration and the offending code.
type UnknownCodeError struct {
	Kind string
	Code string
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown %s code %q", e.Kind, e.Code)
}

func (e *UnknownCodeError) Unwrap() error {
	return ErrUnknownCode
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsTransient returns true if the error might succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrUnknownCode)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
