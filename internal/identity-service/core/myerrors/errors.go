package myerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCodeRideNotFound is the booking API error_code for an unknown ride.
const ErrorCodeRideNotFound = "RIDE_NOT_FOUND"

var (
	ErrRideNotFound      = errors.New("ride not found")
	ErrNoRide            = errors.New("no current ride and no pickup location to book one")
	ErrPickupRequired    = errors.New("pickup location is required")
	ErrMalformedResponse = errors.New("booking api returned a malformed response")
)

// ValidationError is returned by EnsureValidRideID when the current ride is
// unusable and no replacement could be booked.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ride validation failed: %s", e.Reason)
}

// APIError is a booking API call that came back with success=false.
// Enveloped is set when the body decoded as a {success, error, error_code}
// envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Enveloped  bool
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("booking api: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("booking api: %s (http %d)", e.Message, e.StatusCode)
}

// Is matches ErrRideNotFound for an explicit RIDE_NOT_FOUND code. A bare 404
// counts only when the body was not an envelope; an enveloped 404 without the
// code is some other missing resource, such as a wrong base path.
func (e *APIError) Is(target error) bool {
	if target != ErrRideNotFound {
		return false
	}
	if e.Code == ErrorCodeRideNotFound {
		return true
	}
	return !e.Enveloped && e.StatusCode == http.StatusNotFound
}
