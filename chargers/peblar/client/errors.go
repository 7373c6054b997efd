package client

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// AuthError is returned when the charger rejects the access token (401), or
// when the token lacks the rights needed for a write (403).
type AuthError struct {
	Method     string
	Endpoint   string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.Endpoint, http.StatusText(e.StatusCode))
}

// HTTPError is a non success response from the charger that is not
// otherwise classified.
type HTTPError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// ConnectionError means the charger could not be reached, or answered a
// read with an error status.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to charger (%s): %s", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsAuthError returns true if err or anything it wraps is an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsConnectionError returns true if err or anything it wraps is a
// *ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsHTTPError returns true if err is a charger error response that is not an
// authentication failure.
func IsHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}
