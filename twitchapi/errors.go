package twitchapi

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx response from Helix or the OAuth endpoint.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("twitch %s failed: %d %s", e.Op, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("twitch %s failed: %d %s: %s", e.Op, e.Code, http.StatusText(e.Code), e.Body)
}

// StatusCode lets retry classify the response.
func (e *StatusError) StatusCode() int { return e.Code }

// AuthError means no app access token could be obtained.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("twitch app token: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError is returned when a login does not resolve to a Twitch user.
type NotFoundError struct {
	Login string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("twitch user not found: %q", e.Login) }

// IsUnauthorized reports whether err means the cached app token should be dropped:
// a 401 from Helix or a failed credential exchange.
func IsUnauthorized(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}
