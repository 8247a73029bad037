// Package oauth implements the remote platform's OAuth 2.0 connection
// lifecycle: the PKCE authorization flow, code exchange, refresh-on-read
// token access, and explicit disconnect.
//
// This file centralizes the package's error values so callers can branch on
// them consistently. ErrNotConnected is deliberately a soft condition: the
// webhook and scheduler treat it as "skip this creator", never as a fatal
// failure.
package oauth

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an OAuth callback presents a state
// parameter that is unknown or expired. PKCE entries are one-time use, so a
// replayed state also fails with this error.
var ErrInvalidState = errors.New("invalid or expired state parameter")

// ErrNotConnected is returned when a creator has no usable access token:
// either none was ever stored, or the stored one expired and could not be
// refreshed. Callers must not retry writes against the platform after
// receiving it.
var ErrNotConnected = errors.New("creator not connected")

// TokenExchangeError is returned when the provider's token endpoint rejects
// a code exchange or a refresh. It carries the provider's HTTP status and
// response body for diagnostics.
type TokenExchangeError struct {
	// Op is "exchange" or "refresh".
	Op     string
	Status int
	Body   string
}

// Error implements the error interface.
func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token %s failed: provider returned %d: %s", e.Op, e.Status, e.Body)
}
