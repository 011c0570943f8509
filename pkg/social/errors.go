package social

import (
	"errors"
	"fmt"
)

// Sentinel errors for client-visible failure conditions. Handlers translate
// these into redirects or 4xx responses; they are never retried internally.
var (
	// ErrUnknownProvider is returned when a provider name is not registered
	// or its backend is disabled by configuration.
	ErrUnknownProvider = errors.New("social: unknown or disabled provider")

	// ErrMissingPendingState is returned when complete-auth runs without a
	// matching begin-auth on the same session.
	ErrMissingPendingState = errors.New("social: no pending authentication state")

	// ErrTokenMismatch is returned when the token or state nonce carried by
	// the provider callback does not match the pending one.
	ErrTokenMismatch = errors.New("social: callback token does not match pending state")

	// ErrUserCancelled is returned when the provider reports that the user
	// declined the authorization request.
	ErrUserCancelled = errors.New("social: authentication cancelled by user")

	// ErrAutoCreateDisabled is returned when no association exists, no local
	// user was supplied, and account auto-creation is switched off.
	ErrAutoCreateDisabled = errors.New("social: account auto-creation is disabled")

	// ErrUsernameExhausted is returned when the collision-suffix loop hits
	// its iteration bound without finding a free username.
	ErrUsernameExhausted = errors.New("social: exhausted username candidates")
)

// DiscoveryError indicates the provider endpoint could not be resolved or
// verified during discovery or the initial token fetch.
type DiscoveryError struct {
	Provider string
	Endpoint string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("social: discovery failed for provider %s (%s): %v", e.Provider, e.Endpoint, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ProtocolError indicates a malformed or failed provider response.
type ProtocolError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("social: protocol error from provider %s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("social: protocol error from provider %s: %s", e.Provider, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AccountConflictError indicates the external identity is already bound to a
// different local account. The engine never merges accounts; resolution is
// left to the caller.
type AccountConflictError struct {
	Provider    string
	ExternalID  string
	BoundUserID int64
	GivenUserID int64
}

func (e *AccountConflictError) Error() string {
	return fmt.Sprintf("social: identity %s/%s is already associated with user %d",
		e.Provider, e.ExternalID, e.BoundUserID)
}

// protocolErr wraps err with provider context unless it is already one of the
// package's typed errors.
func protocolErr(provider, reason string, err error) error {
	var de *DiscoveryError
	var pe *ProtocolError
	if errors.As(err, &de) || errors.As(err, &pe) ||
		errors.Is(err, ErrUserCancelled) || errors.Is(err, ErrTokenMismatch) ||
		errors.Is(err, ErrMissingPendingState) {
		return err
	}
	return &ProtocolError{Provider: provider, Reason: reason, Err: err}
}
