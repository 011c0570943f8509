package social

import "context"

// HookContext is the state handed to reconciliation hooks.
type HookContext struct {
	Provider string
	User     *User
	Identity *ProviderIdentity
	Profile  CanonicalProfile

	// NewUser is true when this authentication created the local account.
	NewUser bool
}

// Hook runs at a fixed point in the reconciliation flow. Both kinds
// report whether they mutated the user; a truthy result forces a save of
// the user row before the transaction commits.
type Hook func(ctx context.Context, hc *HookContext) bool
