// Package social provides a social-login federation layer: it authenticates
// users against third-party identity providers and reconciles the returned
// identity with local user accounts.
//
// # Overview
//
// Four protocol families are supported, all producing the same normalized
// ProviderIdentity: OpenID 2.0 (URL-based assertion with attribute exchange),
// OAuth 1.0a (three-legged token flow with HMAC-SHA1 signed requests),
// OAuth 2.0 (authorization-code flow), and OpenID Connect.
//
// # Flow
//
// A begin-auth request selects a protocol client through the Registry, which
// produces either a redirect URL or an inline auto-submitting form. Transient
// per-attempt state (request tokens, state nonces) round-trips through a
// StateStore keyed to the browser session. The matching complete-auth request
// consumes that state, validates the provider response, and hands the
// extracted identity to the Engine, which finds or creates the local user,
// detects cross-account conflicts, and persists provider extra data on the
// association.
//
// # Usage
//
//	registry, _ := social.NewRegistry(deps, providers)
//	client := registry.Get("twitter")
//	start, _ := client.BeginAuth(ctx, sessionID, r)
//	// ... external round trip ...
//	identity, _ := client.CompleteAuth(ctx, sessionID, r)
//	profile := client.Profile(identity)
//	user, _ := engine.Authenticate(ctx, identity, profile, client.ExtraData(identity), 0)
//
// # Related Packages
//
//   - pkg/config: provider and engine configuration
//   - pkg/observability: structured logging and tracing
package social
