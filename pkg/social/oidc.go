package social

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// oidcClient layers ID-token verification over the authorization-code
// grant. Endpoints come from issuer discovery, not configuration.
type oidcClient struct {
	name     string
	cfg      ProviderConfig
	deps     ClientDeps
	provider *gooidc.Provider
	verifier *gooidc.IDTokenVerifier
	oauth    *oauth2.Config
}

func newOIDCClient(deps ClientDeps, cfg ProviderConfig) (Client, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("oidc provider needs issuer_url")
	}
	ctx := gooidc.ClientContext(context.Background(), deps.httpClient())
	provider, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, &DiscoveryError{Provider: cfg.Name, Endpoint: cfg.IssuerURL, Err: err}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}
	return &oidcClient{
		name:     cfg.Name,
		cfg:      cfg,
		deps:     deps,
		provider: provider,
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.Key}),
		oauth: &oauth2.Config{
			ClientID:     cfg.Key,
			ClientSecret: cfg.Secret,
			RedirectURL:  deps.callbackURL(cfg.Name),
			Scopes:       scopes,
			Endpoint:     provider.Endpoint(),
		},
	}, nil
}

func (c *oidcClient) Name() string       { return c.name }
func (c *oidcClient) Protocol() Protocol { return ProtocolOIDC }

func (c *oidcClient) BeginAuth(ctx context.Context, sessionID string, r *http.Request) (*AuthStart, error) {
	nonce := uuid.NewString()
	state := &PendingAuthState{
		Provider:  c.name,
		Nonce:     nonce,
		ReturnTo:  r.FormValue("next"),
		CreatedAt: time.Now().UTC(),
	}
	if err := c.deps.States.Save(ctx, sessionID, c.name, state); err != nil {
		return nil, fmt.Errorf("saving pending state: %w", err)
	}
	return &AuthStart{RedirectURL: c.oauth.AuthCodeURL(nonce)}, nil
}

// CompleteAuth exchanges the authorization code and validates the returned
// ID token signature, issuer and audience before trusting its claims.
func (c *oidcClient) CompleteAuth(ctx context.Context, sessionID string, r *http.Request) (*ProviderIdentity, error) {
	switch errCode := r.FormValue("error"); errCode {
	case "":
	case "access_denied":
		return nil, ErrUserCancelled
	default:
		return nil, &ProtocolError{Provider: c.name, Reason: errCode}
	}

	state, err := c.deps.States.Consume(ctx, sessionID, c.name)
	if err != nil {
		return nil, err
	}
	if r.FormValue("state") != state.Nonce {
		return nil, ErrTokenMismatch
	}
	code := r.FormValue("code")
	if code == "" {
		return nil, &ProtocolError{Provider: c.name, Reason: "missing authorization code"}
	}

	ctx = gooidc.ClientContext(ctx, c.deps.httpClient())
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, &ProtocolError{Provider: c.name, Reason: "code exchange failed", Err: err}
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, &ProtocolError{Provider: c.name, Reason: "token response missing id_token"}
	}
	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, &ProtocolError{Provider: c.name, Reason: "id_token verification failed", Err: err}
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, &ProtocolError{Provider: c.name, Reason: "decoding id_token claims", Err: err}
	}
	attrs := make(map[string]string)
	flattenAttributes("", claims, attrs)
	attrs[attrAccessToken] = token.AccessToken
	if token.RefreshToken != "" {
		attrs["refresh_token"] = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		attrs[attrExpires] = strconv.FormatInt(int64(time.Until(token.Expiry).Seconds()), 10)
	}

	externalID := attrs[c.cfg.AttributeMapping.UserID]
	if externalID == "" {
		externalID = idToken.Subject
	}
	if externalID == "" {
		return nil, &ProtocolError{Provider: c.name, Reason: "id_token missing subject"}
	}
	return &ProviderIdentity{
		Provider:      c.name,
		ExternalID:    externalID,
		RawAttributes: attrs,
	}, nil
}

func (c *oidcClient) Profile(identity *ProviderIdentity) CanonicalProfile {
	return mapAttributes(identity, c.cfg.AttributeMapping)
}

func (c *oidcClient) ExtraData(identity *ProviderIdentity) map[string]string {
	data := extraData(identity, c.cfg.ExtraDataFields)
	if v := identity.RawAttributes[attrExpires]; v != "" {
		data[attrExpires] = v
	}
	return data
}
