package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
)

// oauth1Client implements the three-legged OAuth 1.0a flow: fetch an
// unauthorized request token, send the user to authorize it, then exchange
// token plus verifier for an access token.
type oauth1Client struct {
	name  string
	cfg   ProviderConfig
	deps  ClientDeps
	oauth *oauth1.Config

	// fetchProfile retrieves the provider profile with the signed client.
	// Swappable in tests.
	fetchProfile func(ctx context.Context, token *oauth1.Token) (map[string]string, error)
}

func newOAuth1Client(deps ClientDeps, cfg ProviderConfig) (Client, error) {
	if cfg.RequestTokenURL == "" || cfg.AuthorizeURL == "" || cfg.AccessTokenURL == "" {
		return nil, fmt.Errorf("oauth1 provider needs request_token_url, authorize_url and access_token_url")
	}
	c := &oauth1Client{
		name: cfg.Name,
		cfg:  cfg,
		deps: deps,
		oauth: &oauth1.Config{
			ConsumerKey:    cfg.Key,
			ConsumerSecret: cfg.Secret,
			CallbackURL:    deps.callbackURL(cfg.Name),
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: cfg.RequestTokenURL,
				AuthorizeURL:    cfg.AuthorizeURL,
				AccessTokenURL:  cfg.AccessTokenURL,
			},
			HTTPClient: deps.httpClient(),
		},
	}
	c.fetchProfile = c.defaultFetchProfile
	return c, nil
}

func (c *oauth1Client) Name() string       { return c.name }
func (c *oauth1Client) Protocol() Protocol { return ProtocolOAuth1 }

// BeginAuth obtains an unauthorized request token, stores it with its secret
// as pending state and redirects to the provider's authorization page.
func (c *oauth1Client) BeginAuth(ctx context.Context, sessionID string, r *http.Request) (*AuthStart, error) {
	requestToken, requestSecret, err := c.oauth.RequestToken()
	if err != nil {
		return nil, &DiscoveryError{Provider: c.name, Endpoint: c.cfg.RequestTokenURL, Err: err}
	}

	authURL, err := c.oauth.AuthorizationURL(requestToken)
	if err != nil {
		return nil, &ProtocolError{Provider: c.name, Reason: "building authorization URL", Err: err}
	}

	state := &PendingAuthState{
		Provider:      c.name,
		RequestToken:  requestToken,
		RequestSecret: requestSecret,
		ReturnTo:      r.FormValue("next"),
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.deps.States.Save(ctx, sessionID, c.name, state); err != nil {
		return nil, fmt.Errorf("saving pending state: %w", err)
	}
	return &AuthStart{RedirectURL: authURL.String()}, nil
}

// CompleteAuth validates that the returned token matches the pending request
// token, exchanges it for an access token and fetches the profile.
func (c *oauth1Client) CompleteAuth(ctx context.Context, sessionID string, r *http.Request) (*ProviderIdentity, error) {
	if r.FormValue("denied") != "" {
		return nil, ErrUserCancelled
	}

	state, err := c.deps.States.Consume(ctx, sessionID, c.name)
	if err != nil {
		return nil, err
	}

	requestToken, verifier, err := oauth1.ParseAuthorizationCallback(r)
	if err != nil {
		return nil, &ProtocolError{Provider: c.name, Reason: "malformed authorization callback", Err: err}
	}
	if requestToken != state.RequestToken {
		return nil, ErrTokenMismatch
	}

	accessToken, accessSecret, err := c.oauth.AccessToken(requestToken, state.RequestSecret, verifier)
	if err != nil {
		return nil, &ProtocolError{Provider: c.name, Reason: "access token exchange failed", Err: err}
	}

	attrs, err := c.fetchProfile(ctx, oauth1.NewToken(accessToken, accessSecret))
	if err != nil {
		return nil, protocolErr(c.name, "profile fetch failed", err)
	}
	attrs[attrAccessToken] = accessToken
	attrs[attrTokenSecret] = accessSecret

	externalID := attrs[c.cfg.AttributeMapping.UserID]
	if externalID == "" {
		return nil, &ProtocolError{Provider: c.name, Reason: "profile response missing user id"}
	}
	return &ProviderIdentity{
		Provider:      c.name,
		ExternalID:    externalID,
		RawAttributes: attrs,
	}, nil
}

func (c *oauth1Client) Profile(identity *ProviderIdentity) CanonicalProfile {
	return mapAttributes(identity, c.cfg.AttributeMapping)
}

// ExtraData persists both halves of the access token credential along with
// any configured extra fields.
func (c *oauth1Client) ExtraData(identity *ProviderIdentity) map[string]string {
	data := extraData(identity, c.cfg.ExtraDataFields)
	if v := identity.RawAttributes[attrTokenSecret]; v != "" {
		data[attrTokenSecret] = v
	}
	return data
}

func (c *oauth1Client) defaultFetchProfile(ctx context.Context, token *oauth1.Token) (map[string]string, error) {
	if c.cfg.ProfileURL == "" {
		return map[string]string{}, nil
	}
	ctx = context.WithValue(ctx, oauth1.HTTPClient, c.deps.httpClient())
	signed := c.oauth.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ProfileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := signed.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile endpoint returned %d", resp.StatusCode)
	}

	var raw map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding profile response: %w", err)
	}
	attrs := make(map[string]string)
	flattenAttributes("", raw, attrs)
	return attrs, nil
}
