package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// oauth2Client implements the authorization-code grant with a random state
// nonce correlated through the pending-state store.
type oauth2Client struct {
	name  string
	cfg   ProviderConfig
	deps  ClientDeps
	oauth *oauth2.Config

	fetchProfile func(ctx context.Context, token *oauth2.Token) (map[string]string, error)
}

func newOAuth2Client(deps ClientDeps, cfg ProviderConfig) (Client, error) {
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("oauth2 provider needs auth_url and token_url")
	}
	c := &oauth2Client{
		name: cfg.Name,
		cfg:  cfg,
		deps: deps,
		oauth: &oauth2.Config{
			ClientID:     cfg.Key,
			ClientSecret: cfg.Secret,
			RedirectURL:  deps.callbackURL(cfg.Name),
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
	}
	c.fetchProfile = c.defaultFetchProfile
	return c, nil
}

func (c *oauth2Client) Name() string       { return c.name }
func (c *oauth2Client) Protocol() Protocol { return ProtocolOAuth2 }

// BeginAuth mints a state nonce, stores it as pending state and redirects to
// the provider's authorization endpoint.
func (c *oauth2Client) BeginAuth(ctx context.Context, sessionID string, r *http.Request) (*AuthStart, error) {
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

// CompleteAuth checks the state nonce, exchanges the authorization code and
// fetches the profile with the resulting token.
func (c *oauth2Client) CompleteAuth(ctx context.Context, sessionID string, r *http.Request) (*ProviderIdentity, error) {
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

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.deps.httpClient())
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, &ProtocolError{Provider: c.name, Reason: "code exchange failed", Err: err}
	}

	attrs, err := c.fetchProfile(ctx, token)
	if err != nil {
		return nil, protocolErr(c.name, "profile fetch failed", err)
	}
	attrs[attrAccessToken] = token.AccessToken
	if token.RefreshToken != "" {
		attrs["refresh_token"] = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		attrs[attrExpires] = strconv.FormatInt(int64(time.Until(token.Expiry).Seconds()), 10)
	}

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

func (c *oauth2Client) Profile(identity *ProviderIdentity) CanonicalProfile {
	return mapAttributes(identity, c.cfg.AttributeMapping)
}

// ExtraData carries the access token, the expiry hint when the provider
// reported one, and the configured extra fields.
func (c *oauth2Client) ExtraData(identity *ProviderIdentity) map[string]string {
	data := extraData(identity, c.cfg.ExtraDataFields)
	if v := identity.RawAttributes[attrExpires]; v != "" {
		data[attrExpires] = v
	}
	return data
}

func (c *oauth2Client) defaultFetchProfile(ctx context.Context, token *oauth2.Token) (map[string]string, error) {
	if c.cfg.ProfileURL == "" {
		return map[string]string{}, nil
	}
	client := c.oauth.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ProfileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
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
