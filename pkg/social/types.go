package social

import "time"

// Protocol identifies the protocol family a provider speaks
type Protocol string

const (
	ProtocolOpenID Protocol = "openid"
	ProtocolOAuth1 Protocol = "oauth1"
	ProtocolOAuth2 Protocol = "oauth2"
	ProtocolOIDC   Protocol = "oidc"
)

// ProviderIdentity is the validated identity extracted from a provider
// response. Immutable once constructed by a protocol client.
type ProviderIdentity struct {
	Provider      string            `json:"provider"`
	ExternalID    string            `json:"external_id"`
	RawAttributes map[string]string `json:"raw_attributes,omitempty"`
}

// CanonicalProfile holds the protocol-agnostic profile attributes the
// reconciliation engine syncs onto local users. Empty string means absent.
type CanonicalProfile struct {
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// User represents a local user account. The surrounding application owns the
// user lifecycle; this package only creates users when auto-creation is
// enabled and updates profile fields on login.
type User struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email,omitempty"`
	FullName  string     `json:"full_name,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Association is the persistent link between a local user and one external
// identity. (Provider, ExternalID) is unique: at most one local user per
// external identity per provider, enforced by a database unique index.
type Association struct {
	ID         int64             `json:"id"`
	UserID     int64             `json:"user_id"`
	Provider   string            `json:"provider"`
	ExternalID string            `json:"external_id"`
	ExtraData  map[string]string `json:"extra_data,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// PendingAuthState is the transient correlation state written at begin-auth
// and consumed exactly once at complete-auth. Which fields are populated
// depends on the protocol: OAuth 1.0a stores the unauthorized request token,
// OAuth2/OIDC store the state nonce, OpenID stores the claimed identifier.
type PendingAuthState struct {
	Provider      string    `json:"provider"`
	RequestToken  string    `json:"request_token,omitempty"`
	RequestSecret string    `json:"request_secret,omitempty"`
	Nonce         string    `json:"nonce,omitempty"`
	Identifier    string    `json:"identifier,omitempty"`
	ReturnTo      string    `json:"return_to,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AttributeMap defines how provider profile fields map to canonical fields.
type AttributeMap struct {
	UserID    string `json:"user_id" yaml:"user_id"`
	Username  string `json:"username" yaml:"username"`
	Email     string `json:"email" yaml:"email"`
	FullName  string `json:"full_name,omitempty" yaml:"full_name"`
	FirstName string `json:"first_name,omitempty" yaml:"first_name"`
	LastName  string `json:"last_name,omitempty" yaml:"last_name"`
}

// ExtraField names a provider response field persisted into association
// extra data under Alias.
type ExtraField struct {
	Name  string `json:"name" yaml:"name"`
	Alias string `json:"alias" yaml:"alias"`
}

// ProviderConfig describes one provider registration. Key/Secret are the
// consumer credentials; OAuth-family providers are only enabled when both are
// present.
type ProviderConfig struct {
	Name     string   `json:"name" yaml:"name"`
	Protocol Protocol `json:"protocol" yaml:"protocol"`

	Key    string `json:"key" yaml:"key"`
	Secret string `json:"-" yaml:"secret"`

	// OAuth 1.0a endpoints
	RequestTokenURL string `json:"request_token_url,omitempty" yaml:"request_token_url"`
	AuthorizeURL    string `json:"authorize_url,omitempty" yaml:"authorize_url"`
	AccessTokenURL  string `json:"access_token_url,omitempty" yaml:"access_token_url"`

	// OAuth2 endpoints
	AuthURL  string `json:"auth_url,omitempty" yaml:"auth_url"`
	TokenURL string `json:"token_url,omitempty" yaml:"token_url"`

	// OIDC discovery endpoint
	IssuerURL string `json:"issuer_url,omitempty" yaml:"issuer_url"`

	ProfileURL string   `json:"profile_url,omitempty" yaml:"profile_url"`
	Scopes     []string `json:"scopes,omitempty" yaml:"scopes"`

	AttributeMapping AttributeMap `json:"attribute_mapping" yaml:"attribute_mapping"`
	ExtraDataFields  []ExtraField `json:"extra_data_fields,omitempty" yaml:"extra_data_fields"`
}

// Enabled reports whether the provider can be registered. OAuth-family
// providers need both consumer credentials; the generic OpenID provider has
// none and is always enabled.
func (c *ProviderConfig) Enabled() bool {
	if c.Protocol == ProtocolOpenID {
		return true
	}
	return c.Key != "" && c.Secret != ""
}

// Well-known raw attribute keys shared across protocol clients.
const (
	attrEmail       = "email"
	attrFullName    = "fullname"
	attrFirstName   = "first_name"
	attrLastName    = "last_name"
	attrNickname    = "nickname"
	attrAccessToken = "access_token"
	attrTokenSecret = "access_token_secret"
	attrExpires     = "expires"
)
