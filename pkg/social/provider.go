package social

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// AuthStart is the outcome of beginning an authentication attempt: either a
// redirect to the provider or an inline auto-submitting HTML form, never both.
type AuthStart struct {
	RedirectURL string
	HTML        string
}

// UsesRedirect reports whether the attempt proceeds via HTTP redirect.
func (s *AuthStart) UsesRedirect() bool { return s.RedirectURL != "" }

// Client is the contract every protocol client implements.
//
// BeginAuth initiates the handshake and persists per-attempt correlation
// state under (sessionID, provider). CompleteAuth consumes that state,
// validates the provider callback and returns the verified identity. Both
// may perform blocking network calls to the provider; failures surface as
// DiscoveryError, ProtocolError, ErrUserCancelled, ErrTokenMismatch or
// ErrMissingPendingState and are never retried internally.
type Client interface {
	Name() string
	Protocol() Protocol
	BeginAuth(ctx context.Context, sessionID string, r *http.Request) (*AuthStart, error)
	CompleteAuth(ctx context.Context, sessionID string, r *http.Request) (*ProviderIdentity, error)

	// Profile normalizes the identity's raw attributes into the canonical
	// profile used by the reconciliation engine.
	Profile(identity *ProviderIdentity) CanonicalProfile

	// ExtraData returns the provider values persisted onto the association:
	// the access token plus any configured extra fields. Nil when the
	// provider carries nothing worth storing.
	ExtraData(identity *ProviderIdentity) map[string]string
}

// ClientDeps are the collaborators injected into protocol clients at
// registry build time. HTTPClient is used for all outbound provider calls so
// instrumentation wraps every round trip.
type ClientDeps struct {
	States      StateStore
	HTTPClient  *http.Client
	BaseURL     string
	CallbackURL func(provider string) string

	// TrustRoot is the OpenID realm presented to the user during
	// authorization. Defaults to BaseURL.
	TrustRoot string
}

func (d ClientDeps) callbackURL(provider string) string {
	if d.CallbackURL != nil {
		return d.CallbackURL(provider)
	}
	return strings.TrimRight(d.BaseURL, "/") + "/auth/" + provider + "/complete"
}

func (d ClientDeps) trustRoot() string {
	if d.TrustRoot != "" {
		return d.TrustRoot
	}
	return strings.TrimRight(d.BaseURL, "/") + "/"
}

func (d ClientDeps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

// extraData builds the association extra-data map shared by the OAuth-family
// clients: the access token plus the configured extra fields under their
// aliases.
func extraData(identity *ProviderIdentity, fields []ExtraField) map[string]string {
	data := map[string]string{
		attrAccessToken: identity.RawAttributes[attrAccessToken],
	}
	for _, f := range fields {
		alias := f.Alias
		if alias == "" {
			alias = f.Name
		}
		data[alias] = identity.RawAttributes[f.Name]
	}
	return data
}

// autoSubmitForm renders a minimal self-submitting POST form for provider
// messages too large to carry in a redirect URL.
func autoSubmitForm(action string, params url.Values) string {
	var b strings.Builder
	b.WriteString("<html><body onload=\"document.forms[0].submit();\">\n")
	fmt.Fprintf(&b, "<form id=\"openid_message\" method=\"post\" action=\"%s\">\n", htmlEscape(action))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range params[k] {
			fmt.Fprintf(&b, "<input type=\"hidden\" name=\"%s\" value=\"%s\"/>\n", htmlEscape(k), htmlEscape(v))
		}
	}
	b.WriteString("<noscript><input type=\"submit\" value=\"Continue\"/></noscript>\n</form></body></html>")
	return b.String()
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func htmlEscape(s string) string { return htmlEscaper.Replace(s) }

// requestURL reconstructs the absolute URL of an inbound request, honoring
// forwarding headers set by a fronting proxy.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.RequestURI
}
