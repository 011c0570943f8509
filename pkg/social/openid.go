package social

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/yohcop/openid-go"
)

const (
	axNamespace     = "http://openid.net/srv/ax/1.0"
	sregNamespace   = "http://openid.net/extensions/sreg/1.1"
	sregNamespace10 = "http://openid.net/sreg/1.0"

	// Assertion requests larger than this are delivered through an
	// auto-submitting POST form instead of a redirect, since several user
	// agents and providers truncate longer URLs.
	maxRedirectURLLen = 2048

	discoveryCacheSize = 128
)

// openIDClient implements the relying-party side of OpenID 2.0
// checkid_setup with Attribute Exchange and Simple Registration profile
// attributes.
type openIDClient struct {
	name      string
	deps      ClientDeps
	oid       *openid.OpenID
	discovery openid.DiscoveryCache
	nonces    openid.NonceStore

	// verify checks a positive assertion and returns the verified claimed
	// identifier. Swappable in tests, where real assertion signatures
	// cannot be minted.
	verify func(fullURL string) (string, error)
}

func newOpenIDClient(deps ClientDeps, cfg ProviderConfig) (Client, error) {
	cache, err := lru.New[string, openid.DiscoveredInfo](discoveryCacheSize)
	if err != nil {
		return nil, err
	}
	c := &openIDClient{
		name:      cfg.Name,
		deps:      deps,
		oid:       openid.NewOpenID(deps.httpClient()),
		discovery: &lruDiscoveryCache{cache: cache},
		nonces:    openid.NewSimpleNonceStore(),
	}
	c.verify = func(fullURL string) (string, error) {
		return c.oid.Verify(fullURL, c.discovery, c.nonces)
	}
	return c, nil
}

func (c *openIDClient) Name() string       { return c.name }
func (c *openIDClient) Protocol() Protocol { return ProtocolOpenID }

// BeginAuth discovers the OP behind the user-supplied identifier, records
// the pending attempt and produces either a redirect or a self-submitting
// form carrying the checkid_setup request with AX/SReg attribute queries.
func (c *openIDClient) BeginAuth(ctx context.Context, sessionID string, r *http.Request) (*AuthStart, error) {
	identifier := r.FormValue("openid_identifier")
	if identifier == "" {
		return nil, &ProtocolError{Provider: c.name, Reason: "missing openid_identifier"}
	}

	redirect, err := c.oid.RedirectURL(identifier, c.deps.callbackURL(c.name), c.deps.trustRoot())
	if err != nil {
		return nil, &DiscoveryError{Provider: c.name, Endpoint: identifier, Err: err}
	}

	u, err := url.Parse(redirect)
	if err != nil {
		return nil, &DiscoveryError{Provider: c.name, Endpoint: identifier, Err: err}
	}

	// Ask for attributes with the extension the OP advertises. When the
	// capability probe is inconclusive, ask with both and let the OP answer
	// with whichever it understands.
	useAX, useSReg := true, true
	if ax, known := c.supportsAX(ctx, identifier); known {
		useAX, useSReg = ax, !ax
	}
	q := u.Query()
	for k, vs := range openIDExtensionParams(useAX, useSReg) {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	state := &PendingAuthState{
		Provider:   c.name,
		Identifier: identifier,
		ReturnTo:   r.FormValue("next"),
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.deps.States.Save(ctx, sessionID, c.name, state); err != nil {
		return nil, fmt.Errorf("saving pending state: %w", err)
	}

	if len(u.String()) <= maxRedirectURLLen {
		return &AuthStart{RedirectURL: u.String()}, nil
	}
	action := *u
	action.RawQuery = ""
	return &AuthStart{HTML: autoSubmitForm(action.String(), q)}, nil
}

// CompleteAuth dispatches on openid.mode, verifies positive assertions and
// folds the extension attributes into a canonical namespace.
func (c *openIDClient) CompleteAuth(ctx context.Context, sessionID string, r *http.Request) (*ProviderIdentity, error) {
	if err := r.ParseForm(); err != nil {
		return nil, &ProtocolError{Provider: c.name, Reason: "unparseable callback", Err: err}
	}

	switch mode := r.Form.Get("openid.mode"); mode {
	case "cancel":
		return nil, ErrUserCancelled
	case "error":
		return nil, &ProtocolError{Provider: c.name, Reason: r.Form.Get("openid.error")}
	case "id_res":
	default:
		return nil, &ProtocolError{Provider: c.name, Reason: fmt.Sprintf("unexpected openid.mode %q", mode)}
	}

	if _, err := c.deps.States.Consume(ctx, sessionID, c.name); err != nil {
		return nil, err
	}

	id, err := c.verify(requestURL(r))
	if err != nil {
		return nil, &ProtocolError{Provider: c.name, Reason: "assertion verification failed", Err: err}
	}

	sreg, ax := parseOpenIDExtensions(r.Form)
	return &ProviderIdentity{
		Provider:      c.name,
		ExternalID:    id,
		RawAttributes: mergeOpenIDAttributes(sreg, ax),
	}, nil
}

func (c *openIDClient) Profile(identity *ProviderIdentity) CanonicalProfile {
	return openIDProfile(identity.RawAttributes)
}

// ExtraData is nil for OpenID: the protocol issues no tokens.
func (c *openIDClient) ExtraData(*ProviderIdentity) map[string]string { return nil }

// supportsAX probes the identifier's XRDS document for the Attribute
// Exchange service type. The second return value is false when the probe
// was inconclusive.
func (c *openIDClient) supportsAX(ctx context.Context, identifier string) (ax, known bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identifier, nil)
	if err != nil {
		return false, false
	}
	req.Header.Set("Accept", "application/xrds+xml")
	resp, err := c.deps.httpClient().Do(req)
	if err != nil {
		return false, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, false
	}
	var doc xrdsDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return false, false
	}
	for _, svc := range doc.XRD.Services {
		for _, t := range svc.Types {
			if t == axNamespace {
				return true, true
			}
		}
	}
	return false, true
}

type xrdsDocument struct {
	XMLName xml.Name `xml:"XRDS"`
	XRD     struct {
		Services []struct {
			Types []string `xml:"Type"`
		} `xml:"Service"`
	} `xml:"XRD"`
}

// openIDExtensionParams builds the AX fetch_request and SReg query
// parameters appended to the checkid_setup message. AX attributes are
// requested under both the current and the legacy type URIs since providers
// answer only the schema they know.
func openIDExtensionParams(useAX, useSReg bool) url.Values {
	params := url.Values{}
	if useAX {
		params.Set("openid.ns.ax", axNamespace)
		params.Set("openid.ax.mode", "fetch_request")
		var required []string
		add := func(alias, typeURI string) {
			params.Set("openid.ax.type."+alias, typeURI)
			required = append(required, alias)
		}
		add("email", "http://axschema.org/contact/email")
		add("fullname", "http://axschema.org/namePerson")
		add("first_name", "http://axschema.org/namePerson/first")
		add("last_name", "http://axschema.org/namePerson/last")
		add("nickname", "http://axschema.org/namePerson/friendly")
		add("old_email", "http://schema.openid.net/contact/email")
		add("old_fullname", "http://schema.openid.net/namePerson")
		add("old_nickname", "http://schema.openid.net/namePerson/friendly")
		params.Set("openid.ax.required", strings.Join(required, ","))
	}
	if useSReg {
		params.Set("openid.ns.sreg", sregNamespace)
		params.Set("openid.sreg.optional", "nickname,email,fullname")
	}
	return params
}

// parseOpenIDExtensions extracts SReg fields and AX values from a positive
// assertion. Extension aliases are resolved through the openid.ns.<alias>
// declarations rather than assumed, since the OP picks its own aliases. AX
// values come back keyed by their type URI.
func parseOpenIDExtensions(form url.Values) (sreg, ax map[string]string) {
	sreg = make(map[string]string)
	ax = make(map[string]string)
	for key, vals := range form {
		if !strings.HasPrefix(key, "openid.ns.") || len(vals) == 0 {
			continue
		}
		alias := strings.TrimPrefix(key, "openid.ns.")
		switch vals[0] {
		case sregNamespace, sregNamespace10:
			prefix := "openid." + alias + "."
			for k, v := range form {
				if strings.HasPrefix(k, prefix) && len(v) > 0 && v[0] != "" {
					sreg[strings.TrimPrefix(k, prefix)] = v[0]
				}
			}
		case axNamespace:
			typePrefix := "openid." + alias + ".type."
			for k, v := range form {
				if !strings.HasPrefix(k, typePrefix) || len(v) == 0 {
					continue
				}
				attr := strings.TrimPrefix(k, typePrefix)
				val := form.Get("openid." + alias + ".value." + attr)
				if val == "" {
					val = form.Get("openid." + alias + ".value." + attr + ".1")
				}
				if val != "" {
					ax[v[0]] = val
				}
			}
		}
	}
	return sreg, ax
}

// lruDiscoveryCache bounds OP discovery results so a crawler feeding junk
// identifiers cannot grow the cache without limit.
type lruDiscoveryCache struct {
	cache *lru.Cache[string, openid.DiscoveredInfo]
}

func (c *lruDiscoveryCache) Put(id string, info openid.DiscoveredInfo) {
	c.cache.Add(id, info)
}

func (c *lruDiscoveryCache) Get(id string) openid.DiscoveredInfo {
	if info, ok := c.cache.Get(id); ok {
		return info
	}
	return nil
}
