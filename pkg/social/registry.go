package social

import (
	"fmt"
	"sync"
)

// ClientConstructor builds a protocol client from its configuration.
type ClientConstructor func(deps ClientDeps, cfg ProviderConfig) (Client, error)

// constructors maps protocol families to their client constructors. The set
// is fixed at compile time; new providers arrive as configuration entries,
// not as new code paths discovered at runtime.
var constructors = map[Protocol]ClientConstructor{
	ProtocolOpenID: newOpenIDClient,
	ProtocolOAuth1: newOAuth1Client,
	ProtocolOAuth2: newOAuth2Client,
	ProtocolOIDC:   newOIDCClient,
}

// Registry holds the process-wide mapping from provider name to protocol
// client. It is built once at startup from the preset table plus the
// configuration-driven extension list and treated as read-only afterwards;
// Rescan rebuilds it explicitly.
type Registry struct {
	mu      sync.RWMutex
	deps    ClientDeps
	configs []ProviderConfig
	clients map[string]Client
}

// NewRegistry builds a registry from the given provider configurations.
// Disabled providers (OAuth-family entries missing a consumer key or secret)
// are skipped, not errored: a provider without credentials is simply absent.
// Construction failures for enabled providers are reported.
func NewRegistry(deps ClientDeps, configs []ProviderConfig) (*Registry, error) {
	r := &Registry{deps: deps, configs: configs}
	if err := r.Rescan(); err != nil {
		return nil, err
	}
	return r, nil
}

// Rescan rebuilds the client map from the configured providers. Callers own
// the decision of when a reload is safe; there is no ambient file watching.
func (r *Registry) Rescan() error {
	clients := make(map[string]Client, len(r.configs))
	for _, cfg := range r.configs {
		if cfg.Name == "" {
			return fmt.Errorf("provider config missing a name")
		}
		if !cfg.Enabled() {
			continue
		}
		construct, ok := constructors[cfg.Protocol]
		if !ok {
			return fmt.Errorf("provider %s: unsupported protocol %q", cfg.Name, cfg.Protocol)
		}
		client, err := construct(r.deps, cfg)
		if err != nil {
			return fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		if _, dup := clients[cfg.Name]; dup {
			return fmt.Errorf("provider %s: duplicate registration", cfg.Name)
		}
		clients[cfg.Name] = client
	}

	r.mu.Lock()
	r.clients = clients
	r.mu.Unlock()
	return nil
}

// Get returns the client registered under name, or nil when the name is
// unknown or the provider is disabled. Callers must treat nil as a client
// error, not a crash.
func (r *Registry) Get(name string) Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[name]
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
