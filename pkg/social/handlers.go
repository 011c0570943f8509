package social

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/openfed/socialauth/pkg/httputil"
)

// HandlersConfig holds the HTTP-facing policy for the auth flows.
type HandlersConfig struct {
	// LoginRedirectURL is where successful logins land when the attempt
	// carried no next URL. Defaults to "/".
	LoginRedirectURL string

	// LoginErrorURL is where failed attempts are redirected. Defaults to
	// "/login".
	LoginErrorURL string

	// ErrorCookie names the cookie carrying the user-facing error message
	// across the redirect. Defaults to "socialauth_error".
	ErrorCookie string

	// SessionCookie names the correlation cookie binding begin-auth and
	// complete-auth to the same browser. Defaults to "socialauth_session".
	SessionCookie string

	// SecureCookies marks cookies Secure; enable behind TLS.
	SecureCookies bool
}

func (c *HandlersConfig) withDefaults() HandlersConfig {
	out := *c
	if out.LoginRedirectURL == "" {
		out.LoginRedirectURL = "/"
	}
	if out.LoginErrorURL == "" {
		out.LoginErrorURL = "/login"
	}
	if out.ErrorCookie == "" {
		out.ErrorCookie = "socialauth_error"
	}
	if out.SessionCookie == "" {
		out.SessionCookie = "socialauth_session"
	}
	return out
}

// Handlers exposes the authentication flows over HTTP.
type Handlers struct {
	registry *Registry
	engine   *Engine
	store    *Store
	cfg      HandlersConfig
	logger   *slog.Logger
	metrics  *Metrics

	// currentUser resolves the logged-in local user on a request. Required
	// for the associate and disconnect flows.
	currentUser func(r *http.Request) (int64, bool)

	// onLogin establishes the application session after a successful
	// reconciliation. expiresIn is the provider's session-expiry hint in
	// seconds, zero when the provider gave none.
	onLogin func(w http.ResponseWriter, r *http.Request, user *User, expiresIn int)
}

// NewHandlers creates the HTTP handlers for the authentication flows.
func NewHandlers(registry *Registry, engine *Engine, store *Store, cfg HandlersConfig) *Handlers {
	return &Handlers{
		registry: registry,
		engine:   engine,
		store:    store,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
	}
}

// SetLogger replaces the handlers' logger.
func (h *Handlers) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// SetMetrics attaches flow metrics. Nil disables recording.
func (h *Handlers) SetMetrics(m *Metrics) { h.metrics = m }

// SetCurrentUserFunc installs the resolver for the logged-in user.
func (h *Handlers) SetCurrentUserFunc(fn func(r *http.Request) (int64, bool)) {
	h.currentUser = fn
}

// SetLoginFunc installs the callback that establishes the application
// session after a successful login.
func (h *Handlers) SetLoginFunc(fn func(w http.ResponseWriter, r *http.Request, user *User, expiresIn int)) {
	h.onLogin = fn
}

// RegisterRoutes registers the authentication routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/providers", h.listProviders).Methods("GET")
	router.HandleFunc("/auth/associations", h.listAssociations).Methods("GET")

	router.HandleFunc("/auth/{provider}/login", h.beginLogin).Methods("GET", "POST")
	router.HandleFunc("/auth/{provider}/complete", h.completeLogin).Methods("GET", "POST")
	router.HandleFunc("/auth/{provider}/associate", h.beginAssociate).Methods("GET", "POST")
	router.HandleFunc("/auth/{provider}/associate/complete", h.completeAssociate).Methods("GET", "POST")
	router.HandleFunc("/auth/{provider}/disconnect", h.disconnect).Methods("POST")
}

// listProviders handles GET /auth/providers
func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	sort.Strings(names)
	httputil.WriteSuccess(w, map[string][]string{"providers": names})
}

// listAssociations handles GET /auth/associations
func (h *Handlers) listAssociations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	assocs, err := h.store.ListAssociations(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "listing associations", slog.Any("error", err))
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to list associations")
		return
	}
	// Tokens never leave the server.
	for i := range assocs {
		assocs[i].ExtraData = nil
	}
	httputil.WriteSuccess(w, map[string][]Association{"associations": assocs})
}

// beginLogin handles GET/POST /auth/{provider}/login
func (h *Handlers) beginLogin(w http.ResponseWriter, r *http.Request) {
	h.beginAuth(w, r, false)
}

// beginAssociate handles GET/POST /auth/{provider}/associate
func (h *Handlers) beginAssociate(w http.ResponseWriter, r *http.Request) {
	h.beginAuth(w, r, true)
}

func (h *Handlers) beginAuth(w http.ResponseWriter, r *http.Request, associate bool) {
	providerName := mux.Vars(r)["provider"]
	client := h.registry.Get(providerName)
	if client == nil {
		h.failAuth(w, r, providerName, ErrUnknownProvider)
		return
	}
	if associate {
		if _, ok := h.requireUser(w, r); !ok {
			return
		}
	}

	sessionID := h.ensureSession(w, r)
	start, err := client.BeginAuth(r.Context(), sessionID, r)
	if err != nil {
		h.failAuth(w, r, providerName, err)
		return
	}
	if start.UsesRedirect() {
		http.Redirect(w, r, start.RedirectURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(start.HTML))
}

// completeLogin handles GET/POST /auth/{provider}/complete
func (h *Handlers) completeLogin(w http.ResponseWriter, r *http.Request) {
	h.completeAuth(w, r, false)
}

// completeAssociate handles GET/POST /auth/{provider}/associate/complete
func (h *Handlers) completeAssociate(w http.ResponseWriter, r *http.Request) {
	h.completeAuth(w, r, true)
}

func (h *Handlers) completeAuth(w http.ResponseWriter, r *http.Request, associate bool) {
	ctx := r.Context()
	providerName := mux.Vars(r)["provider"]
	client := h.registry.Get(providerName)
	if client == nil {
		h.failAuth(w, r, providerName, ErrUnknownProvider)
		return
	}

	var existingUserID int64
	if associate {
		userID, ok := h.requireUser(w, r)
		if !ok {
			return
		}
		existingUserID = userID
	}

	sessionCookie, err := r.Cookie(h.cfg.SessionCookie)
	if err != nil {
		h.failAuth(w, r, providerName, ErrMissingPendingState)
		return
	}
	sessionID := sessionCookie.Value

	// Peek at the pending state before the client consumes it; the return
	// URL and the begin timestamp are needed after completion.
	var (
		returnTo string
		began    time.Time
	)
	if state, serr := h.loadPending(r, sessionID, providerName); serr == nil && state != nil {
		returnTo = state.ReturnTo
		began = state.CreatedAt
	}

	identity, err := client.CompleteAuth(ctx, sessionID, r)
	if err != nil {
		h.failAuth(w, r, providerName, err)
		return
	}

	profile := client.Profile(identity)
	extra := client.ExtraData(identity)
	if h.engine.cfg.DisableExtraData {
		extra = nil
	}

	user, err := h.engine.Authenticate(ctx, identity, profile, extra, existingUserID)
	if err != nil {
		h.failAuth(w, r, providerName, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordLogin(providerName, "success")
		if !began.IsZero() {
			h.metrics.ObserveRoundTrip(providerName, time.Since(began))
		}
	}
	h.logger.InfoContext(ctx, "authentication completed",
		slog.String("provider", providerName),
		slog.Int64("user_id", user.ID),
	)

	expiresIn := 0
	if v := identity.RawAttributes[attrExpires]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			expiresIn = n
		}
	}
	if h.onLogin != nil {
		h.onLogin(w, r, user, expiresIn)
	}

	http.Redirect(w, r, h.successURL(returnTo), http.StatusFound)
}

// disconnect handles POST /auth/{provider}/disconnect
func (h *Handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	removed, err := h.store.Disconnect(r.Context(), userID, providerName, r.FormValue("external_id"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "disconnecting association",
			slog.String("provider", providerName), slog.Any("error", err))
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	if removed == 0 {
		httputil.WriteNotFoundError(w, "no matching association")
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"removed": removed})
}

// loadPending reads the pending state without consuming it.
func (h *Handlers) loadPending(r *http.Request, sessionID, provider string) (*PendingAuthState, error) {
	return h.registryStates().Load(r.Context(), sessionID, provider)
}

func (h *Handlers) registryStates() StateStore {
	return h.registry.deps.States
}

// ensureSession returns the browser correlation id, minting the cookie on
// first contact.
func (h *Handlers) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(h.cfg.SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	sessionID := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return sessionID
}

func (h *Handlers) requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if h.currentUser == nil {
		httputil.WriteNotImplemented(w, "no user resolver configured")
		return 0, false
	}
	userID, ok := h.currentUser(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, false
	}
	return userID, true
}

// successURL validates the next URL carried through the flow. Only local
// paths are honored, so a provider callback cannot bounce the browser to an
// arbitrary site.
func (h *Handlers) successURL(returnTo string) string {
	if strings.HasPrefix(returnTo, "/") && !strings.HasPrefix(returnTo, "//") {
		return returnTo
	}
	return h.cfg.LoginRedirectURL
}

// failAuth records the failure, stashes a user-facing message in the error
// cookie and redirects to the login error page.
func (h *Handlers) failAuth(w http.ResponseWriter, r *http.Request, provider string, err error) {
	outcome := classifyOutcome(err)
	if h.metrics != nil {
		h.metrics.RecordLogin(provider, outcome)
	}
	h.logger.WarnContext(r.Context(), "authentication failed",
		slog.String("provider", provider),
		slog.String("outcome", outcome),
		slog.Any("error", err),
	)
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.ErrorCookie,
		Value:    errorMessage(err),
		Path:     "/",
		HttpOnly: false,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   60,
	})
	http.Redirect(w, r, h.cfg.LoginErrorURL, http.StatusFound)
}

func classifyOutcome(err error) string {
	var conflict *AccountConflictError
	var discovery *DiscoveryError
	switch {
	case errors.Is(err, ErrUserCancelled):
		return "cancelled"
	case errors.Is(err, ErrMissingPendingState):
		return "expired"
	case errors.Is(err, ErrTokenMismatch):
		return "mismatch"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrAutoCreateDisabled):
		return "creation_disabled"
	case errors.Is(err, ErrUsernameExhausted):
		return "username_exhausted"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &discovery):
		return "discovery_failed"
	default:
		return "error"
	}
}

// errorMessage maps internal failures to messages safe to show the user.
func errorMessage(err error) string {
	var conflict *AccountConflictError
	var discovery *DiscoveryError
	switch {
	case errors.Is(err, ErrUserCancelled):
		return "Authentication was cancelled"
	case errors.Is(err, ErrMissingPendingState):
		return "Your authentication attempt expired, please try again"
	case errors.Is(err, ErrTokenMismatch):
		return "Authentication session mismatch, please try again"
	case errors.Is(err, ErrUnknownProvider):
		return "Unknown authentication provider"
	case errors.Is(err, ErrAutoCreateDisabled):
		return "Sign-up with new accounts is disabled"
	case errors.As(err, &conflict):
		return "This identity is already linked to a different account"
	case errors.As(err, &discovery):
		return "Could not reach the identity provider"
	default:
		return "Authentication failed"
	}
}
