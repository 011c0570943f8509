package social

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"
)

// EngineConfig holds the reconciliation policy switches.
type EngineConfig struct {
	// CreateUsers allows auto-creation of local accounts for identities
	// with no existing association. When false, unmatched identities fail
	// with ErrAutoCreateDisabled unless the request carries a logged-in
	// user to associate with.
	CreateUsers bool

	// ForceRandomUsername ignores provider usernames and always generates
	// a random one for new accounts.
	ForceRandomUsername bool

	// DisableExtraData skips persisting tokens and extra provider fields
	// onto associations.
	DisableExtraData bool

	// ChangeSignalOnly hands profile changes to pre-update hooks without
	// applying the built-in field sync first.
	ChangeSignalOnly bool

	// DefaultUsername is the base username for new accounts when the
	// provider supplies none. DefaultUsernameFunc wins over the static
	// value when both are set.
	DefaultUsername     string
	DefaultUsernameFunc func() string

	// UsernameFixer post-processes every username candidate, collision
	// suffix included.
	UsernameFixer func(string) string

	// MaxUsernameAttempts bounds the collision-suffix loop. Zero means the
	// default of one thousand.
	MaxUsernameAttempts int
}

// Engine reconciles verified external identities against local accounts:
// look up the association, fall back to the logged-in user or auto-creation,
// then sync profile fields and extra data.
type Engine struct {
	store        *Store
	cfg          EngineConfig
	preUpdate    []Hook
	postRegister []Hook
	logger       *slog.Logger
	metrics      *Metrics
}

// NewEngine creates a reconciliation engine over the given store.
func NewEngine(store *Store, cfg EngineConfig) *Engine {
	return &Engine{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// SetLogger replaces the engine's logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetMetrics attaches engine metrics. Nil disables recording.
func (e *Engine) SetMetrics(m *Metrics) { e.metrics = m }

// OnPreUpdate registers a hook that runs inside the transaction before the
// user row is saved. Hooks run in registration order.
func (e *Engine) OnPreUpdate(h Hook) { e.preUpdate = append(e.preUpdate, h) }

// OnPostRegister registers a hook that runs inside the reconciliation
// transaction when the authentication created a new account. A truthy
// result forces the freshly created user row to be saved again, so
// field mutations made by the hook persist.
func (e *Engine) OnPostRegister(h Hook) { e.postRegister = append(e.postRegister, h) }

// Authenticate reconciles a verified identity with the local account
// database and returns the resulting user. existingUserID carries the
// already-logged-in user for the associate flow; zero means none.
//
// The association lookup, account creation and field sync run in one
// transaction. The unique index on (provider, external_id) is the
// authoritative guard against concurrent first logins: losing that race
// surfaces as a unique violation, which triggers one retry that finds the
// winner's association.
func (e *Engine) Authenticate(ctx context.Context, identity *ProviderIdentity, profile CanonicalProfile, extra map[string]string, existingUserID int64) (*User, error) {
	user, newUser, err := e.authenticateTx(ctx, identity, profile, extra, existingUserID)
	if err != nil && isUniqueViolation(err) {
		e.logger.InfoContext(ctx, "lost association creation race, retrying lookup",
			slog.String("provider", identity.Provider))
		user, newUser, err = e.authenticateTx(ctx, identity, profile, extra, existingUserID)
	}
	if err != nil {
		return nil, err
	}

	if newUser && e.metrics != nil {
		e.metrics.RecordProvisionedUser(identity.Provider)
	}
	return user, nil
}

func (e *Engine) authenticateTx(ctx context.Context, identity *ProviderIdentity, profile CanonicalProfile, extra map[string]string, existingUserID int64) (*User, bool, error) {
	NormalizeNames(&profile)

	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	assoc, err := e.store.getAssociation(ctx, tx, identity.Provider, identity.ExternalID)
	if err != nil {
		return nil, false, err
	}

	var (
		user    *User
		newUser bool
	)
	switch {
	case assoc != nil:
		if existingUserID != 0 && existingUserID != assoc.UserID {
			return nil, false, &AccountConflictError{
				Provider:    identity.Provider,
				ExternalID:  identity.ExternalID,
				BoundUserID: assoc.UserID,
				GivenUserID: existingUserID,
			}
		}
		user, err = e.store.getUser(ctx, tx, assoc.UserID)
		if err != nil {
			return nil, false, err
		}
		if user == nil {
			return nil, false, fmt.Errorf("association %d references missing user %d", assoc.ID, assoc.UserID)
		}

	case existingUserID != 0:
		user, err = e.store.getUser(ctx, tx, existingUserID)
		if err != nil {
			return nil, false, err
		}
		if user == nil {
			return nil, false, fmt.Errorf("no such user: %d", existingUserID)
		}
		assoc, err = e.bindIdentity(ctx, tx, user.ID, identity, extra)
		if err != nil {
			return nil, false, err
		}

	default:
		if !e.cfg.CreateUsers {
			return nil, false, ErrAutoCreateDisabled
		}
		username, err := e.uniqueUsername(ctx, tx, profile)
		if err != nil {
			return nil, false, err
		}
		userID, err := e.store.createUser(ctx, tx, username, profile)
		if err != nil {
			return nil, false, err
		}
		user, err = e.store.getUser(ctx, tx, userID)
		if err != nil {
			return nil, false, err
		}
		assoc, err = e.bindIdentity(ctx, tx, userID, identity, extra)
		if err != nil {
			return nil, false, err
		}
		newUser = true
	}

	changed := false
	if !e.cfg.ChangeSignalOnly && !newUser {
		changed = syncProfile(user, profile)
	}
	hc := &HookContext{
		Provider: identity.Provider,
		User:     user,
		Identity: identity,
		Profile:  profile,
		NewUser:  newUser,
	}
	for _, h := range e.preUpdate {
		if h(ctx, hc) {
			changed = true
		}
	}
	if newUser {
		for _, h := range e.postRegister {
			if h(ctx, hc) {
				changed = true
			}
		}
	}
	if changed {
		if err := e.store.updateUserProfile(ctx, tx, user); err != nil {
			return nil, false, err
		}
	}

	if !e.cfg.DisableExtraData && !newUser && !maps.Equal(assoc.ExtraData, extra) && len(extra) > 0 {
		if err := e.store.updateAssociationExtra(ctx, tx, assoc.ID, extra); err != nil {
			return nil, false, err
		}
	}

	if err := e.store.touchLastLogin(ctx, tx, user.ID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	now := time.Now().UTC()
	user.LastLogin = &now
	return user, newUser, nil
}

// bindIdentity creates the association row, honoring the extra-data switch.
func (e *Engine) bindIdentity(ctx context.Context, q querier, userID int64, identity *ProviderIdentity, extra map[string]string) (*Association, error) {
	if e.cfg.DisableExtraData {
		extra = nil
	}
	id, err := e.store.createAssociation(ctx, q, userID, identity.Provider, identity.ExternalID, extra)
	if err != nil {
		return nil, err
	}
	return &Association{
		ID:         id,
		UserID:     userID,
		Provider:   identity.Provider,
		ExternalID: identity.ExternalID,
		ExtraData:  extra,
	}, nil
}

// syncProfile copies non-empty profile fields onto the user, never touching
// the username, and reports whether anything changed.
func syncProfile(user *User, p CanonicalProfile) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&user.Email, p.Email)
	set(&user.FullName, p.FullName)
	set(&user.FirstName, p.FirstName)
	set(&user.LastName, p.LastName)
	return changed
}
