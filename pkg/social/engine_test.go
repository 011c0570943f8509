package social

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, RunMigrations(context.Background(), db, "sqlite3"))
	return NewStore(db)
}

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *Store) {
	t.Helper()
	store := newTestStore(t)
	return NewEngine(store, cfg), store
}

func githubIdentity(externalID string) *ProviderIdentity {
	return &ProviderIdentity{
		Provider:   "github",
		ExternalID: externalID,
		RawAttributes: map[string]string{
			"id":    externalID,
			"login": "ada",
		},
	}
}

func TestEngine_CreatesUserOnFirstLogin(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true})

	profile := CanonicalProfile{Username: "ada", Email: "ada@example.com", FullName: "Ada Lovelace"}
	user, err := engine.Authenticate(ctx, githubIdentity("42"), profile, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "Lovelace", user.LastName)
	assert.NotNil(t, user.LastLogin)

	assoc, err := store.GetAssociation(ctx, "github", "42")
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, user.ID, assoc.UserID)
}

func TestEngine_RepeatLoginIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true})

	profile := CanonicalProfile{Username: "ada", Email: "ada@example.com"}
	first, err := engine.Authenticate(ctx, githubIdentity("42"), profile, nil, 0)
	require.NoError(t, err)

	second, err := engine.Authenticate(ctx, githubIdentity("42"), profile, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	assocs, err := store.ListAssociations(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, assocs, 1)
}

func TestEngine_UsernameCollisionSuffix(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true})

	_, err := store.createUser(ctx, store.db, "alice", CanonicalProfile{})
	require.NoError(t, err)
	_, err = store.createUser(ctx, store.db, "alice2", CanonicalProfile{})
	require.NoError(t, err)

	user, err := engine.Authenticate(ctx, githubIdentity("99"), CanonicalProfile{Username: "alice"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "alice3", user.Username)
}

func TestEngine_UsernameExhausted(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true, MaxUsernameAttempts: 2})

	_, err := store.createUser(ctx, store.db, "bob", CanonicalProfile{})
	require.NoError(t, err)
	_, err = store.createUser(ctx, store.db, "bob2", CanonicalProfile{})
	require.NoError(t, err)

	_, err = engine.Authenticate(ctx, githubIdentity("7"), CanonicalProfile{Username: "bob"}, nil, 0)
	assert.ErrorIs(t, err, ErrUsernameExhausted)
}

func TestEngine_ForceRandomUsername(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, EngineConfig{CreateUsers: true, ForceRandomUsername: true})

	user, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, nil, 0)
	require.NoError(t, err)
	assert.NotEqual(t, "ada", user.Username)
	assert.Regexp(t, regexp.MustCompile("^[0-9a-f]{30}$"), user.Username)
}

func TestEngine_UsernameFixer(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, EngineConfig{
		CreateUsers:   true,
		UsernameFixer: func(s string) string { return "u_" + s },
	})

	user, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "u_ada", user.Username)
}

func TestEngine_AutoCreateDisabled(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, EngineConfig{CreateUsers: false})

	_, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, nil, 0)
	assert.ErrorIs(t, err, ErrAutoCreateDisabled)
}

func TestEngine_AssociateExistingUser(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: false})

	userID, err := store.createUser(ctx, store.db, "ada", CanonicalProfile{})
	require.NoError(t, err)

	user, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{}, nil, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)

	assoc, err := store.GetAssociation(ctx, "github", "42")
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, userID, assoc.UserID)
}

func TestEngine_AccountConflict(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true})

	bound, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, nil, 0)
	require.NoError(t, err)

	otherID, err := store.createUser(ctx, store.db, "bob", CanonicalProfile{})
	require.NoError(t, err)

	_, err = engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{}, nil, otherID)
	var conflict *AccountConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, bound.ID, conflict.BoundUserID)
	assert.Equal(t, otherID, conflict.GivenUserID)
}

func TestEngine_DisconnectThenReassociate(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true})

	user, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, nil, 0)
	require.NoError(t, err)

	removed, err := store.Disconnect(ctx, user.ID, "github", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// Logging in again with the same identity while logged in binds a
	// fresh association to the same account.
	again, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{}, nil, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	assoc, err := store.GetAssociation(ctx, "github", "42")
	require.NoError(t, err)
	require.NotNil(t, assoc)
}

func TestEngine_DisconnectThenFreshLogin(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true})

	user, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, nil, 0)
	require.NoError(t, err)

	removed, err := store.Disconnect(ctx, user.ID, "github", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// Without a logged-in user the severed identity is a stranger again:
	// it gets a brand-new account, not the old one back.
	fresh, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, nil, 0)
	require.NoError(t, err)
	assert.NotEqual(t, user.ID, fresh.ID)
	assert.Equal(t, "ada2", fresh.Username)

	assoc, err := store.GetAssociation(ctx, "github", "42")
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, fresh.ID, assoc.UserID)
}

func TestEngine_SyncsProfileOnRepeatLogin(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true})

	_, err := engine.Authenticate(ctx, githubIdentity("42"),
		CanonicalProfile{Username: "ada", Email: "old@example.com"}, nil, 0)
	require.NoError(t, err)

	user, err := engine.Authenticate(ctx, githubIdentity("42"),
		CanonicalProfile{Username: "renamed", Email: "new@example.com", FullName: "Ada Lovelace"}, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "Ada Lovelace", user.FullName)
	// Usernames are never synced after creation
	assert.Equal(t, "ada", user.Username)

	stored, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", stored.Email)
}

func TestEngine_ChangeSignalOnly(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true, ChangeSignalOnly: true})

	_, err := engine.Authenticate(ctx, githubIdentity("42"),
		CanonicalProfile{Username: "ada", Email: "old@example.com"}, nil, 0)
	require.NoError(t, err)

	user, err := engine.Authenticate(ctx, githubIdentity("42"),
		CanonicalProfile{Email: "new@example.com"}, nil, 0)
	require.NoError(t, err)

	stored, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "old@example.com", stored.Email)
}

func TestEngine_PreUpdateHookPersistsChanges(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true, ChangeSignalOnly: true})

	engine.OnPreUpdate(func(_ context.Context, hc *HookContext) bool {
		if hc.NewUser {
			return false
		}
		hc.User.FullName = "Set By Hook"
		return true
	})

	first, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, nil, 0)
	require.NoError(t, err)

	_, err = engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{}, nil, 0)
	require.NoError(t, err)

	stored, err := store.GetUser(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Set By Hook", stored.FullName)
}

func TestEngine_PostRegisterHookFiresOnce(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, EngineConfig{CreateUsers: true})

	registered := 0
	engine.OnPostRegister(func(_ context.Context, hc *HookContext) bool {
		registered++
		assert.True(t, hc.NewUser)
		return false
	})

	_, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, nil, 0)
	require.NoError(t, err)
	_, err = engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{}, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, registered)
}

func TestEngine_PostRegisterHookPersistsChanges(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true})

	engine.OnPostRegister(func(_ context.Context, hc *HookContext) bool {
		hc.User.FullName = "Provisioned Account"
		return true
	})

	user, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "Provisioned Account", user.FullName)

	stored, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Provisioned Account", stored.FullName)
}

func TestEngine_ExtraDataPersistedAndUpdated(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true})

	extra := map[string]string{"access_token": "tok1"}
	_, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"}, extra, 0)
	require.NoError(t, err)

	assoc, err := store.GetAssociation(ctx, "github", "42")
	require.NoError(t, err)
	assert.Equal(t, "tok1", assoc.ExtraData["access_token"])

	// Rotated token replaces the stored one
	_, err = engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{},
		map[string]string{"access_token": "tok2"}, 0)
	require.NoError(t, err)

	assoc, err = store.GetAssociation(ctx, "github", "42")
	require.NoError(t, err)
	assert.Equal(t, "tok2", assoc.ExtraData["access_token"])
}

func TestEngine_DisableExtraData(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, EngineConfig{CreateUsers: true, DisableExtraData: true})

	_, err := engine.Authenticate(ctx, githubIdentity("42"), CanonicalProfile{Username: "ada"},
		map[string]string{"access_token": "tok1"}, 0)
	require.NoError(t, err)

	assoc, err := store.GetAssociation(ctx, "github", "42")
	require.NoError(t, err)
	assert.Empty(t, assoc.ExtraData)
}

func TestEngine_DefaultUsernameFallback(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, EngineConfig{CreateUsers: true, DefaultUsername: "newuser"})

	user, err := engine.Authenticate(ctx, githubIdentity("1"), CanonicalProfile{}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "newuser", user.Username)

	// A second provider identity with no username gets the suffixed default
	user2, err := engine.Authenticate(ctx, githubIdentity("2"), CanonicalProfile{}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "newuser2", user2.Username)
}
