package social

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewStore(db), mock
}

func assocColumns() []string {
	return []string{"id", "user_id", "provider", "external_id", "extra_data", "created_at", "updated_at"}
}

func TestStore_GetAssociationAbsent(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, user_id, provider").
		WithArgs("github", "42").
		WillReturnRows(sqlmock.NewRows(assocColumns()))

	assoc, err := store.GetAssociation(context.Background(), "github", "42")
	require.NoError(t, err)
	assert.Nil(t, assoc)
}

func TestStore_GetAssociationDecodesExtraData(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery("SELECT id, user_id, provider").
		WithArgs("github", "42").
		WillReturnRows(sqlmock.NewRows(assocColumns()).
			AddRow(7, 3, "github", "42", `{"access_token":"tok-123"}`, now, now))

	assoc, err := store.GetAssociation(context.Background(), "github", "42")
	require.NoError(t, err)
	require.NotNil(t, assoc)
	assert.Equal(t, int64(7), assoc.ID)
	assert.Equal(t, int64(3), assoc.UserID)
	assert.Equal(t, "tok-123", assoc.ExtraData["access_token"])
}

func TestStore_GetAssociationCorruptExtraData(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery("SELECT id, user_id, provider").
		WithArgs("github", "42").
		WillReturnRows(sqlmock.NewRows(assocColumns()).
			AddRow(7, 3, "github", "42", "{corrupt", now, now))

	_, err := store.GetAssociation(context.Background(), "github", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extra data")
}

func TestStore_GetAssociationQueryError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, user_id, provider").
		WithArgs("github", "42").
		WillReturnError(errors.New("connection reset"))

	_, err := store.GetAssociation(context.Background(), "github", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestStore_DisconnectAllForProvider(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM social_auth_associations")).
		WithArgs(int64(3), "github").
		WillReturnResult(sqlmock.NewResult(0, 2))

	removed, err := store.Disconnect(context.Background(), 3, "github", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestStore_DisconnectSingleIdentity(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM social_auth_associations")).
		WithArgs(int64(3), "github", "42").
		WillReturnResult(sqlmock.NewResult(0, 1))

	removed, err := store.Disconnect(context.Background(), 3, "github", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestStore_GetUserAbsent(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, username").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	user, err := store.GetUser(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestStore_GetUserNullableFields(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	cols := []string{"id", "username", "email", "full_name", "first_name", "last_name", "is_active", "created_at", "updated_at", "last_login"}
	mock.ExpectQuery("SELECT id, username").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(3, "ada", nil, nil, nil, nil, true, now, now, nil))

	user, err := store.GetUser(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "ada", user.Username)
	assert.Empty(t, user.Email)
	assert.Nil(t, user.LastLogin)
}

func TestEncodeExtraData(t *testing.T) {
	empty, err := encodeExtraData(nil)
	require.NoError(t, err)
	assert.False(t, empty.Valid)

	encoded, err := encodeExtraData(map[string]string{"access_token": "tok-123"})
	require.NoError(t, err)
	assert.True(t, encoded.Valid)
	assert.JSONEq(t, `{"access_token":"tok-123"}`, encoded.String)
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"postgres unique violation", &pq.Error{Code: "23505"}, true},
		{"postgres other error", &pq.Error{Code: "42P01"}, false},
		{"sqlite unique constraint", sqlite3.Error{
			Code:         sqlite3.ErrConstraint,
			ExtendedCode: sqlite3.ErrConstraintUnique,
		}, true},
		{"sqlite other constraint", sqlite3.Error{
			Code:         sqlite3.ErrConstraint,
			ExtendedCode: sqlite3.ErrConstraintForeignKey,
		}, false},
		{"unrelated error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}
