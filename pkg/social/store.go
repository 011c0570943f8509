package social

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// querier is the query surface shared by *sql.DB and *sql.Tx so the same
// statement helpers serve both transactional and standalone reads.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store persists users and their external identity associations.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transaction management.
func (s *Store) DB() *sql.DB { return s.db }

// GetAssociation returns the association binding (provider, externalID) to a
// local user, or nil when no such binding exists.
func (s *Store) GetAssociation(ctx context.Context, provider, externalID string) (*Association, error) {
	return s.getAssociation(ctx, s.db, provider, externalID)
}

func (s *Store) getAssociation(ctx context.Context, q querier, provider, externalID string) (*Association, error) {
	var (
		assoc Association
		extra sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, provider, external_id, extra_data, created_at, updated_at
		FROM social_auth_associations
		WHERE provider = $1 AND external_id = $2
	`, provider, externalID).Scan(&assoc.ID, &assoc.UserID, &assoc.Provider,
		&assoc.ExternalID, &extra, &assoc.CreatedAt, &assoc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query association: %w", err)
	}
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &assoc.ExtraData); err != nil {
			return nil, fmt.Errorf("failed to decode association extra data: %w", err)
		}
	}
	return &assoc, nil
}

// ListAssociations returns all external identities bound to a user, ordered
// by creation time.
func (s *Store) ListAssociations(ctx context.Context, userID int64) ([]Association, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, provider, external_id, extra_data, created_at, updated_at
		FROM social_auth_associations
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list associations: %w", err)
	}
	defer rows.Close()

	var out []Association
	for rows.Next() {
		var (
			assoc Association
			extra sql.NullString
		)
		if err := rows.Scan(&assoc.ID, &assoc.UserID, &assoc.Provider,
			&assoc.ExternalID, &extra, &assoc.CreatedAt, &assoc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan association: %w", err)
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &assoc.ExtraData); err != nil {
				return nil, fmt.Errorf("failed to decode association extra data: %w", err)
			}
		}
		out = append(out, assoc)
	}
	return out, rows.Err()
}

// Disconnect removes a user's association(s) for a provider. An empty
// externalID removes every association the user has with that provider.
// Returns how many associations were removed.
func (s *Store) Disconnect(ctx context.Context, userID int64, provider, externalID string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if externalID == "" {
		res, err = s.db.ExecContext(ctx, `
			DELETE FROM social_auth_associations
			WHERE user_id = $1 AND provider = $2
		`, userID, provider)
	} else {
		res, err = s.db.ExecContext(ctx, `
			DELETE FROM social_auth_associations
			WHERE user_id = $1 AND provider = $2 AND external_id = $3
		`, userID, provider, externalID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete association: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) createAssociation(ctx context.Context, q querier, userID int64, provider, externalID string, extra map[string]string) (int64, error) {
	encoded, err := encodeExtraData(extra)
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.QueryRowContext(ctx, `
		INSERT INTO social_auth_associations (user_id, provider, external_id, extra_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id
	`, userID, provider, externalID, encoded).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) updateAssociationExtra(ctx context.Context, q querier, id int64, extra map[string]string) error {
	encoded, err := encodeExtraData(extra)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE social_auth_associations
		SET extra_data = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`, encoded, id)
	if err != nil {
		return fmt.Errorf("failed to update association extra data: %w", err)
	}
	return nil
}

func encodeExtraData(extra map[string]string) (sql.NullString, error) {
	if len(extra) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode association extra data: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// GetUser fetches a user by id, or nil when no such user exists.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, s.db, id)
}

func (s *Store) getUser(ctx context.Context, q querier, id int64) (*User, error) {
	var (
		user      User
		email     sql.NullString
		fullName  sql.NullString
		firstName sql.NullString
		lastName  sql.NullString
		lastLogin sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, first_name, last_name, is_active, created_at, updated_at, last_login
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &email, &fullName, &firstName,
		&lastName, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.Email = email.String
	user.FullName = fullName.String
	user.FirstName = firstName.String
	user.LastName = lastName.String
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}
	return &user, nil
}

// GetUserByUsername fetches a user by username, or nil when absent.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE username = $1`, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user by username: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) usernameExists(ctx context.Context, q querier, username string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE username = $1`, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return true, nil
}

func (s *Store) createUser(ctx context.Context, q querier, username string, p CanonicalProfile) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO users (username, email, full_name, first_name, last_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id
	`, username, p.Email, p.FullName, p.FirstName, p.LastName).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) updateUserProfile(ctx context.Context, q querier, user *User) error {
	_, err := q.ExecContext(ctx, `
		UPDATE users
		SET email = $1, full_name = $2, first_name = $3, last_name = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $5
	`, user.Email, user.FullName, user.FirstName, user.LastName, user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (s *Store) touchLastLogin(ctx context.Context, q querier, userID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint failure from
// either supported driver. The engine treats these as lost races, not
// failures.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
