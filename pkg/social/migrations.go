package social

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations for the given driver. The
// postgres and sqlite3 variants differ only in their id column syntax.
func GetMigrations(driver string) []Migration {
	idColumn := "BIGSERIAL PRIMARY KEY"
	refColumn := "BIGINT"
	if driver == "sqlite3" {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
		refColumn = "INTEGER"
	}

	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS users (
					id %s,
					username VARCHAR(150) NOT NULL UNIQUE,
					email VARCHAR(254),
					full_name VARCHAR(255),
					first_name VARCHAR(150),
					last_name VARCHAR(150),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					last_login TIMESTAMP
				)
			`, idColumn),
		},
		{
			Version:     2,
			Description: "Create social_auth_associations table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS social_auth_associations (
					id %s,
					user_id %s NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					provider VARCHAR(32) NOT NULL,
					external_id VARCHAR(255) NOT NULL,
					extra_data TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(provider, external_id)
				)
			`, idColumn, refColumn),
		},
		{
			Version:     3,
			Description: "Index associations by user",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_social_auth_associations_user_id
					ON social_auth_associations(user_id)
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, driver string) error {
	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS socialauth_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	rows, err := db.QueryContext(ctx, "SELECT version FROM socialauth_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	// Run pending migrations
	for _, migration := range GetMigrations(driver) {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO socialauth_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
