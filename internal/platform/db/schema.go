package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// UniqueViolation is the SQLSTATE for unique_violation.
const UniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolation
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      VARCHAR(64)  NOT NULL UNIQUE,
		password_hash VARCHAR(128) NOT NULL,
		is_active     BOOLEAN      NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS menus (
		id         BIGSERIAL PRIMARY KEY,
		name       VARCHAR(64)  NOT NULL,
		route_key  VARCHAR(128) NOT NULL UNIQUE,
		icon       VARCHAR(64),
		parent_id  BIGINT REFERENCES menus(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS models (
		id          BIGSERIAL PRIMARY KEY,
		name        VARCHAR(128) NOT NULL,
		description VARCHAR(512),
		file_path   VARCHAR(256) NOT NULL,
		file_size   BIGINT       NOT NULL DEFAULT 0,
		is_public   BOOLEAN      NOT NULL DEFAULT FALSE,
		owner_id    BIGINT       NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS models_owner_idx ON models (owner_id)`,
	`CREATE TABLE IF NOT EXISTS authz_rules (
		id        BIGSERIAL PRIMARY KEY,
		namespace VARCHAR(64)  NOT NULL DEFAULT 'default',
		ptype     VARCHAR(16)  NOT NULL,
		v0        VARCHAR(255) NOT NULL DEFAULT '',
		v1        VARCHAR(255) NOT NULL DEFAULT '',
		v2        VARCHAR(255) NOT NULL DEFAULT '',
		v3        VARCHAR(255) NOT NULL DEFAULT '',
		v4        VARCHAR(255) NOT NULL DEFAULT '',
		v5        VARCHAR(255) NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS authz_rules_namespace_idx ON authz_rules (namespace, ptype)`,
}

// Migrate creates the tables used by the service when they are missing.
func Migrate(ctx context.Context, starter TxStarter) error {
	return WithTx(ctx, starter, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("platform/db: migrate: %w", err)
			}
		}
		return nil
	})
}
