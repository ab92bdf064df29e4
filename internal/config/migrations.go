package config

import (
	"fmt"
	"strings"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		key_hash TEXT UNIQUE NOT NULL,
		key_prefix TEXT NOT NULL,
		environment TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		scopes TEXT NOT NULL DEFAULT '[]',
		is_active INTEGER NOT NULL DEFAULT 1,
		issued_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME,
		last_used_at DATETIME,
		usage_count INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS access_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		api_key_id INTEGER NOT NULL REFERENCES api_keys(id),
		token_hash TEXT UNIQUE NOT NULL,
		issued_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		is_revoked INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS usage_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		api_key_id INTEGER REFERENCES api_keys(id),
		token_hash TEXT,
		category TEXT NOT NULL,
		client_origin TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
	`CREATE INDEX IF NOT EXISTS idx_access_tokens_api_key_id ON access_tokens(api_key_id)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_created_at ON usage_logs(created_at)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		key_hash TEXT UNIQUE NOT NULL,
		key_prefix TEXT NOT NULL,
		environment TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		scopes TEXT NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ,
		usage_count BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS access_tokens (
		id BIGSERIAL PRIMARY KEY,
		api_key_id BIGINT NOT NULL REFERENCES api_keys(id),
		token_hash TEXT UNIQUE NOT NULL,
		issued_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		is_revoked BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS usage_logs (
		id BIGSERIAL PRIMARY KEY,
		api_key_id BIGINT REFERENCES api_keys(id),
		token_hash TEXT,
		category TEXT NOT NULL,
		client_origin TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
	`CREATE INDEX IF NOT EXISTS idx_access_tokens_api_key_id ON access_tokens(api_key_id)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_created_at ON usage_logs(created_at)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(255) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL UNIQUE,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		key_hash CHAR(64) NOT NULL UNIQUE,
		key_prefix VARCHAR(255) NOT NULL,
		environment VARCHAR(64) NOT NULL,
		version INT NOT NULL DEFAULT 1,
		scopes TEXT NOT NULL,
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		issued_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		expires_at DATETIME(6) NULL,
		last_used_at DATETIME(6) NULL,
		usage_count BIGINT NOT NULL DEFAULT 0,
		INDEX idx_api_keys_user_id (user_id),
		INDEX idx_api_keys_prefix (key_prefix),
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`,

	`CREATE TABLE IF NOT EXISTS access_tokens (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		api_key_id BIGINT NOT NULL,
		token_hash CHAR(64) NOT NULL UNIQUE,
		issued_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		is_revoked TINYINT(1) NOT NULL DEFAULT 0,
		INDEX idx_access_tokens_api_key_id (api_key_id),
		FOREIGN KEY (api_key_id) REFERENCES api_keys(id)
	)`,

	`CREATE TABLE IF NOT EXISTS usage_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		api_key_id BIGINT NULL,
		token_hash CHAR(64) NULL,
		category VARCHAR(64) NOT NULL,
		client_origin VARCHAR(255) NOT NULL DEFAULT '',
		user_agent VARCHAR(512) NOT NULL DEFAULT '',
		success TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_usage_logs_created_at (created_at),
		FOREIGN KEY (api_key_id) REFERENCES api_keys(id)
	)`,
}

func migrationsFor(dialect string) []string {
	switch dialect {
	case DialectPostgres:
		return postgresMigrations
	case DialectMySQL:
		return mysqlMigrations
	default:
		return sqliteMigrations
	}
}

func (s *Store) migrate() error {
	for _, m := range migrationsFor(s.dialect) {
		if _, err := s.db.Exec(m); err != nil {
			// ALTER TABLE ADD COLUMN fails if the column already exists;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
