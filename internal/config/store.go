package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/keysmith/internal/model"
)

// Supported store dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Store is the durable credential store. It persists users, API key records,
// access token records and the usage log. SQLite is the default backend;
// PostgreSQL and MySQL are selected with Open.
type Store struct {
	db      *sqlx.DB
	dialect string
}

// NewStore opens the SQLite store in dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "keysmith.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open(DialectSQLite, dsn)
}

// Open connects to the given dialect and runs migrations.
func Open(dialect, dsn string) (*Store, error) {
	var (
		driverName string
		err        error
	)
	switch dialect {
	case DialectSQLite, "":
		dialect, driverName = DialectSQLite, "sqlite"
	case DialectPostgres, "pgx":
		dialect, driverName = DialectPostgres, "pgx"
	case DialectMySQL:
		driverName = "mysql"
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", dialect)
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

		// Enable foreign keys (off by default in SQLite).
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := newStoreFromDB(db, dialect)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate credential database: %w", err)
	}
	return s, nil
}

func newStoreFromDB(db *sqlx.DB, dialect string) *Store {
	return &Store{db: db, dialect: dialect}
}

// mysqlDSN forces parseTime so DATETIME columns scan into time.Time.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the backend in use.
func (s *Store) Dialect() string {
	return s.dialect
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// insert runs a named INSERT on e (the database or an open transaction) and
// returns the generated id.
func (s *Store) insert(ctx context.Context, e sqlx.ExtContext, q string, arg interface{}) (int64, error) {
	if s.dialect == DialectPostgres {
		rows, err := sqlx.NamedQueryContext(ctx, e, q+" RETURNING id", arg)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		var id int64
		if rows.Next() {
			if err := rows.Scan(&id); err != nil {
				return 0, err
			}
		}
		return id, rows.Err()
	}

	result, err := sqlx.NamedExecContext(ctx, e, q, arg)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) exec(ctx context.Context, q string, args ...interface{}) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. ID, CreatedAt and UpdatedAt are populated.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	const q = `INSERT INTO users (username, email, created_at, updated_at)
		VALUES (:username, :email, :created_at, :updated_at)`

	id, err := s.insert(ctx, s.db, q, u)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, s.db.Rebind("SELECT * FROM users WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, s.db.Rebind("SELECT * FROM users WHERE username = ?"), username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &u, nil
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

const insertAPIKeyQuery = `INSERT INTO api_keys
	(user_id, key_hash, key_prefix, environment, version, scopes, is_active, issued_at, expires_at, usage_count)
	VALUES
	(:user_id, :key_hash, :key_prefix, :environment, :version, :scopes, :is_active, :issued_at, :expires_at, :usage_count)`

func prepareAPIKey(key *model.APIKey) {
	if key.IssuedAt.IsZero() {
		key.IssuedAt = time.Now().UTC()
	}
	if key.Scopes == nil {
		key.Scopes = model.ScopeSet{}
	}
}

// CreateAPIKey inserts a new API key record. KeyHash must already be set.
// The ID is populated after insert; IssuedAt defaults to now.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	prepareAPIKey(key)

	id, err := s.insert(ctx, s.db, insertAPIKeyQuery, key)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	key.ID = id
	return nil
}

// RotateAPIKey deactivates the active key oldID and inserts next within one
// transaction. ErrNotFound means oldID is missing or already inactive, and
// nothing is written.
func (s *Store) RotateAPIKey(ctx context.Context, oldID int64, next *model.APIKey) error {
	prepareAPIKey(next)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx,
		tx.Rebind("UPDATE api_keys SET is_active = ? WHERE id = ? AND is_active = ?"), false, oldID, true)
	if err != nil {
		return fmt.Errorf("deactivate rotated api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate rotated api key: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	id, err := s.insert(ctx, tx, insertAPIKeyQuery, next)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert replacement api key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit key rotation: %w", err)
	}
	next.ID = id
	return nil
}

// FindKeyByHash looks up an API key by the SHA-256 hash of its text.
func (s *Store) FindKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, s.db.Rebind("SELECT * FROM api_keys WHERE key_hash = ?"), hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// GetAPIKey looks up an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, s.db.Rebind("SELECT * FROM api_keys WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns API keys, newest first. A userID of zero lists all.
func (s *Store) ListAPIKeys(ctx context.Context, userID int64) ([]model.APIKey, error) {
	var (
		keys []model.APIKey
		err  error
	)
	if userID == 0 {
		err = s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY id DESC")
	} else {
		err = s.db.SelectContext(ctx, &keys,
			s.db.Rebind("SELECT * FROM api_keys WHERE user_id = ? ORDER BY id DESC"), userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// DeactivateAPIKey marks an API key as inactive by ID.
func (s *Store) DeactivateAPIKey(ctx context.Context, id int64) error {
	n, err := s.exec(ctx, "UPDATE api_keys SET is_active = ? WHERE id = ?", false, id)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateAPIKeyByPrefix marks the active key with the given display
// prefix as inactive.
func (s *Store) DeactivateAPIKeyByPrefix(ctx context.Context, prefix string) error {
	n, err := s.exec(ctx,
		"UPDATE api_keys SET is_active = ? WHERE key_prefix = ? AND is_active = ?", false, prefix, true)
	if err != nil {
		return fmt.Errorf("deactivate api key by prefix: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUsage bumps usage_count and records the last use time.
func (s *Store) IncrementUsage(ctx context.Context, id int64, at time.Time) error {
	n, err := s.exec(ctx,
		"UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("increment api key usage: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Access tokens
// ---------------------------------------------------------------------------

// InsertTokenRecord registers a minted token by hash.
func (s *Store) InsertTokenRecord(ctx context.Context, tok *model.AccessToken) error {
	const q = `INSERT INTO access_tokens
		(api_key_id, token_hash, issued_at, expires_at, is_revoked)
		VALUES
		(:api_key_id, :token_hash, :issued_at, :expires_at, :is_revoked)`

	id, err := s.insert(ctx, s.db, q, tok)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert access token: %w", err)
	}
	tok.ID = id
	return nil
}

// FindTokenRevocation returns the revocation state of a token hash, or
// ErrNotFound when no record exists.
func (s *Store) FindTokenRevocation(ctx context.Context, tokenHash string) (*model.TokenRevocation, error) {
	var rev model.TokenRevocation
	err := s.db.GetContext(ctx, &rev,
		s.db.Rebind("SELECT token_hash, is_revoked, expires_at FROM access_tokens WHERE token_hash = ?"), tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token revocation: %w", err)
	}
	return &rev, nil
}

// RevokeToken marks a token revoked. It reports false when no record with
// that hash exists. Revoking twice is not an error.
func (s *Store) RevokeToken(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.exec(ctx, "UPDATE access_tokens SET is_revoked = ? WHERE token_hash = ?", true, tokenHash)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// MySQL reports changed rows, not matched rows.
	var count int
	if err := s.db.GetContext(ctx, &count,
		s.db.Rebind("SELECT COUNT(*) FROM access_tokens WHERE token_hash = ?"), tokenHash); err != nil {
		return false, fmt.Errorf("revoke token lookup: %w", err)
	}
	return count > 0, nil
}

// ---------------------------------------------------------------------------
// Usage log
// ---------------------------------------------------------------------------

// AppendUsageLog appends one audit record.
func (s *Store) AppendUsageLog(ctx context.Context, entry *model.UsageLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO usage_logs
		(api_key_id, token_hash, category, client_origin, user_agent, success, created_at)
		VALUES
		(:api_key_id, :token_hash, :category, :client_origin, :user_agent, :success, :created_at)`

	id, err := s.insert(ctx, s.db, q, entry)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	entry.ID = id
	return nil
}

// ListUsageLog returns the most recent usage entries, newest first.
func (s *Store) ListUsageLog(ctx context.Context, limit int) ([]model.UsageLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []model.UsageLogEntry
	if err := s.db.SelectContext(ctx, &entries,
		s.db.Rebind("SELECT * FROM usage_logs ORDER BY id DESC LIMIT ?"), limit); err != nil {
		return nil, fmt.Errorf("list usage log: %w", err)
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
