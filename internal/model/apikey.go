package model

import "time"

// APIKey is the persisted record of an issued API key. The key text itself is
// never stored; KeyHash is the SHA-256 of the full text and KeyPrefix is the
// non-secret prefix_environment_vN_timestamp label used for display.
type APIKey struct {
	ID          int64      `json:"id" db:"id"`
	UserID      int64      `json:"user_id" db:"user_id"`
	KeyHash     string     `json:"-" db:"key_hash"` // SHA-256 hash, never expose
	KeyPrefix   string     `json:"key_prefix" db:"key_prefix"`
	Environment string     `json:"environment" db:"environment"`
	Version     int        `json:"version" db:"version"`
	Scopes      ScopeSet   `json:"scopes" db:"scopes"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	IssuedAt    time.Time  `json:"issued_at" db:"issued_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	UsageCount  int64      `json:"usage_count" db:"usage_count"`
}

// Expired reports whether the key has an expiry at or before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}
