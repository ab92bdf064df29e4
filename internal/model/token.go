package model

import "time"

// AccessToken is the store's record of a minted token. Only the hash of the
// token text is kept. Tokens are never updated except to revoke them.
type AccessToken struct {
	ID        int64     `json:"id" db:"id"`
	APIKeyID  int64     `json:"api_key_id" db:"api_key_id"`
	TokenHash string    `json:"token_hash" db:"token_hash"`
	IssuedAt  time.Time `json:"issued_at" db:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	IsRevoked bool      `json:"is_revoked" db:"is_revoked"`
}

// TokenRevocation is the projection consulted on every token verification.
type TokenRevocation struct {
	TokenHash string    `db:"token_hash"`
	IsRevoked bool      `db:"is_revoked"`
	ExpiresAt time.Time `db:"expires_at"`
}
