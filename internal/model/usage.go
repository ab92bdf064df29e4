package model

import "time"

// UsageLogEntry is one append-only audit record of an authentication attempt.
type UsageLogEntry struct {
	ID           int64     `json:"id" db:"id"`
	APIKeyID     *int64    `json:"api_key_id,omitempty" db:"api_key_id"`
	TokenHash    *string   `json:"token_hash,omitempty" db:"token_hash"`
	Category     string    `json:"category" db:"category"`
	ClientOrigin string    `json:"client_origin" db:"client_origin"`
	UserAgent    string    `json:"user_agent" db:"user_agent"`
	Success      bool      `json:"success" db:"success"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
