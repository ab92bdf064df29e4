package model

import "time"

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Resource interface{}   `json:"resource"`
	Meta     *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta carries the item count of a list response.
type ResponseMeta struct {
	Count int `json:"count"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Kind is the stable machine-readable failure name.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Kind    string                 `json:"kind,omitempty"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// IssuedKeyResponse is returned once, at key creation or rotation. APIKey is
// the only time the key text leaves the server.
type IssuedKeyResponse struct {
	APIKey    string     `json:"api_key"`
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	KeyPrefix string     `json:"key_prefix"`
	Version   int        `json:"version"`
	Scopes    ScopeSet   `json:"scopes"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TokenResponse is returned by key validation.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int64     `json:"expires_in"`
}

// TokenInfo describes a verified access token.
type TokenInfo struct {
	Valid     bool      `json:"valid"`
	UserID    int64     `json:"user_id"`
	APIKeyID  int64     `json:"api_key_id"`
	Scopes    ScopeSet  `json:"scopes"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
