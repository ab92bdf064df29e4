package handler

import (
	"net/http"
	"time"

	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/ratelimit"
	"github.com/faucetdb/keysmith/internal/server/middleware"
	"github.com/faucetdb/keysmith/internal/service"
)

// AuthHandler serves key issuance, key validation and access token
// endpoints. Every endpoint goes through the gateway, which applies the
// category rate limit before looking at the credential.
type AuthHandler struct {
	gw *service.Gateway
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(gw *service.Gateway) *AuthHandler {
	return &AuthHandler{gw: gw}
}

type issueKeyRequest struct {
	UserID    int64      `json:"user_id"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type apiKeyRequest struct {
	APIKey string `json:"api_key"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type revokeRequest struct {
	Token     string `json:"token,omitempty"`
	TokenHash string `json:"token_hash,omitempty"`
}

// IssueKey handles POST /api-keys.
func (h *AuthHandler) IssueKey(w http.ResponseWriter, r *http.Request) {
	client := middleware.ClientFromRequest(r)

	var req issueKeyRequest
	if err := readJSON(w, r, &req); err != nil {
		rejectBody(w, h.admit(client, ratelimit.CategoryKeyGeneration), err)
		return
	}

	issued, d, err := h.gw.IssueKey(r.Context(), client, service.IssueKeyRequest{
		UserID:    req.UserID,
		Scopes:    req.Scopes,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		writeAuthError(w, d, err)
		return
	}

	middleware.SetRateLimitHeaders(w, d)
	writeJSON(w, http.StatusCreated, issuedKeyResponse(issued))
}

// RotateKey handles POST /api-keys/rotate.
func (h *AuthHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	client := middleware.ClientFromRequest(r)

	var req apiKeyRequest
	if err := readJSON(w, r, &req); err != nil {
		rejectBody(w, h.admit(client, ratelimit.CategoryKeyGeneration), err)
		return
	}

	issued, d, err := h.gw.RotateKey(r.Context(), client, req.APIKey)
	if err != nil {
		writeAuthError(w, d, err)
		return
	}

	middleware.SetRateLimitHeaders(w, d)
	writeJSON(w, http.StatusCreated, issuedKeyResponse(issued))
}

// ValidateKey handles POST /validate, exchanging an API key for an access
// token.
func (h *AuthHandler) ValidateKey(w http.ResponseWriter, r *http.Request) {
	client := middleware.ClientFromRequest(r)

	var req apiKeyRequest
	if err := readJSON(w, r, &req); err != nil {
		rejectBody(w, h.admit(client, ratelimit.CategoryAuthentication), err)
		return
	}

	res, d, err := h.gw.ValidateKey(r.Context(), client, req.APIKey)
	if err != nil {
		writeAuthError(w, d, err)
		return
	}

	tok := res.Token
	middleware.SetRateLimitHeaders(w, d)
	writeJSON(w, http.StatusOK, model.TokenResponse{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresAt:   tok.ExpiresAt,
		ExpiresIn:   int64(tok.ExpiresAt.Sub(tok.IssuedAt).Seconds()),
	})
}

// ValidateToken handles POST /tokens/validate.
func (h *AuthHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	client := middleware.ClientFromRequest(r)

	var req tokenRequest
	if err := readJSON(w, r, &req); err != nil {
		rejectBody(w, h.admit(client, ratelimit.CategoryAuthentication), err)
		return
	}

	v, d, err := h.gw.ValidateToken(r.Context(), client, req.Token, ratelimit.CategoryAuthentication)
	if err != nil {
		writeAuthError(w, d, err)
		return
	}

	middleware.SetRateLimitHeaders(w, d)
	writeJSON(w, http.StatusOK, model.TokenInfo{
		Valid:     true,
		UserID:    v.UserID,
		APIKeyID:  v.APIKeyID,
		Scopes:    v.Scopes,
		IssuedAt:  v.IssuedAt,
		ExpiresAt: v.ExpiresAt,
	})
}

// RevokeToken handles POST /tokens/revoke. The token may be given as text
// or by its SHA-256 hex digest.
func (h *AuthHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	client := middleware.ClientFromRequest(r)

	var req revokeRequest
	if err := readJSON(w, r, &req); err != nil {
		rejectBody(w, h.admit(client, ratelimit.CategoryDataWrite), err)
		return
	}

	d, err := h.gw.RevokeToken(r.Context(), client, req.Token, req.TokenHash)
	if err != nil {
		writeAuthError(w, d, err)
		return
	}

	middleware.SetRateLimitHeaders(w, d)
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// Protected handles POST /protected. It sits behind middleware.Authenticate
// and echoes the identity bound to the presented access token.
func (h *AuthHandler) Protected(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "access granted",
		"user_id":    p.UserID,
		"api_key_id": p.APIKeyID,
		"scopes":     p.Scopes,
	})
}

func (h *AuthHandler) admit(client service.Client, category string) func() (ratelimit.Decision, error) {
	return func() (ratelimit.Decision, error) {
		return h.gw.Admit(client, category)
	}
}

func issuedKeyResponse(issued *service.IssuedKey) model.IssuedKeyResponse {
	k := issued.Key
	return model.IssuedKeyResponse{
		APIKey:    issued.Text,
		ID:        k.ID,
		UserID:    k.UserID,
		KeyPrefix: k.KeyPrefix,
		Version:   k.Version,
		Scopes:    k.Scopes,
		IssuedAt:  k.IssuedAt,
		ExpiresAt: k.ExpiresAt,
	}
}
