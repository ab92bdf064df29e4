package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/ratelimit"
	"github.com/faucetdb/keysmith/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// TokenValidator is the part of the gateway the bearer middleware needs.
type TokenValidator interface {
	ValidateToken(ctx context.Context, client service.Client, token, category string) (*service.VerifiedToken, ratelimit.Decision, error)
}

// Principal represents the identity bound to a verified access token.
type Principal struct {
	UserID    int64
	APIKeyID  int64
	TokenHash string
	Scopes    model.ScopeSet
}

// Authenticate returns an HTTP middleware that requires an
// "Authorization: Bearer <access token>" header. The request is admitted
// under category first; the token is then verified, including the
// revocation check. Rate limit headers are set whether or not the token is
// accepted. On success a Principal is attached to the request context.
func Authenticate(tokens TokenValidator, category string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, d, err := tokens.ValidateToken(r.Context(), ClientFromRequest(r), BearerToken(r), category)
			SetRateLimitHeaders(w, d)
			if err != nil {
				if autherr.KindOf(err) == autherr.InvalidSignature && BearerToken(r) == "" {
					w.Header().Set("WWW-Authenticate", `Bearer realm="keysmith"`)
					WriteError(w, autherr.New(autherr.InvalidSignature, "bearer token required"))
					return
				}
				WriteError(w, err)
				return
			}

			principal := &Principal{
				UserID:    v.UserID,
				APIKeyID:  v.APIKeyID,
				TokenHash: v.TokenHash,
				Scopes:    v.Scopes.Clone(),
			}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope returns an HTTP middleware that enforces exact membership
// of scope in the principal's scope set. It must be used after
// Authenticate in the middleware chain.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.Scopes.Has(scope) {
				writeForbidden(w, "scope "+scope+" required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// Forbidden has no autherr kind: the credential is valid, it just does not
// reach this resource.
func writeForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(model.ErrorResponse{Error: model.ErrorDetail{
		Code:    http.StatusForbidden,
		Kind:    "Forbidden",
		Message: message,
	}})
}
