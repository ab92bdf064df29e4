package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/model"
)

const (
	DefaultTokenLifetime    = time.Hour
	DefaultMaxTokenLifetime = 24 * time.Hour
	DefaultIssuer           = "keysmith"
)

// TokenConfig configures token signing. Secret is copied at construction.
type TokenConfig struct {
	Secret      []byte
	Lifetime    time.Duration
	MaxLifetime time.Duration
	Issuer      string
}

// MintedToken is a freshly signed access token. Degraded is set when the
// token could not be registered with the store; such a token still verifies
// but cannot be revoked.
type MintedToken struct {
	Token     string
	TokenHash string
	Scopes    model.ScopeSet
	IssuedAt  time.Time
	ExpiresAt time.Time
	Degraded  bool
}

// VerifiedToken is the identity bound into a valid, unrevoked token.
type VerifiedToken struct {
	ID        string
	TokenHash string
	UserID    int64
	APIKeyID  int64
	Scopes    model.ScopeSet
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	APIKeyID int64    `json:"api_key_id"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

// TokenService mints and verifies HS256 access tokens.
type TokenService struct {
	secret      []byte
	lifetime    time.Duration
	maxLifetime time.Duration
	issuer      string

	store  CredentialStore
	calls  *storeCaller
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenService validates cfg and returns a TokenService. The lifetime is
// clamped to MaxLifetime.
func NewTokenService(cfg TokenConfig, store CredentialStore, opts ...Option) (*TokenService, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token signing secret must not be empty")
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultTokenLifetime
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = DefaultMaxTokenLifetime
	}
	if cfg.Lifetime > cfg.MaxLifetime {
		cfg.Lifetime = cfg.MaxLifetime
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}

	o := buildOptions(opts)
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &TokenService{
		secret:      secret,
		lifetime:    cfg.Lifetime,
		maxLifetime: cfg.MaxLifetime,
		issuer:      cfg.Issuer,
		store:       store,
		calls:       o.caller(),
		now:         o.now,
		logger:      o.logger,
	}, nil
}

// Lifetime returns the effective token lifetime.
func (s *TokenService) Lifetime() time.Duration { return s.lifetime }

// Mint signs a token for key, snapshotting its scopes, and registers the
// token hash so it can later be revoked.
func (s *TokenService) Mint(ctx context.Context, key *model.APIKey) (*MintedToken, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, "generate token id", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(s.lifetime)
	scopes := key.Scopes.Clone()

	claims := tokenClaims{
		APIKeyID: key.ID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(key.UserID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti.String(),
		},
	}

	text, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, "sign token", err)
	}

	minted := &MintedToken{
		Token:     text,
		TokenHash: HashToken(text),
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}

	rec := &model.AccessToken{
		APIKeyID:  key.ID,
		TokenHash: minted.TokenHash,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if err := s.calls.write(ctx, "insert token record", func(ctx context.Context) error {
		return s.store.InsertTokenRecord(ctx, rec)
	}); err != nil {
		s.logger.Warn("token record not stored; token cannot be revoked",
			"api_key_id", key.ID, "error", err)
		minted.Degraded = true
	}
	return minted, nil
}

// Verify checks, in order, the signature, the expiry and the revocation
// state of text.
func (s *TokenService) Verify(ctx context.Context, text string) (*VerifiedToken, error) {
	claims := &tokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
	)
	_, err := parser.ParseWithClaims(text, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.Wrap(autherr.TokenExpired, "token expired", err)
		}
		return nil, autherr.Wrap(autherr.InvalidSignature, "invalid token", err)
	}

	if claims.IssuedAt == nil {
		return nil, autherr.New(autherr.InvalidSignature, "invalid token: missing iat")
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) > s.maxLifetime {
		return nil, autherr.New(autherr.InvalidSignature, "invalid token: lifetime exceeds maximum")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, autherr.New(autherr.InvalidSignature, "invalid token: bad subject")
	}

	hash := HashToken(text)
	var rev *model.TokenRevocation
	err = s.calls.read(ctx, "find token revocation", func(ctx context.Context) error {
		var err error
		rev, err = s.store.FindTokenRevocation(ctx, hash)
		return err
	})
	switch {
	case errors.Is(err, config.ErrNotFound):
		// Unregistered tokens (degraded mints) are treated as not revoked.
	case err != nil:
		return nil, err
	case rev.IsRevoked:
		return nil, autherr.New(autherr.TokenRevoked, "token revoked")
	}

	return &VerifiedToken{
		ID:        claims.ID,
		TokenHash: hash,
		UserID:    userID,
		APIKeyID:  claims.APIKeyID,
		Scopes:    model.NewScopeSet(claims.Scopes...),
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke marks the token with the given hash revoked. Revoking an already
// revoked token succeeds; an unknown hash is NotFound.
func (s *TokenService) Revoke(ctx context.Context, tokenHash string) error {
	var found bool
	err := s.calls.write(ctx, "revoke token", func(ctx context.Context) error {
		var err error
		found, err = s.store.RevokeToken(ctx, tokenHash)
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		return autherr.New(autherr.NotFound, "token not found")
	}
	return nil
}

// HashToken returns the hex-encoded SHA-256 of the token text.
func HashToken(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func (v *VerifiedToken) String() string {
	return fmt.Sprintf("token(user=%d key=%d)", v.UserID, v.APIKeyID)
}
