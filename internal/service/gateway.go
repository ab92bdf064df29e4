package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/keycodec"
	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/ratelimit"
	"github.com/faucetdb/keysmith/internal/telemetry"
)

// Client identifies the caller of a gateway operation. ID is the rate
// limiting identity; Origin and UserAgent go to the usage log.
type Client struct {
	ID        string
	Origin    string
	UserAgent string
}

// IssueKeyRequest describes a key to create.
type IssueKeyRequest struct {
	UserID    int64
	Scopes    []string
	ExpiresAt *time.Time
}

// IssuedKey carries the key text, which is never retrievable again, and the
// stored record.
type IssuedKey struct {
	Text string
	Key  *model.APIKey
}

// KeyValidation is the result of exchanging a key for an access token.
type KeyValidation struct {
	Key   *model.APIKey
	Token *MintedToken
}

// Gateway is the single entry point for credential operations. Every
// operation is first admitted by the rate limiter; a denied request does no
// parsing, hashing, signing or store work.
type Gateway struct {
	codec   *keycodec.Codec
	tokens  *TokenService
	limiter *ratelimit.Limiter
	store   CredentialStore
	usage   *UsageRecorder
	calls   *storeCaller
	now     func() time.Time
	logger  *slog.Logger
}

// NewGateway wires the gateway. usage may be nil to disable the usage log.
func NewGateway(codec *keycodec.Codec, tokens *TokenService, limiter *ratelimit.Limiter, store CredentialStore, usage *UsageRecorder, opts ...Option) *Gateway {
	o := buildOptions(opts)
	return &Gateway{
		codec:   codec,
		tokens:  tokens,
		limiter: limiter,
		store:   store,
		usage:   usage,
		calls:   o.caller(),
		now:     o.now,
		logger:  o.logger,
	}
}

// Admit gates a request that has no credential semantics of its own.
func (g *Gateway) Admit(client Client, category string) (ratelimit.Decision, error) {
	return g.gate(client, category)
}

// IssueKey creates a new version 1 key for an existing user.
func (g *Gateway) IssueKey(ctx context.Context, client Client, req IssueKeyRequest) (*IssuedKey, ratelimit.Decision, error) {
	d, err := g.gate(client, ratelimit.CategoryKeyGeneration)
	if err != nil {
		return nil, d, err
	}

	issued, err := g.issueKey(ctx, req)
	g.finish("issue_key", client, ratelimit.CategoryKeyGeneration, keyIDOf(issued), nil, err)
	return issued, d, err
}

func (g *Gateway) issueKey(ctx context.Context, req IssueKeyRequest) (*IssuedKey, error) {
	if req.UserID <= 0 {
		return nil, autherr.New(autherr.InvalidRequest, "user_id is required")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(g.now()) {
		return nil, autherr.New(autherr.InvalidRequest, "expires_at must be in the future")
	}

	err := g.calls.read(ctx, "get user", func(ctx context.Context) error {
		_, err := g.store.GetUser(ctx, req.UserID)
		return err
	})
	if errors.Is(err, config.ErrNotFound) {
		return nil, autherr.Newf(autherr.NotFound, "user %d not found", req.UserID)
	}
	if err != nil {
		return nil, err
	}

	return g.createKey(ctx, req.UserID, model.NewScopeSet(req.Scopes...), req.ExpiresAt, 1)
}

func (g *Gateway) createKey(ctx context.Context, userID int64, scopes model.ScopeSet, expiresAt *time.Time, version int) (*IssuedKey, error) {
	issued, err := g.newKey(userID, scopes, expiresAt, version)
	if err != nil {
		return nil, err
	}
	err = g.calls.write(ctx, "create api key", func(ctx context.Context) error {
		return g.store.CreateAPIKey(ctx, issued.Key)
	})
	if err != nil {
		if errors.Is(err, config.ErrConflict) {
			return nil, autherr.Wrap(autherr.Internal, "create api key", err)
		}
		return nil, err
	}
	return issued, nil
}

// newKey generates key text and its unsaved record.
func (g *Gateway) newKey(userID int64, scopes model.ScopeSet, expiresAt *time.Time, version int) (*IssuedKey, error) {
	key, err := g.codec.Generate(version)
	if err != nil {
		return nil, err
	}

	rec := &model.APIKey{
		UserID:      userID,
		KeyHash:     key.Hash,
		KeyPrefix:   key.Parsed.DisplayPrefix(),
		Environment: key.Parsed.Environment,
		Version:     version,
		Scopes:      scopes,
		IsActive:    true,
		IssuedAt:    key.Parsed.IssuedAt(),
		ExpiresAt:   expiresAt,
	}
	return &IssuedKey{Text: key.Text, Key: rec}, nil
}

// ValidateKey checks a key and exchanges it for a short-lived access token.
func (g *Gateway) ValidateKey(ctx context.Context, client Client, keyText string) (*KeyValidation, ratelimit.Decision, error) {
	d, err := g.gate(client, ratelimit.CategoryAuthentication)
	if err != nil {
		return nil, d, err
	}

	key, err := g.authenticateKey(ctx, keyText)
	if err != nil {
		g.finish("validate_key", client, ratelimit.CategoryAuthentication, keyIDOfRecord(key), nil, err)
		return nil, d, err
	}

	if err := g.calls.write(ctx, "increment usage", func(ctx context.Context) error {
		return g.store.IncrementUsage(ctx, key.ID, g.now())
	}); err != nil {
		g.logger.Warn("increment key usage failed", "api_key_id", key.ID, "error", err)
	}

	token, err := g.tokens.Mint(ctx, key)
	var tokenHash *string
	if token != nil {
		tokenHash = &token.TokenHash
	}
	g.finish("validate_key", client, ratelimit.CategoryAuthentication, &key.ID, tokenHash, err)
	if err != nil {
		return nil, d, err
	}
	return &KeyValidation{Key: key, Token: token}, d, nil
}

// authenticateKey runs format, existence, activity and expiry checks. The
// returned key is non-nil whenever the record was found.
func (g *Gateway) authenticateKey(ctx context.Context, keyText string) (*model.APIKey, error) {
	if _, err := g.codec.Parse(keyText); err != nil {
		return nil, err
	}

	hash := keycodec.Hash(keyText)
	var key *model.APIKey
	err := g.calls.read(ctx, "find api key", func(ctx context.Context) error {
		var err error
		key, err = g.store.FindKeyByHash(ctx, hash)
		return err
	})
	if errors.Is(err, config.ErrNotFound) {
		return nil, autherr.New(autherr.KeyNotFound, "api key not found")
	}
	if err != nil {
		return nil, err
	}

	if !key.IsActive {
		return key, autherr.New(autherr.KeyInactive, "api key is inactive")
	}
	if key.Expired(g.now()) {
		return key, autherr.New(autherr.KeyExpired, "api key expired")
	}
	return key, nil
}

// ValidateToken verifies an access token. An empty category means
// authentication.
func (g *Gateway) ValidateToken(ctx context.Context, client Client, token, category string) (*VerifiedToken, ratelimit.Decision, error) {
	if category == "" {
		category = ratelimit.CategoryAuthentication
	}
	d, err := g.gate(client, category)
	if err != nil {
		return nil, d, err
	}

	if token == "" {
		err := autherr.New(autherr.InvalidSignature, "token is required")
		g.finish("validate_token", client, category, nil, nil, err)
		return nil, d, err
	}

	v, err := g.tokens.Verify(ctx, token)
	hash := HashToken(token)
	var keyID *int64
	if v != nil {
		keyID = &v.APIKeyID
	}
	g.finish("validate_token", client, category, keyID, &hash, err)
	return v, d, err
}

// RevokeToken revokes a token identified by its text or, when token is
// empty, by its hash.
func (g *Gateway) RevokeToken(ctx context.Context, client Client, token, tokenHash string) (ratelimit.Decision, error) {
	d, err := g.gate(client, ratelimit.CategoryDataWrite)
	if err != nil {
		return d, err
	}

	if token != "" {
		tokenHash = HashToken(token)
	}
	if tokenHash == "" {
		err := autherr.New(autherr.InvalidRequest, "token or token_hash is required")
		g.finish("revoke_token", client, ratelimit.CategoryDataWrite, nil, nil, err)
		return d, err
	}

	err = g.tokens.Revoke(ctx, tokenHash)
	g.finish("revoke_token", client, ratelimit.CategoryDataWrite, nil, &tokenHash, err)
	return d, err
}

// RotateKey replaces a valid key with a new one for the same user, scopes
// and expiry at the next version. The old key is deactivated in the same
// store transaction that saves the new one.
func (g *Gateway) RotateKey(ctx context.Context, client Client, keyText string) (*IssuedKey, ratelimit.Decision, error) {
	d, err := g.gate(client, ratelimit.CategoryKeyGeneration)
	if err != nil {
		return nil, d, err
	}

	issued, err := g.rotateKey(ctx, keyText)
	g.finish("rotate_key", client, ratelimit.CategoryKeyGeneration, keyIDOf(issued), nil, err)
	return issued, d, err
}

func (g *Gateway) rotateKey(ctx context.Context, keyText string) (*IssuedKey, error) {
	old, err := g.authenticateKey(ctx, keyText)
	if err != nil {
		return nil, err
	}

	issued, err := g.newKey(old.UserID, old.Scopes.Clone(), old.ExpiresAt, old.Version+1)
	if err != nil {
		return nil, err
	}

	err = g.calls.write(ctx, "rotate api key", func(ctx context.Context) error {
		return g.store.RotateAPIKey(ctx, old.ID, issued.Key)
	})
	switch {
	case errors.Is(err, config.ErrNotFound):
		// Deactivated between the lookup and the transaction.
		return nil, autherr.New(autherr.KeyInactive, "api key is inactive")
	case errors.Is(err, config.ErrConflict):
		return nil, autherr.Wrap(autherr.Internal, "rotate api key", err)
	case err != nil:
		return nil, err
	}
	return issued, nil
}

// gate consults the limiter and converts a denial into RateLimitExceeded.
func (g *Gateway) gate(client Client, category string) (ratelimit.Decision, error) {
	d := g.limiter.Allow(client.ID, category)
	if !d.Allowed {
		return d, autherr.RateLimited(d.Category, d.Limit, d.Remaining, d.ResetIn)
	}
	return d, nil
}

// finish records the outcome of an admitted operation.
func (g *Gateway) finish(op string, client Client, category string, keyID *int64, tokenHash *string, err error) {
	result := "ok"
	if err != nil {
		result = autherr.KindOf(err).String()
		g.logger.Debug("credential operation failed", "op", op, "client", client.ID, "kind", result, "error", err)
	}
	telemetry.AuthResults.WithLabelValues(op, result).Inc()

	if g.usage == nil {
		return
	}
	g.usage.Record(&model.UsageLogEntry{
		APIKeyID:     keyID,
		TokenHash:    tokenHash,
		Category:     category,
		ClientOrigin: client.Origin,
		UserAgent:    client.UserAgent,
		Success:      err == nil,
		CreatedAt:    g.now().UTC(),
	})
}

func keyIDOf(issued *IssuedKey) *int64 {
	if issued == nil {
		return nil
	}
	return &issued.Key.ID
}

func keyIDOfRecord(key *model.APIKey) *int64 {
	if key == nil {
		return nil
	}
	return &key.ID
}
