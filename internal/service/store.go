package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/model"
)

// CredentialStore is the durable record store the gateway and token service
// depend on. Lookups return config.ErrNotFound when no record exists.
// *config.Store implements it.
type CredentialStore interface {
	FindKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	IncrementUsage(ctx context.Context, keyID int64, at time.Time) error
	FindTokenRevocation(ctx context.Context, tokenHash string) (*model.TokenRevocation, error)
	InsertTokenRecord(ctx context.Context, tok *model.AccessToken) error
	RevokeToken(ctx context.Context, tokenHash string) (bool, error)
	AppendUsageLog(ctx context.Context, entry *model.UsageLogEntry) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	RotateAPIKey(ctx context.Context, oldID int64, next *model.APIKey) error
}

var _ CredentialStore = (*config.Store)(nil)

const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultRetryDelay   = 50 * time.Millisecond
)

// storeCaller bounds every store call with a timeout and maps failures to
// StoreUnavailable. Reads are retried once; writes never are.
type storeCaller struct {
	timeout    time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

// read runs a read-only lookup. config.ErrNotFound passes through unchanged.
func (c *storeCaller) read(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, config.ErrNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	err := backoff.RetryNotify(attempt, policy, func(err error, d time.Duration) {
		c.logger.Warn("store lookup failed, retrying", "op", op, "error", err, "retry_in", d)
	})
	if err == nil || errors.Is(err, config.ErrNotFound) {
		return err
	}
	return autherr.Wrap(autherr.StoreUnavailable, op, err)
}

// write runs a single mutation attempt.
func (c *storeCaller) write(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil || errors.Is(err, config.ErrNotFound) || errors.Is(err, config.ErrConflict) {
		return err
	}
	return autherr.Wrap(autherr.StoreUnavailable, op, err)
}
