package service

import (
	"log/slog"
	"time"
)

type options struct {
	now          func() time.Time
	logger       *slog.Logger
	storeTimeout time.Duration
	retryDelay   time.Duration
}

// Option customises a TokenService or Gateway.
type Option func(*options)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStoreTimeout bounds each store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) { o.storeTimeout = d }
}

// WithRetryDelay sets the pause before the single lookup retry.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

func buildOptions(opts []Option) options {
	o := options{
		now:          time.Now,
		logger:       slog.Default(),
		storeTimeout: DefaultStoreTimeout,
		retryDelay:   DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) caller() *storeCaller {
	return &storeCaller{timeout: o.storeTimeout, retryDelay: o.retryDelay, logger: o.logger}
}
