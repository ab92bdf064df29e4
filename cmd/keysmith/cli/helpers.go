package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/keycodec"
	"github.com/faucetdb/keysmith/internal/ratelimit"
	"github.com/faucetdb/keysmith/internal/service"
	"github.com/faucetdb/keysmith/internal/telemetry"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// cliClient is the rate limiting identity of operations run from the CLI.
var cliClient = service.Client{ID: "cli", Origin: "cli", UserAgent: "keysmith-cli"}

// setDefaults registers every config key with viper so that KEYSMITH_*
// environment variables are honoured even when no config file exists.
func setDefaults() {
	d := config.DefaultYAMLConfig()

	viper.SetDefault("server.host", d.Server.Host)
	viper.SetDefault("server.port", d.Server.Port)
	viper.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	viper.SetDefault("server.flood_limit", d.Server.FloodLimit)
	viper.SetDefault("server.cors.origins", d.Server.CORS.Origins)

	viper.SetDefault("auth.signing_secret", d.Auth.SigningSecret)
	viper.SetDefault("auth.token_lifetime", d.Auth.TokenLifetime)
	viper.SetDefault("auth.max_token_lifetime", d.Auth.MaxTokenLifetime)
	viper.SetDefault("auth.issuer", d.Auth.Issuer)
	viper.SetDefault("auth.key_prefix", d.Auth.KeyPrefix)
	viper.SetDefault("auth.environment", d.Auth.Environment)

	viper.SetDefault("store.driver", d.Store.Driver)
	viper.SetDefault("store.dsn", d.Store.DSN)
	viper.SetDefault("store.data_dir", d.Store.DataDir)
	viper.SetDefault("store.timeout", d.Store.Timeout)

	viper.SetDefault("rate_limit.sweep_interval", d.RateLimit.SweepInterval)
	viper.SetDefault("rate_limit.grace_period", d.RateLimit.GracePeriod)

	viper.SetDefault("mcp.transport", d.MCP.Transport)
	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
	viper.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// loadConfig returns the effective configuration: defaults, then the config
// file, then KEYSMITH_* environment variables.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if devMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// resolveDataDir returns the data directory from --data-dir flag,
// store.data_dir, or ~/.keysmith as fallback.
func resolveDataDir(cfg *config.YAMLConfig) string {
	if dataDir != "" {
		return dataDir
	}
	if cfg.Store.DataDir != "" {
		return cfg.Store.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keysmith")
}

// openStore opens the credential store. SQLite without a DSN lives in the
// data directory.
func openStore(cfg *config.YAMLConfig) (*config.Store, error) {
	driver := strings.ToLower(cfg.Store.Driver)
	if (driver == "" || driver == config.DialectSQLite) && cfg.Store.DSN == "" {
		return config.NewStore(resolveDataDir(cfg))
	}
	return config.Open(driver, cfg.Store.DSN)
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.YAMLConfig, w io.Writer) *slog.Logger {
	return telemetry.NewLogger(w, cfg.Logging.Format, cfg.Logging.Level)
}

// signingSecret returns the configured token signing secret. Without one,
// only --dev may proceed, with a random secret that dies with the process.
func signingSecret(cfg *config.YAMLConfig, logger *slog.Logger) ([]byte, error) {
	if cfg.Auth.SigningSecret != "" {
		return []byte(cfg.Auth.SigningSecret), nil
	}
	if !devMode {
		return nil, fmt.Errorf("auth.signing_secret is not set (use KEYSMITH_AUTH_SIGNING_SECRET, or --dev for a throwaway secret)")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	logger.Warn("no signing secret configured; using a random development secret, tokens will not survive a restart")
	return []byte(hex.EncodeToString(buf)), nil
}

// rateCategories converts the rate_limit.categories section. Entries merge
// over the built-in table.
func rateCategories(cfg *config.YAMLConfig) (map[string]ratelimit.Config, error) {
	if len(cfg.RateLimit.Categories) == 0 {
		return nil, nil
	}
	out := make(map[string]ratelimit.Config, len(cfg.RateLimit.Categories))
	for name, c := range cfg.RateLimit.Categories {
		window, err := config.ParseDuration(c.WindowSize, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("rate_limit.categories.%s.window_size: %w", name, err)
		}
		out[name] = ratelimit.Config{
			RequestsPerMinute: c.RequestsPerMinute,
			BurstLimit:        c.BurstLimit,
			WindowSize:        window,
		}
	}
	return out, nil
}

func newLimiter(cfg *config.YAMLConfig, logger *slog.Logger) (*ratelimit.Limiter, error) {
	sweep, err := config.ParseDuration(cfg.RateLimit.SweepInterval, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("rate_limit.sweep_interval: %w", err)
	}
	grace, err := config.ParseDuration(cfg.RateLimit.GracePeriod, 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("rate_limit.grace_period: %w", err)
	}
	cats, err := rateCategories(cfg)
	if err != nil {
		return nil, err
	}
	// An entry swept before its window ends would hand out a fresh quota.
	for name, c := range cats {
		if c.WindowSize > grace {
			logger.Warn("rate_limit.grace_period shorter than a category window; raising it",
				"category", name, "window", c.WindowSize, "grace_period", grace)
			grace = c.WindowSize
		}
	}

	opts := []ratelimit.Option{
		ratelimit.WithSweepInterval(sweep),
		ratelimit.WithGracePeriod(grace),
		ratelimit.WithLogger(logger),
	}
	if cats != nil {
		opts = append(opts, ratelimit.WithCategories(cats))
	}
	return ratelimit.New(opts...)
}

// app is every component a command may need, built from one config.
type app struct {
	cfg     *config.YAMLConfig
	logger  *slog.Logger
	store   *config.Store
	codec   *keycodec.Codec
	limiter *ratelimit.Limiter
	tokens  *service.TokenService
	usage   *service.UsageRecorder
	gateway *service.Gateway
}

// buildApp opens the store and wires the gateway. withUsage starts the
// asynchronous usage log writer; Close flushes it.
func buildApp(logOut io.Writer, withUsage bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, logOut)

	storeTimeout, err := config.ParseDuration(cfg.Store.Timeout, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("store.timeout: %w", err)
	}
	lifetime, err := config.ParseDuration(cfg.Auth.TokenLifetime, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("auth.token_lifetime: %w", err)
	}
	maxLifetime, err := config.ParseDuration(cfg.Auth.MaxTokenLifetime, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("auth.max_token_lifetime: %w", err)
	}
	secret, err := signingSecret(cfg, logger)
	if err != nil {
		return nil, err
	}

	codec, err := keycodec.New(cfg.Auth.KeyPrefix, cfg.Auth.Environment)
	if err != nil {
		return nil, fmt.Errorf("auth.key_prefix/environment: %w", err)
	}
	limiter, err := newLimiter(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	logger.Debug("credential store opened", "driver", store.Dialect())

	svcOpts := []service.Option{
		service.WithLogger(logger),
		service.WithStoreTimeout(storeTimeout),
	}
	tokens, err := service.NewTokenService(service.TokenConfig{
		Secret:      secret,
		Lifetime:    lifetime,
		MaxLifetime: maxLifetime,
		Issuer:      cfg.Auth.Issuer,
	}, store, svcOpts...)
	if err != nil {
		store.Close()
		return nil, err
	}

	var usage *service.UsageRecorder
	if withUsage {
		usage = service.NewUsageRecorder(store, service.DefaultUsageBuffer, storeTimeout, logger)
		usage.Start()
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		codec:   codec,
		limiter: limiter,
		tokens:  tokens,
		usage:   usage,
		gateway: service.NewGateway(codec, tokens, limiter, store, usage, svcOpts...),
	}, nil
}

// Close stops background work and closes the store.
func (a *app) Close() {
	a.limiter.Stop()
	if a.usage != nil {
		a.usage.Shutdown()
	}
	a.store.Close()
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
