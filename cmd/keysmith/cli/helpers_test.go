package cli

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateCategories(t *testing.T) {
	cfg := config.DefaultYAMLConfig()
	cats, err := rateCategories(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cats != nil {
		t.Fatalf("expected nil overrides without categories, got %v", cats)
	}

	cfg.RateLimit.Categories = map[string]config.RateLimitCategoryYAML{
		ratelimit.CategoryAuthentication: {RequestsPerMinute: 10, BurstLimit: 4},
		"exports":                        {RequestsPerMinute: 1, BurstLimit: 1, WindowSize: "1h"},
	}
	cats, err = rateCategories(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	auth := cats[ratelimit.CategoryAuthentication]
	if auth.RequestsPerMinute != 10 || auth.BurstLimit != 4 || auth.WindowSize != time.Minute {
		t.Errorf("authentication = %+v", auth)
	}
	if cats["exports"].WindowSize != time.Hour {
		t.Errorf("exports window = %s, want 1h", cats["exports"].WindowSize)
	}

	cfg.RateLimit.Categories["broken"] = config.RateLimitCategoryYAML{RequestsPerMinute: 1, BurstLimit: 1, WindowSize: "soon"}
	if _, err := rateCategories(cfg); err == nil {
		t.Error("expected error for invalid window_size")
	}
}

func TestNewLimiterRejectsInvalidCategory(t *testing.T) {
	cfg := config.DefaultYAMLConfig()
	cfg.RateLimit.Categories = map[string]config.RateLimitCategoryYAML{
		"zero": {RequestsPerMinute: 0, BurstLimit: 1},
	}
	if _, err := newLimiter(cfg, discardLogger()); err == nil {
		t.Fatal("expected error for zero requests_per_minute")
	}
}

func TestSigningSecret(t *testing.T) {
	defer func() { devMode = false }()

	cfg := config.DefaultYAMLConfig()
	devMode = false
	if _, err := signingSecret(cfg, discardLogger()); err == nil {
		t.Fatal("expected error without a secret outside dev mode")
	}

	devMode = true
	a, err := signingSecret(cfg, discardLogger())
	if err != nil {
		t.Fatalf("dev mode: %v", err)
	}
	b, _ := signingSecret(cfg, discardLogger())
	if len(a) == 0 || string(a) == string(b) {
		t.Error("expected distinct random development secrets")
	}

	cfg.Auth.SigningSecret = "configured"
	got, err := signingSecret(cfg, discardLogger())
	if err != nil || string(got) != "configured" {
		t.Errorf("got %q, %v; want configured secret", got, err)
	}
}

func TestOpenStoreUsesDataDir(t *testing.T) {
	defer func() { dataDir = "" }()

	dataDir = t.TempDir()
	cfg := config.DefaultYAMLConfig()
	store, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()

	if store.Dialect() != config.DialectSQLite {
		t.Errorf("dialect = %q, want sqlite", store.Dialect())
	}
	if got := resolveDataDir(cfg); got != dataDir {
		t.Errorf("resolveDataDir = %q, want %q", got, dataDir)
	}
	if matches, _ := filepath.Glob(filepath.Join(dataDir, "keysmith.db*")); len(matches) == 0 {
		t.Error("expected database file in data dir")
	}
}
