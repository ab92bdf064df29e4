package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "json", "info")
	logger.Info("hello", "k", "v")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if m["msg"] != "hello" || m["k"] != "v" {
		t.Errorf("got %v", m)
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "text", "debug").Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Errorf("got %q, want text handler output", buf.String())
	}
}

func TestMetricsRegistered(t *testing.T) {
	collectors := []prometheus.Collector{
		RateLimitDecisions, RateLimitEntries, RateLimitSwept,
		AuthResults, UsageLogDropped, HTTPRequestsTotal, HTTPRequestDuration,
	}
	for _, c := range collectors {
		if err := prometheus.Register(c); err == nil {
			t.Errorf("collector %T was not registered by promauto", c)
		}
	}

	before := testutil.ToFloat64(AuthResults.WithLabelValues("test", "ok"))
	AuthResults.WithLabelValues("test", "ok").Inc()
	if got := testutil.ToFloat64(AuthResults.WithLabelValues("test", "ok")); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}
}
