package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/ratelimit"
	"github.com/faucetdb/keysmith/internal/service"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, got)
	}
}

func TestRequestIDReplacesUnprintableID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, bad := range []string{"has space", strings.Repeat("a", 200)} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", bad)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("X-Request-ID"); got == bad || len(got) != 36 {
			t.Errorf("expected %q to be replaced by a UUID, got %q", bad, got)
		}
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Client identity tests
// ---------------------------------------------------------------------------

func TestClientIDFromAddress(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.9:51234"

	if got := ClientID(req); got != "ip:203.0.113.9" {
		t.Errorf("ClientID = %q, want ip:203.0.113.9", got)
	}

	req.RemoteAddr = "203.0.113.9"
	if got := ClientID(req); got != "ip:203.0.113.9" {
		t.Errorf("ClientID without port = %q", got)
	}
}

func TestClientIDIgnoresPresentedCredentials(t *testing.T) {
	for _, h := range []struct{ name, value string }{
		{"Authorization", "Bearer abc.def.ghi"},
		{"Authorization", "Bearer junk-2"},
		{"X-API-Key", "ks_live_v1_1700000000_AAAA_AAAA"},
	} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "198.51.100.1:4321"
		req.Header.Set(h.name, h.value)
		if got := ClientID(req); got != "ip:198.51.100.1" {
			t.Errorf("%s: %s gave ClientID %q, want ip:198.51.100.1", h.name, h.value, got)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer tok", "tok"},
		{"bearer tok", "tok"},
		{"BEARER  tok ", "tok"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := BearerToken(req); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestClientFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.4:9000"
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("User-Agent", "curl/8")

	c := ClientFromRequest(req)
	if c.ID != "ip:192.0.2.4" || c.Origin != "https://app.example.com" || c.UserAgent != "curl/8" {
		t.Errorf("unexpected client %+v", c)
	}
}

// ---------------------------------------------------------------------------
// Rate limit headers and error envelope
// ---------------------------------------------------------------------------

func TestSetRateLimitHeadersAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	SetRateLimitHeaders(rr, ratelimit.Decision{
		Allowed: true, Category: "authentication", Limit: 5, Remaining: 4, ResetIn: 59500 * time.Millisecond,
	})

	if got := rr.Header().Get(HeaderRateLimit); got != "5" {
		t.Errorf("limit = %q", got)
	}
	if got := rr.Header().Get(HeaderRateRemaining); got != "4" {
		t.Errorf("remaining = %q", got)
	}
	if got := rr.Header().Get(HeaderRateReset); got != "60" {
		t.Errorf("reset = %q, want rounded up to 60", got)
	}
	if got := rr.Header().Get(HeaderRetryAfter); got != "" {
		t.Errorf("Retry-After should be absent on allowed decisions, got %q", got)
	}
}

func TestSetRateLimitHeadersDenied(t *testing.T) {
	rr := httptest.NewRecorder()
	SetRateLimitHeaders(rr, ratelimit.Decision{Category: "authentication", Limit: 5, ResetIn: 200 * time.Millisecond})

	if got := rr.Header().Get(HeaderRetryAfter); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

func TestSetRateLimitHeadersSkipsEmptyDecision(t *testing.T) {
	rr := httptest.NewRecorder()
	SetRateLimitHeaders(rr, ratelimit.Decision{})
	if len(rr.Header()) != 0 {
		t.Errorf("expected no headers, got %v", rr.Header())
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v\nbody: %s", err, rr.Body.String())
	}
	return resp.Error
}

func TestWriteErrorRateLimited(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, autherr.RateLimited("key-generation", 3, 0, 41200*time.Millisecond))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get(HeaderRetryAfter); got != "42" {
		t.Errorf("Retry-After = %q, want 42", got)
	}
	detail := decodeError(t, rr)
	if detail.Kind != "RateLimitExceeded" || detail.Code != 429 {
		t.Errorf("unexpected detail %+v", detail)
	}
	if detail.Context["category"] != "key-generation" {
		t.Errorf("category = %v", detail.Context["category"])
	}
	if detail.Context["reset_in_seconds"] != float64(42) || detail.Context["remaining"] != float64(0) {
		t.Errorf("unexpected context %v", detail.Context)
	}
}

func TestWriteErrorKinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{autherr.New(autherr.InvalidFormat, "bad key"), 400, "InvalidFormat"},
		{autherr.New(autherr.KeyExpired, "expired"), 401, "KeyExpired"},
		{autherr.New(autherr.TokenRevoked, "revoked"), 401, "TokenRevoked"},
		{autherr.Wrap(autherr.StoreUnavailable, "store", errors.New("dial tcp")), 503, "StoreUnavailable"},
		{errors.New("secret internals"), 500, "Internal"},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		WriteError(rr, tt.err)
		if rr.Code != tt.status {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.status)
		}
		detail := decodeError(t, rr)
		if detail.Kind != tt.kind {
			t.Errorf("%v: kind = %q, want %q", tt.err, detail.Kind, tt.kind)
		}
		if strings.Contains(detail.Message, "secret internals") {
			t.Error("non-auth errors must not leak their text")
		}
	}
}

// ---------------------------------------------------------------------------
// FloodGuard tests
// ---------------------------------------------------------------------------

func TestFloodGuardLimitsPerIP(t *testing.T) {
	handler := FloodGuard(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if send("10.0.0.1:1") != http.StatusNoContent || send("10.0.0.1:2") != http.StatusNoContent {
		t.Fatal("first two requests should pass")
	}
	if code := send("10.0.0.1:3"); code != http.StatusTooManyRequests {
		t.Errorf("third request: expected 429, got %d", code)
	}
	if code := send("10.0.0.2:1"); code != http.StatusNoContent {
		t.Errorf("other address should not be limited, got %d", code)
	}
}

func TestFloodGuardDisabled(t *testing.T) {
	handler := FloodGuard(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 10; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// Authenticate / RequireScope tests
// ---------------------------------------------------------------------------

type fakeValidator struct {
	token    string
	verified *service.VerifiedToken
	err      error
	gotCat   string
}

func (f *fakeValidator) ValidateToken(ctx context.Context, client service.Client, token, category string) (*service.VerifiedToken, ratelimit.Decision, error) {
	f.gotCat = category
	d := ratelimit.Decision{Allowed: true, Category: category, Limit: 200, Remaining: 199, ResetIn: time.Minute}
	if f.err != nil {
		return nil, d, f.err
	}
	if token == "" {
		return nil, d, autherr.New(autherr.InvalidSignature, "token is required")
	}
	if token != f.token {
		return nil, d, autherr.New(autherr.InvalidSignature, "bad signature")
	}
	return f.verified, d, nil
}

func TestAuthenticateAttachesPrincipal(t *testing.T) {
	v := &fakeValidator{token: "good", verified: &service.VerifiedToken{
		UserID: 42, APIKeyID: 7, TokenHash: "abc", Scopes: model.NewScopeSet("read"),
	}}

	var got *Principal
	handler := Authenticate(v, ratelimit.CategoryDataRead)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetPrincipal(r.Context())
	}))

	req := httptest.NewRequest("POST", "/protected", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got == nil || got.UserID != 42 || got.APIKeyID != 7 || !got.Scopes.Has("read") {
		t.Errorf("unexpected principal %+v", got)
	}
	if v.gotCat != ratelimit.CategoryDataRead {
		t.Errorf("category = %q", v.gotCat)
	}
	if rr.Header().Get(HeaderRateRemaining) != "199" {
		t.Errorf("expected rate limit headers on success")
	}
}

func TestAuthenticateRejects(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called")
	})

	tests := []struct {
		name   string
		header string
		err    error
		status int
	}{
		{"missing header", "", nil, http.StatusBadRequest},
		{"bad token", "Bearer nope", nil, http.StatusBadRequest},
		{"revoked", "Bearer good", autherr.New(autherr.TokenRevoked, "revoked"), http.StatusUnauthorized},
		{"rate limited", "Bearer good", autherr.RateLimited("data-read", 200, 0, time.Second), http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeValidator{token: "good", err: tt.err}
			req := httptest.NewRequest("POST", "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			Authenticate(v, ratelimit.CategoryDataRead)(inner).ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireScope("write")(inner)

	tests := []struct {
		name      string
		principal *Principal
		status    int
	}{
		{"has scope", &Principal{Scopes: model.NewScopeSet("read", "write")}, http.StatusOK},
		{"prefix is not membership", &Principal{Scopes: model.NewScopeSet("writer")}, http.StatusForbidden},
		{"no principal", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.principal != nil {
				req = req.WithContext(context.WithValue(req.Context(), AuthPrincipalKey, tt.principal))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestGetPrincipalWithoutValue(t *testing.T) {
	if got := GetPrincipal(context.Background()); got != nil {
		t.Error("expected nil principal from bare context")
	}
}

// ---------------------------------------------------------------------------
// Logger tests
// ---------------------------------------------------------------------------

func TestLoggerUsesRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(Logger(logger))
	r.Get("/keys/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest("GET", "/keys/123", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v\n%s", err, buf.String())
	}
	if entry["route"] != "/keys/{id}" {
		t.Errorf("route = %v", entry["route"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("status = %v", entry["status"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN for 4xx", entry["level"])
	}
}
