package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/faucetdb/keysmith/internal/service"
)

// ClientID derives the rate limiting identity of a request from its network
// origin. Presented credentials are ignored; none has been verified when the
// gate runs.
// It must run after chi's RealIP middleware.
func ClientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// ClientFromRequest builds the gateway's view of the caller.
func ClientFromRequest(r *http.Request) service.Client {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.RemoteAddr
	}
	return service.Client{
		ID:        ClientID(r),
		Origin:    origin,
		UserAgent: r.UserAgent(),
	}
}

// BearerToken returns the token of an "Authorization: Bearer" header, or
// the empty string.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
