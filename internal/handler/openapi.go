package handler

import (
	"net/http"

	"github.com/faucetdb/keysmith/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI 3.1 document for this server.
type OpenAPIHandler struct {
	version string
}

// NewOpenAPIHandler creates a new OpenAPIHandler reporting version.
func NewOpenAPIHandler(version string) *OpenAPIHandler {
	return &OpenAPIHandler{version: version}
}

// ServeSpec handles GET /openapi.json. The server URL is derived from the
// request so the document works behind a proxy that sets X-Forwarded-Proto.
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, openapi.Generate(baseURL(r), h.version))
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
