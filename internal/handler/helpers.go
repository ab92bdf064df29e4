package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/ratelimit"
	"github.com/faucetdb/keysmith/internal/server/middleware"
)

// maxBodyBytes caps request bodies; every keysmith request is a small JSON
// object.
const maxBodyBytes = 64 << 10

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response for failures that carry no
// autherr kind, such as a username conflict.
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeAuthError publishes the limiter decision, when there was one, and
// renders err in the error envelope.
func writeAuthError(w http.ResponseWriter, d ratelimit.Decision, err error) {
	middleware.SetRateLimitHeaders(w, d)
	middleware.WriteError(w, err)
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure. Unknown fields and trailing
// data are rejected.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return autherr.New(autherr.InvalidRequest, "request body is required")
		}
		return autherr.Wrap(autherr.InvalidRequest, "invalid JSON body", err)
	}
	if dec.More() {
		return autherr.New(autherr.InvalidRequest, "request body must be a single JSON object")
	}
	return nil
}

// rejectBody answers a request whose body could not be decoded. The request
// still counts against its category, exactly as if the gateway had seen it,
// so malformed bodies cannot be used to probe without spending quota.
func rejectBody(w http.ResponseWriter, admit func() (ratelimit.Decision, error), bodyErr error) {
	d, err := admit()
	if err != nil {
		writeAuthError(w, d, err)
		return
	}
	writeAuthError(w, d, bodyErr)
}

func requireField(name, value string) error {
	if value == "" {
		return autherr.New(autherr.InvalidRequest, fmt.Sprintf("%s is required", name))
	}
	return nil
}
