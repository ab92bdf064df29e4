package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/model"
)

// WriteError renders err in the standard error envelope. The status and kind
// come from the error's autherr.Kind; errors of any other type are reported
// as 500 without leaking their text. Rate limit errors also carry their quota
// in the context object and a Retry-After header.
func WriteError(w http.ResponseWriter, err error) {
	kind := autherr.KindOf(err)
	status := kind.HTTPStatus()

	detail := model.ErrorDetail{
		Code:    status,
		Kind:    kind.String(),
		Message: http.StatusText(status),
	}

	var ae *autherr.Error
	if errors.As(err, &ae) {
		if ae.Message != "" {
			detail.Message = ae.Message
		}
		if kind == autherr.RateLimitExceeded {
			reset := ceilSeconds(ae.ResetIn)
			ctx := map[string]interface{}{
				"remaining":        ae.Remaining,
				"reset_in_seconds": reset,
			}
			if ae.Category != "" {
				ctx["category"] = ae.Category
			}
			detail.Context = ctx
			w.Header().Set(HeaderRetryAfter, strconv.FormatInt(max(reset, 1), 10))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{Error: detail})
}
