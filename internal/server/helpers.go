package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chartforge/chartforge/pkg/schema"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	ChartID string         `json:"chart_id,omitempty"`
}

// writeError maps the structured error taxonomy onto HTTP statuses.
// Upstream provider failures are reported generically; the detail is
// logged, not leaked to the caller.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var cfErr *schema.Error
	if !errors.As(err, &cfErr) {
		logger.Error("unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Code: schema.ErrCodeStore, Message: "internal error",
		})
		return
	}

	status := http.StatusInternalServerError
	body := errorBody{
		Code:    cfErr.Code,
		Message: cfErr.Message,
		Details: cfErr.Details,
		ChartID: cfErr.ChartID,
	}
	switch cfErr.Code {
	case schema.ErrCodeInvalidRequest, schema.ErrCodeUnsupportedChartType,
		schema.ErrCodeSchemaValidation, schema.ErrCodeVersionOutOfRange:
		status = http.StatusBadRequest
	case schema.ErrCodeSessionNotFound, schema.ErrCodeChartNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeConflict:
		status = http.StatusConflict
	case schema.ErrCodeUpstreamModel, schema.ErrCodeUpstreamTimeout:
		logger.Error("upstream model failure", "code", cfErr.Code, "error", cfErr.Message)
		status = http.StatusBadGateway
		body.Message = "the model provider is unavailable, try again shortly"
	case schema.ErrCodeRetryExhausted:
		status = http.StatusBadGateway
	default:
		logger.Error("request failed", "code", cfErr.Code, "error", cfErr.Message)
	}
	writeJSON(w, status, body)
}

// decodeJSON parses a request body, rejecting unknown garbage with a
// structured INVALID_REQUEST.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return schema.NewErrorf(schema.ErrCodeInvalidRequest, "malformed request body: %s", err.Error())
	}
	return nil
}

// wantsSSE reports whether the client asked for an event stream. The
// streaming endpoints default to SSE; an explicit application/json Accept
// switches to a single JSON body.
func wantsSSE(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return false
	}
	return true
}
