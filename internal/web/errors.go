package web

// errors.go maps service errors to HTTP responses.
//
// Every error response is JSON. The technical error is logged with the
// request ID; the client gets the catalog message from core.MapError so
// support can match the reported code to the log line.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/shortlinks/internal/core"
	"github.com/JonMunkholm/shortlinks/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case core.IsValidationError(err),
		errors.Is(err, core.ErrNoRecognizedFormat),
		errors.Is(err, core.ErrEncryptionKeyMissing),
		errors.Is(err, core.ErrDecryptionFailed):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrCodeConflict),
		errors.Is(err, core.ErrDuplicateCode):
		return http.StatusConflict
	case errors.Is(err, core.ErrBatchTooLarge),
		errors.Is(err, core.ErrPayloadTooLarge),
		errors.Is(err, core.ErrExportTooLarge),
		errors.Is(err, core.ErrTooManyCodes),
		errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyImports),
		errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped JSON error response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)
	requestID := middleware.GetReqID(r.Context())

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     userMsg.Message,
		Message:   detailFor(err, userMsg),
		Action:    userMsg.Action,
		Code:      userMsg.Code,
		RequestID: requestID,
		Retryable: core.IsRetryable(err),
	})
}

// detailFor returns the validation detail for validation errors, which is
// safe to show and names the offending field. Other errors only expose the
// catalog message.
func detailFor(err error, msg core.UserMessage) string {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return msg.Message
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
