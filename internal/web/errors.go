package web

// errors.go turns service errors into envelope responses.
//
// Every error is logged with its technical detail and the request id, then
// wrapped with core.NewUserError so the client only sees the user message and
// its code. The HTTP status comes from the sentinel the error wraps.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/itassets/internal/core"
	"github.com/JonMunkholm/itassets/internal/logging"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Action  string `json:"action,omitempty"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrTaskNotFound), errors.Is(err, core.ErrBatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoFile),
		errors.Is(err, core.ErrUnsupportedExt),
		errors.Is(err, core.ErrNotSpreadsheet),
		errors.Is(err, core.ErrEmptyFile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped failure envelope.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ue := core.NewUserError(err)
	msg := ue.User

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", ue.Technical.Error(),
		"code", msg.Code,
		"mapped", core.IsUserFacing(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	writeJSON(w, r, status, Envelope{
		Success: false,
		Message: msg.Message,
		Code:    msg.Code,
		Action:  msg.Action,
	})
}

// writeFail writes a failure envelope that did not come from the service.
func writeFail(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	writeJSON(w, r, status, Envelope{Success: false, Message: message, Code: code})
}

// writeOK writes a success envelope.
func writeOK(w http.ResponseWriter, r *http.Request, data any, message string) {
	writeJSON(w, r, http.StatusOK, Envelope{Success: true, Data: data, Message: message})
}

// writeJSON encodes v as JSON. Encoding errors are logged since the header
// is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
