package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/znz-systems/mailpilot/internal/automation"
)

const maxBodyBytes = 1 << 20

// jsonResponse is the envelope for simple acknowledgements and errors.
type jsonResponse struct {
	OK     bool   `json:"ok,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, automation.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, automation.ErrDisabled):
		return http.StatusForbidden
	case errors.Is(err, automation.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, automation.ErrPolicyRejected):
		return http.StatusPreconditionFailed
	case errors.Is(err, automation.ErrThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, automation.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, automation.ErrPolicyUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, automation.ErrGenerationFailed), errors.Is(err, automation.ErrDispatchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err with its status and stable reason. Internal errors
// are logged and their details withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, jsonResponse{Error: msg, Reason: automation.Reason(err)})
}

// decodeJSON reads a JSON request body into v. Malformed bodies are reported
// as invalid input.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", automation.ErrInvalidInput, err)
	}
	return nil
}
