package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/apperr"
	"github.com/R0m1k3/n8ngest/internal/chat"
)

const maxRequestBody = 5 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// statusFor maps an error to the HTTP status reported to callers.
func statusFor(err error) int {
	var up *apperr.UpstreamError
	var invalid *chat.InvalidCommandError
	var missing *apperr.ConfigurationError
	switch {
	case errors.As(err, &invalid), errors.Is(err, chat.ErrNoMessages), errors.As(err, &missing):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &up):
		if up.NotFound() {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.String("request_id", RequestID(r.Context())), zap.Error(err))
		msg = "internal error"
	} else {
		s.log.Warn("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	if errors.Is(err, apperr.ErrNotFound) {
		msg = "not found"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON reads a JSON body into v. When optional is set an empty body is
// accepted and leaves v untouched.
func decodeJSON(r *http.Request, v any, optional bool) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(b) > maxRequestBody {
		return fmt.Errorf("request body too large")
	}
	if len(b) == 0 {
		if optional {
			return nil
		}
		return fmt.Errorf("request body is required")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
