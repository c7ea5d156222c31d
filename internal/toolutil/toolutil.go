// Package toolutil provides shared helpers for the HTTP and MCP surfaces:
// JSON responses and the mapping from pipeline error kinds to statuses.
package toolutil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", slog.Any("error", err))
	}
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteErr maps err to a status and a client-safe message.
func WriteErr(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(err), engine.PublicMessage(err))
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch engine.KindOf(err) {
	case engine.KindInvalidInput, engine.KindExternalTool:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ParseOwnerID parses a user_id field; empty means 0.
func ParseOwnerID(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, engine.NewError(engine.KindInvalidInput, "request", "user_id must be an integer", err)
	}
	return id, nil
}
