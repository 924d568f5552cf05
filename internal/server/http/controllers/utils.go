package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/registry"
)

// Helper functions for common HTTP responses

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeAccepted writes a 202 Accepted response with the given data.
func writeAccepted(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(data)
}

// parseLimit parses a limit string and returns a valid limit value.
//
// Returns def for empty strings or invalid values.
func parseLimit(limitStr string, def int) int {
	if limitStr == "" {
		return def
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return def
}

// statusFor maps a domain error to an HTTP status and a client-facing
// message. Internal errors are not echoed back.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrIdentifierRequired):
		return http.StatusBadRequest, registry.ErrIdentifierRequired.Error()
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.NotSupported):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// OriginAllowed reports whether origin may use the gateway. An empty
// allow-list admits every origin, as does a request without an Origin header.
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
