// Package api implements the HTTP surface of the control plane. It uses Chi
// as the router. Admin endpoints are authenticated with bearer tokens checked
// against the token store; the music endpoint is authorized by possession of
// a live session id alone.
//
// Errors cross the lower layers as tagged values (store sentinels,
// registry.DroppedError) and are converted to HTTP exactly once, here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetlink-io/fleetlink/internal/registry"
	"github.com/fleetlink-io/fleetlink/internal/store"
)

// JSON writes a JSON-encoded response with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorBody is the shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Error: message})
}

// WriteError maps a lower-layer error to its HTTP status:
//
//	malformed bearer          → 400
//	unknown/insufficient role → 401
//	missing row or connection → 404
//	dropped with "timeout"    → 408
//	anything else             → 500
func WriteError(w http.ResponseWriter, err error) {
	var dropped *registry.DroppedError
	switch {
	case errors.Is(err, store.ErrInvalidToken):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrUnauthorizedToken):
		Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, registry.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.As(err, &dropped):
		if dropped.Reason == "timeout" {
			Error(w, http.StatusRequestTimeout, err.Error())
		} else {
			Error(w, http.StatusInternalServerError, err.Error())
		}
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON decodes the request body into dst. Returns false after writing
// a 400 when decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
