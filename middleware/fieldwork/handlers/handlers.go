package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"fieldproof-backend/core/fieldwork"
	"fieldproof-backend/middleware/fieldwork/middleware"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		middleware.Error(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		middleware.Error(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return false
	}
	return true
}

// actor returns the authenticated caller or writes 401.
func actor(w http.ResponseWriter, r *http.Request) (fieldwork.Actor, bool) {
	a, ok := middleware.ActorFrom(r.Context())
	if !ok {
		middleware.Error(w, http.StatusUnauthorized, "actor required")
	}
	return a, ok
}

// aggregateResponse is returned by every command: the full aggregate, its
// version, and the entity the command produced when there is one.
type aggregateResponse struct {
	Version   int64                `json:"version"`
	Aggregate *fieldwork.Aggregate `json:"aggregate"`
	Result    any                  `json:"result,omitempty"`
}

func respond(w http.ResponseWriter, code int, agg *fieldwork.Aggregate, result any) {
	middleware.JSON(w, code, aggregateResponse{Version: agg.Version, Aggregate: agg, Result: result})
}

func intFromQuery(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
