package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fieldproof-backend/core/fieldwork"
	fwstore "fieldproof-backend/storage/fieldwork"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Error sends a standardized error response
func Error(w http.ResponseWriter, code int, message string) {
	JSON(w, code, ErrorResponse{Error: message})
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an engine error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, fieldwork.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fieldwork.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, fieldwork.ErrInvalidInput), errors.Is(err, fieldwork.ErrInvalidRequirements):
		return http.StatusBadRequest
	case errors.Is(err, fieldwork.ErrDeadlinePassed):
		return http.StatusGone
	case errors.Is(err, fieldwork.ErrInvalidTransition),
		errors.Is(err, fieldwork.ErrNotClaimable),
		errors.Is(err, fieldwork.ErrAlreadyFinalised),
		errors.Is(err, fieldwork.ErrDisputeAlreadyOpen),
		errors.Is(err, fieldwork.ErrAlreadyVoted),
		errors.Is(err, fwstore.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, fieldwork.ErrProviderRejected):
		return http.StatusBadGateway
	case errors.Is(err, fieldwork.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError sends err with its mapped status and error kind.
func WriteError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	JSON(w, code, ErrorResponse{Error: msg, Kind: fieldwork.Kind(err)})
}

// CORS middleware for handling cross-origin requests
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor-ID, X-Actor-Role")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logger writes one access log line per request.
func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			evt := l.Info()
			if rw.status >= 500 {
				evt = l.Error()
			}
			if actor, ok := ActorFrom(r.Context()); ok {
				evt = evt.Str("actor", actor.ID)
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// RateLimit throttles each authenticated actor, falling back to the remote address.
func RateLimit(rl *fwstore.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := r.RemoteAddr
			if actor, ok := ActorFrom(r.Context()); ok {
				key = actor.ID
			}
			if !rl.Allow(key) {
				w.Header().Set("Retry-After", "1")
				Error(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
