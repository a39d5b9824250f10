package mcp

import (
	"context"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"fieldproof-backend/middleware/fieldwork/middleware"
	"fieldproof-backend/storage/auth"
)

type keyCtx struct{}

func withAPIKey(ctx context.Context, rec auth.APIKey) context.Context {
	return context.WithValue(ctx, keyCtx{}, rec)
}

func apiKeyFrom(ctx context.Context) (auth.APIKey, bool) {
	rec, ok := ctx.Value(keyCtx{}).(auth.APIKey)
	return rec, ok
}

// HTTPHandler serves the streamable HTTP transport at /mcp. With a non-nil
// key store every request must carry a known key in X-API-Key or a Bearer
// header, and tools run as that key's actor.
func (s *MCPServer) HTTPHandler(keys auth.APIKeyValidator) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", authWrap(keys, s.log, server.NewStreamableHTTPServer(s.mcpServer)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		middleware.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func authWrap(keys auth.APIKeyValidator, log zerolog.Logger, next http.Handler) http.Handler {
	if keys == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				key = strings.TrimPrefix(h, "Bearer ")
			}
		}
		if key == "" {
			log.Info().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("missing api key")
			middleware.Error(w, http.StatusUnauthorized, "API key required")
			return
		}
		rec, ok := keys.Lookup(key)
		if !ok {
			log.Info().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("invalid api key")
			middleware.Error(w, http.StatusForbidden, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(withAPIKey(r.Context(), rec)))
	})
}
