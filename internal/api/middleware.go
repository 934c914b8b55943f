package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/store"
)

// contextKey is an unexported type for context keys defined in this package.
type contextKey int

const (
	// contextKeyCaller holds the hostname that owns the verified bearer
	// token.
	contextKeyCaller contextKey = iota
)

// RequireRole validates the bearer token in the Authorization header against
// the token store and lets the request through only when the token's role
// grants required. On success the token's owning hostname is stored in the
// request context.
//
// Token format: "Authorization: Bearer <uuid>"
func RequireRole(tokens store.TokenStore, required identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				Error(w, http.StatusUnauthorized, "malformed authorization header")
				return
			}

			caller, err := tokens.Verify(r.Context(), parts[1], required)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// callerFromCtx retrieves the hostname stored by RequireRole. The zero value
// means the request skipped authentication.
func callerFromCtx(ctx context.Context) identity.Hostname {
	caller, _ := ctx.Value(contextKeyCaller).(identity.Hostname)
	return caller
}

// RequestLogger logs each request with method, path, status and size. Chi's
// middleware.RequestID is expected to run first so the request id is
// available.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
