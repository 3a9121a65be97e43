package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// AdminAuth gates the admin HTTP surface behind a static bearer token.
// There are no per-dealer sessions, only a single operator token.
type AdminAuth struct {
	logger *slog.Logger
	token  string
}

func NewAdminAuth(logger *slog.Logger, token string) *AdminAuth {
	return &AdminAuth{logger: logger, token: token}
}

// Middleware rejects any request without a matching "Bearer <token>"
// Authorization header. The X-Dev-Admin bypass only works when
// ENVIRONMENT is development, test, or unset.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := os.Getenv("ENVIRONMENT")
		if env == "development" || env == "test" || env == "" {
			if r.Header.Get("X-Dev-Admin") == "1" {
				next.ServeHTTP(w, r)
				return
			}
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			a.logger.Warn("missing authorization header",
				slog.String("path", r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)
			a.unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			a.unauthorized(w, "invalid authorization header format")
			return
		}

		if a.token == "" || subtle.ConstantTimeCompare([]byte(parts[1]), []byte(a.token)) != 1 {
			a.logger.Warn("admin token mismatch",
				slog.String("path", r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)
			a.unauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
