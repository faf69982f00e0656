// Package middleware provides HTTP middleware for the geodeploy API.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderToken is an alternative to the Authorization header for clients
// that cannot set bearer credentials.
const HeaderToken = "X-GeoDeploy-Token"

// =============================================================================
// Operator Token
// =============================================================================

// TokenConfig holds configuration for the operator token middleware.
type TokenConfig struct {
	// Token is the shared operator token. If empty, every request passes.
	Token string

	// Logger for rejected requests.
	Logger *slog.Logger
}

// RequireToken guards mutating endpoints with a shared operator token, sent
// either as "Authorization: Bearer <token>" or in the X-GeoDeploy-Token
// header.
func RequireToken(cfg TokenConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if cfg.Token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := tokenFromRequest(r)
			if presented == "" {
				writeJSONError(w, http.StatusUnauthorized, "operator token required", "unauthorized")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(cfg.Token)) != 1 {
				cfg.Logger.Warn("invalid operator token",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
				)
				writeJSONError(w, http.StatusForbidden, "invalid operator token", "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderToken))
}

// =============================================================================
// JSON Error Response
// =============================================================================

// ErrorResponse is the error body shared with the API handlers.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}
