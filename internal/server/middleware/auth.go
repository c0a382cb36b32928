package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/parkdeck/parkdeck/internal/service"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Authenticate returns an HTTP middleware that gates every protected request
// behind a bearer session token. On success the verified principal is
// attached to the request context.
//
// Failures are classified for the caller: a missing or non-bearer
// Authorization header, an expired token, and a structurally invalid token
// each get their own message, all as 401. The check is stateless — the
// account's session list is never consulted.
func Authenticate(auth *service.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				writeAuthError(w, "Authentication required. Provide an Authorization: Bearer <token> header.")
				return
			}

			principal, err := auth.VerifyToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				if errors.Is(err, service.ErrTokenExpired) {
					writeAuthError(w, "Session expired, please log in again.")
				} else {
					writeAuthError(w, "Invalid authentication token.")
				}
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	// Manually construct JSON to avoid an import cycle with the handler package.
	w.Write([]byte(`{"success":false,"message":"` + message + `"}`))
}
