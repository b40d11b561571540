// Package middleware provides HTTP middleware for the document service API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/insurecove/document-service/pkg/identity"
)

// Context key type for storing the authenticated principal
type contextKey string

const principalContextKey contextKey = "principal"

// PrincipalFromContext retrieves the authenticated principal from the
// request context. Returns nil if no principal is present.
//
// This function should only be called within handler code that runs after
// the BearerAuth middleware has processed the request.
func PrincipalFromContext(ctx context.Context) *identity.Principal {
	p, ok := ctx.Value(principalContextKey).(*identity.Principal)
	if !ok {
		return nil
	}
	return p
}

// WithPrincipal stores a principal in the context. Exposed for handler
// tests that bypass the middleware.
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// extractBearerToken extracts the token from a Bearer Authorization header.
// Returns the token string and true if successful, or empty string and false if not.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	return parts[1], true
}

// BearerAuth validates Bearer tokens in the Authorization header.
// If valid, the principal is stored in the request context.
// If invalid or missing, returns 401 Unauthorized.
func BearerAuth(validator *identity.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r)
			if !ok {
				unauthorized(w, "Authorization header required")
				return
			}

			principal, err := validator.Validate(r.Context(), tokenString)
			if err != nil {
				unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin blocks principals without the admin or service role.
// Must be used after BearerAuth middleware.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				unauthorized(w, "Authentication required")
				return
			}

			if !p.IsAdmin() {
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"title":"Forbidden","status":403,"detail":"Admin access required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="docsvc"`)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"title":"Unauthorized","status":401,"detail":"` + detail + `"}`))
}
