// Package identity authenticates API callers and answers ownership checks.
// Tokens are JWTs signed with an HMAC secret; validation results are cached
// for a short TTL so hot callers do not pay signature verification on every
// request.
package identity

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role is the caller's authorization level.
type Role string

const (
	// RoleUser may operate on documents it owns.
	RoleUser Role = "user"
	// RoleAdmin may operate on any document.
	RoleAdmin Role = "admin"
	// RoleService is a machine principal with admin-level document access,
	// used by internal pipelines.
	RoleService Role = "service"
)

// Claims represents the JWT claims carried by access tokens.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the unique identifier for the principal.
	UserID string `json:"uid"`

	// Email is the principal's email address, when known.
	Email string `json:"email,omitempty"`

	// Role is the principal's role ("user", "admin", or "service").
	Role string `json:"role"`

	// Scopes restricts what the token may do. Empty means unrestricted
	// within the role.
	Scopes []string `json:"scopes,omitempty"`
}

// Principal is an authenticated caller.
type Principal struct {
	UserID string
	Email  string
	Role   Role
	Scopes []string
}

// IsAdmin reports whether the principal has unrestricted document access.
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleService
}

// CanAccessDocument reports whether the principal may operate on a document
// owned by ownerID. Owners and admins qualify.
func (p *Principal) CanAccessDocument(ownerID string) bool {
	if p == nil {
		return false
	}
	return p.IsAdmin() || p.UserID == ownerID
}
