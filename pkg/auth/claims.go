// Package auth classifies incoming requests into telemetry principals.
// Requests without credentials are anonymous submitters; requests bearing a
// JWT with the admin role are privileged operators. Tokens are validated
// against JWKS endpoints of whitelisted issuers.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims represents the JWT claims accepted by the engine. It embeds
// RegisteredClaims for standard JWT fields (sub, iss, exp, etc.) and adds the
// roles claim that carries the operator role.
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"` // Operator email address
	Roles []string `json:"roles,omitempty"` // Granted roles
}

// HasRole reports whether the claims carry the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}
