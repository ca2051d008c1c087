package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default lifetimes for the two token types. Remember-me sessions use the
// longer pair.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	RememberAccessTokenTTL  = 7 * 24 * time.Hour
	RememberRefreshTokenTTL = 30 * 24 * time.Hour
)

// TokenType distinguishes access from refresh tokens. Both are signed the
// same way, so callers must check it.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the flat claim set carried by every token we issue. Refresh
// tokens only populate the subject, session and type.
type Claims struct {
	jwt.RegisteredClaims

	Email         string   `json:"email,omitempty"`
	Name          string   `json:"name,omitempty"`
	Role          string   `json:"role,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	InstitutionID string   `json:"institution_id,omitempty"`

	// Session ID, stable across refresh rotations.
	SID string `json:"sid,omitempty"`

	Type TokenType `json:"type"`
}

// HasPermission reports whether the token grants perm.
func (c *Claims) HasPermission(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

// ExpiresAtTime returns the exp claim or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// validate checks the custom claims the generic parser knows nothing about.
func (c *Claims) validate() error {
	if c.Subject == "" {
		return ErrInvalidClaim
	}
	switch c.Type {
	case TokenTypeAccess, TokenTypeRefresh:
	default:
		return ErrInvalidClaim
	}
	return nil
}
