package sessions

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthClaims is the verified view of an access credential. It carries exactly
// what the gate needs: the subject identity, the role claim, and the session
// the credential was minted under.
type AuthClaims interface {
	Subject() string
	IdentityID() (uuid.UUID, error)
	Role() string
	SessionID() string
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid,omitempty"`
	UserRole string `json:"role,omitempty"`
	SID      string `json:"sid,omitempty"`
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// IdentityID parses the subject as the top-level identity id.
func (c *JWTClaims) IdentityID() (uuid.UUID, error) {
	if c.UID != "" {
		return uuid.Parse(c.UID)
	}
	return uuid.Parse(c.RegisteredClaims.Subject)
}

// Role returns the role discriminator claim as issued. Use ParseRole to map
// it onto the closed enumeration.
func (c *JWTClaims) Role() string {
	return c.UserRole
}

// SessionID returns the owning session id claim.
func (c *JWTClaims) SessionID() string {
	return c.SID
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
