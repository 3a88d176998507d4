package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Logger is the minimal printf-style logger the package depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds token and session lifecycle options.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTTL() time.Duration
	GetRefreshTTL() time.Duration
	GetSessionTTL() time.Duration
}

// IdentityStore is the minimal identity access the lifecycle components need.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id uuid.UUID) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	UpdateCredential(ctx context.Context, id uuid.UUID, credentialHash string) error
	UpdateCredentialTx(ctx context.Context, tx bun.IDB, id uuid.UUID, credentialHash string) error
}

// MembershipStore is the role membership registry surface.
type MembershipStore interface {
	// GetMembership returns the active (not revoked, not purged) membership
	// row for the identity and role, or nil when none exists.
	GetMembership(ctx context.Context, identityID uuid.UUID, role Role) (*RoleMembership, error)
	Grant(ctx context.Context, m *RoleMembership) (*RoleMembership, error)
	RevokeMembership(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SessionStore persists sessions. Mutations happen only through Touch and
// Revoke; there is no delete.
type SessionStore interface {
	Create(ctx context.Context, s *Session) (*Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	ListLive(ctx context.Context, identityID uuid.UUID, now time.Time) ([]*Session, error)
	// TouchTx extends expiry iff the session is still live at now.
	TouchTx(ctx context.Context, tx bun.IDB, id uuid.UUID, expiresAt, now time.Time) error
	RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time, reason string) error
}

// RefreshTokenStore persists the rotation chain.
type RefreshTokenStore interface {
	InsertTx(ctx context.Context, tx bun.IDB, t *RefreshToken) (*RefreshToken, error)
	GetByDigest(ctx context.Context, digest string) (*RefreshToken, error)
	// ConsumeTx sets rotated_at keyed on "rotated_at IS NULL AND revoked_at IS
	// NULL". It reports false when another rotation already won.
	ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (bool, error)
	// RevokeRedeemableBySessionTx revokes every token under the session that
	// is not already rotated, revoked, or expired. Returns the affected count.
	RevokeRedeemableBySessionTx(ctx context.Context, tx bun.IDB, sessionID uuid.UUID, at time.Time, reason string) (int64, error)
	ChainBySession(ctx context.Context, sessionID uuid.UUID) ([]*RefreshToken, error)
}

// RevocationStore persists the audit shadow rows written by the cascade.
type RevocationStore interface {
	// UpsertTx writes the session's revocation record keyed by session id;
	// re-applying identical values is a no-op.
	UpsertTx(ctx context.Context, tx bun.IDB, rec *SessionRevocation) error
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*SessionRevocation, error)
}

// TransactionManager runs a function inside one storage transaction.
type TransactionManager interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
}

// TokenService signs and validates the short-lived access credential.
type TokenService interface {
	MintAccessToken(identityID uuid.UUID, role Role, sessionID uuid.UUID, issuedAt time.Time) (string, time.Time, error)
	SignClaims(claims *JWTClaims) (string, error)
	Validate(tokenString string) (AuthClaims, error)
}

// TokenPair is the credential pair handed to clients at login and rotation.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSIONS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSIONS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSIONS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSIONS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
