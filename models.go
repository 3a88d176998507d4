package sessions

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IdentityStatus is the account status of a top-level identity.
type IdentityStatus = string

const (
	// IdentityStatusActive is the normal, serviceable state.
	IdentityStatusActive IdentityStatus = "active"
	// IdentityStatusDeactivated blocks logins and rotations but keeps the row.
	IdentityStatusDeactivated IdentityStatus = "deactivated"
	// IdentityStatusDeleted marks a retired account; rows are never hard-deleted.
	IdentityStatusDeleted IdentityStatus = "deleted"
)

// Identity is the top-level account record every role membership references.
type Identity struct {
	bun.BaseModel  `bun:"table:identities,alias:idn"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email          string         `bun:"email,notnull,unique" json:"email,omitempty"`
	Status         IdentityStatus `bun:"status,notnull" json:"status,omitempty"`
	EmailVerified  bool           `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	CredentialHash string         `bun:"credential_hash" json:"-"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus defaults an unset status to active.
func (i *Identity) EnsureStatus() {
	if i.Status == "" {
		i.Status = IdentityStatusActive
	}
}

// Eligible reports whether the identity can own live sessions and rotations.
func (i *Identity) Eligible() bool {
	if i == nil {
		return false
	}
	return i.Status == IdentityStatusActive && i.DeletedAt == nil
}

// RoleMembership is a revocable grant of one role to one identity. The legacy
// system kept one table per role with identical shape; the role discriminator
// column collapses those into a single registry.
type RoleMembership struct {
	bun.BaseModel `bun:"table:role_memberships,alias:rm"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityID    uuid.UUID  `bun:"identity_id,notnull,type:uuid" json:"identity_id,omitempty"`
	Identity      *Identity  `bun:"rel:belongs-to,join:identity_id=id" json:"identity,omitempty"`
	Role          Role       `bun:"role,notnull" json:"role,omitempty"`
	GrantedAt     *time.Time `bun:"granted_at,nullzero,default:current_timestamp" json:"granted_at,omitempty"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Active reports the row-level half of the effectiveness invariant: neither
// revoked nor purged. Identity status and email verification are checked by
// MembershipEffective, which has the identity row in hand.
func (m *RoleMembership) Active() bool {
	if m == nil {
		return false
	}
	return m.RevokedAt == nil && m.DeletedAt == nil
}

// MembershipEffective applies the full effectiveness invariant: the membership
// row is active, the identity is eligible, and privileged roles additionally
// require a verified email.
func MembershipEffective(m *RoleMembership, identity *Identity) bool {
	if !m.Active() || !identity.Eligible() {
		return false
	}
	if m.Role.Privileged() && !identity.EmailVerified {
		return false
	}
	return true
}

// ClientMeta captures request metadata at session issuance. It is recorded
// once and never updated.
type ClientMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Session is one authenticated context, bounded by expiry and revocation.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityID    uuid.UUID  `bun:"identity_id,notnull,type:uuid" json:"identity_id,omitempty"`
	Identity      *Identity  `bun:"rel:belongs-to,join:identity_id=id" json:"identity,omitempty"`
	Role          Role       `bun:"role,notnull" json:"role,omitempty"`
	IssuedAt      time.Time  `bun:"issued_at,notnull" json:"issued_at,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	RevokedReason string     `bun:"revoked_reason,nullzero" json:"revoked_reason,omitempty"`
	IP            string     `bun:"ip_address,nullzero" json:"ip_address,omitempty"`
	UserAgent     string     `bun:"user_agent,nullzero" json:"user_agent,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Live reports whether the session admits rotations and gate checks at now.
func (s *Session) Live(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// RefreshToken is one link in a session's rotation chain. Only the SHA-256
// digest of the opaque value is stored; the raw secret is returned to the
// caller once at issuance and never persisted.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	SessionID     uuid.UUID  `bun:"session_id,notnull,type:uuid" json:"session_id,omitempty"`
	Session       *Session   `bun:"rel:belongs-to,join:session_id=id" json:"session,omitempty"`
	ParentID      *uuid.UUID `bun:"parent_id,nullzero,type:uuid" json:"parent_id,omitempty"`
	Digest        string     `bun:"token_digest,notnull,unique" json:"-"`
	IssuedAt      time.Time  `bun:"issued_at,notnull" json:"issued_at,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	RotatedAt     *time.Time `bun:"rotated_at,nullzero" json:"rotated_at,omitempty"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	RevokedReason string     `bun:"revoked_reason,nullzero" json:"revoked_reason,omitempty"`
}

// Redeemable reports whether the token can still win a rotation at now. The
// owning session's liveness is checked separately since it needs another row.
func (t *RefreshToken) Redeemable(now time.Time) bool {
	if t == nil {
		return false
	}
	return t.RotatedAt == nil && t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// IsRoot reports whether this token is the chain root created at session start.
func (t *RefreshToken) IsRoot() bool {
	return t != nil && t.ParentID == nil
}

// SessionRevocation is the 1:1 audit shadow of a revoked session. The unique
// session id makes the cascade's upsert idempotent.
type SessionRevocation struct {
	bun.BaseModel `bun:"table:session_revocations,alias:srv"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	SessionID     uuid.UUID `bun:"session_id,notnull,unique,type:uuid" json:"session_id,omitempty"`
	RevokedAt     time.Time `bun:"revoked_at,notnull" json:"revoked_at,omitempty"`
	RevokedBy     string    `bun:"revoked_by,notnull" json:"revoked_by,omitempty"`
	Reason        string    `bun:"reason,notnull" json:"reason,omitempty"`
}

// PasswordResetStatus tracks the lifecycle of a reset request.
type PasswordResetStatus = string

const (
	// ResetRequestedStatus is the initial state after a reset is requested.
	ResetRequestedStatus PasswordResetStatus = "requested"
	// ResetChangedStatus marks a consumed reset.
	ResetChangedStatus PasswordResetStatus = "changed"
	// ResetExpiredStatus marks a reset that aged out before use.
	ResetExpiredStatus PasswordResetStatus = "expired"
)

// PasswordReset records one reset request; its id doubles as the emailed token.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_resets,alias:pwdr"`
	ID            uuid.UUID           `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityID    *uuid.UUID          `bun:"identity_id,notnull,type:uuid" json:"identity_id,omitempty"`
	Identity      *Identity           `bun:"rel:belongs-to,join:identity_id=id" json:"identity,omitempty"`
	Status        PasswordResetStatus `bun:"status,notnull" json:"status,omitempty"`
	Email         string              `bun:"email,notnull" json:"email,omitempty"`
	ResetedAt     *time.Time          `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	CreatedAt     *time.Time          `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time          `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time          `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// MarkPasswordAsReseted builds the update record that consumes a reset.
func MarkPasswordAsReseted(id uuid.UUID) *PasswordReset {
	r := &PasswordReset{}
	r.ID = id
	r.Status = ResetChangedStatus
	n := time.Now()
	r.ResetedAt = &n
	return r
}
