package sessions_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessions "github.com/goliatone/go-sessions"
)

type gateFixture struct {
	w      *world
	gate   *sessions.Gate
	tokens sessions.TokenService
}

func newGateFixture() *gateFixture {
	w := newWorld()
	tokens := newTestTokenService()
	gate := sessions.NewGate(tokens, w.identities, w.memberships, w.sessions).
		WithLogger(silentLogger{}).
		WithClock(w.clock())
	return &gateFixture{w: w, gate: gate, tokens: tokens}
}

// mint issues an access credential with a live expiry regardless of the
// fixture's frozen clock; the gate checks session liveness on its own clock.
func (f *gateFixture) mint(t *testing.T, identity *sessions.Identity, role sessions.Role, session *sessions.Session) string {
	t.Helper()
	raw, _, err := f.tokens.MintAccessToken(identity.ID, role, session.ID, time.Time{})
	require.NoError(t, err)
	return raw
}

func TestGateAdmitsValidCredential(t *testing.T) {
	f := newGateFixture()
	identity := f.w.addIdentity("gate@example.com", "active", true)
	f.w.memberships.add(identity.ID, sessions.RoleMember)
	session := f.w.addSession(identity.ID, sessions.RoleMember, time.Hour)

	raw := f.mint(t, identity, sessions.RoleMember, session)

	admission, err := f.gate.Admit(context.Background(), raw, sessions.RoleMember)
	require.NoError(t, err)
	require.NotNil(t, admission)
	assert.Equal(t, identity.ID, admission.IdentityID)
	assert.Equal(t, sessions.RoleMember, admission.Role)
	assert.Equal(t, session.ID, admission.SessionID)
}

func TestGateRejectsMissingAndMalformedCredentials(t *testing.T) {
	f := newGateFixture()

	_, err := f.gate.Admit(context.Background(), "", sessions.RoleMember)
	require.Error(t, err)
	assert.True(t, sessions.IsUnauthenticated(err))

	_, err = f.gate.Admit(context.Background(), "not-a-jwt", sessions.RoleMember)
	require.Error(t, err)
	assert.True(t, sessions.IsUnauthenticated(err))
}

func TestGateRejectsForeignSignature(t *testing.T) {
	f := newGateFixture()
	identity := f.w.addIdentity("forged@example.com", "active", true)
	f.w.memberships.add(identity.ID, sessions.RoleMember)
	session := f.w.addSession(identity.ID, sessions.RoleMember, time.Hour)

	forger := sessions.NewTokenService(
		[]byte("a-completely-different-key-here!"),
		15*time.Minute,
		"test-issuer",
		nil,
		silentLogger{},
	)
	raw, _, err := forger.MintAccessToken(identity.ID, sessions.RoleMember, session.ID, time.Time{})
	require.NoError(t, err)

	_, err = f.gate.Admit(context.Background(), raw, sessions.RoleMember)
	require.Error(t, err)
	assert.True(t, sessions.IsUnauthenticated(err))
}

func TestGateRejectsWrongRole(t *testing.T) {
	f := newGateFixture()
	identity := f.w.addIdentity("role@example.com", "active", true)
	f.w.memberships.add(identity.ID, sessions.RoleMember)
	session := f.w.addSession(identity.ID, sessions.RoleMember, time.Hour)

	raw := f.mint(t, identity, sessions.RoleMember, session)

	// exact match only; member does not pass an admin gate and a privileged
	// credential does not pass a member gate either
	_, err := f.gate.Admit(context.Background(), raw, sessions.RoleAdmin)
	require.Error(t, err)
	assert.True(t, sessions.IsWrongRole(err))
}

func TestGateRejectsRevokedMembership(t *testing.T) {
	f := newGateFixture()
	identity := f.w.addIdentity("revoked@example.com", "active", true)
	membership := f.w.memberships.add(identity.ID, sessions.RoleMember)
	session := f.w.addSession(identity.ID, sessions.RoleMember, time.Hour)

	raw := f.mint(t, identity, sessions.RoleMember, session)

	require.NoError(t, f.w.memberships.RevokeMembership(context.Background(), membership.ID, f.w.now))

	// revocation takes effect on the very next request
	_, err := f.gate.Admit(context.Background(), raw, sessions.RoleMember)
	require.Error(t, err)
	assert.True(t, sessions.IsNotEnrolled(err))
}

func TestGateRejectsUnverifiedPrivilegedRole(t *testing.T) {
	f := newGateFixture()
	identity := f.w.addIdentity("unverified@example.com", "active", false)
	f.w.memberships.add(identity.ID, sessions.RoleAdmin)
	session := f.w.addSession(identity.ID, sessions.RoleAdmin, time.Hour)

	raw := f.mint(t, identity, sessions.RoleAdmin, session)

	_, err := f.gate.Admit(context.Background(), raw, sessions.RoleAdmin)
	require.Error(t, err)
	assert.True(t, sessions.IsNotEnrolled(err))

	// member role has no verification requirement
	f.w.memberships.add(identity.ID, sessions.RoleMember)
	memberSession := f.w.addSession(identity.ID, sessions.RoleMember, time.Hour)
	memberRaw := f.mint(t, identity, sessions.RoleMember, memberSession)

	_, err = f.gate.Admit(context.Background(), memberRaw, sessions.RoleMember)
	require.NoError(t, err)
}

func TestGateRejectsIneligibleIdentity(t *testing.T) {
	f := newGateFixture()
	identity := f.w.addIdentity("deactivated@example.com", "active", true)
	f.w.memberships.add(identity.ID, sessions.RoleMember)
	session := f.w.addSession(identity.ID, sessions.RoleMember, time.Hour)

	raw := f.mint(t, identity, sessions.RoleMember, session)

	identity.Status = "deactivated"
	f.w.identities.add(identity)

	_, err := f.gate.Admit(context.Background(), raw, sessions.RoleMember)
	require.Error(t, err)
	assert.True(t, sessions.IsNotEnrolled(err))
}

func TestGateRejectsDeadSession(t *testing.T) {
	f := newGateFixture()
	identity := f.w.addIdentity("session@example.com", "active", true)
	f.w.memberships.add(identity.ID, sessions.RoleMember)
	session := f.w.addSession(identity.ID, sessions.RoleMember, time.Hour)

	raw := f.mint(t, identity, sessions.RoleMember, session)

	require.NoError(t, f.w.sessions.RevokeTx(context.Background(), nil, session.ID, f.w.now, "logout"))

	_, err := f.gate.Admit(context.Background(), raw, sessions.RoleMember)
	require.Error(t, err)
	assert.True(t, sessions.IsUnauthenticated(err))
}

func TestGateRejectsSessionOwnerMismatch(t *testing.T) {
	f := newGateFixture()
	identity := f.w.addIdentity("owner@example.com", "active", true)
	other := f.w.addIdentity("other@example.com", "active", true)
	f.w.memberships.add(identity.ID, sessions.RoleMember)
	foreign := f.w.addSession(other.ID, sessions.RoleMember, time.Hour)

	raw := f.mint(t, identity, sessions.RoleMember, foreign)

	_, err := f.gate.Admit(context.Background(), raw, sessions.RoleMember)
	require.Error(t, err)
	assert.True(t, sessions.IsUnauthenticated(err))
}

func TestGateRejectsBadClaims(t *testing.T) {
	f := newGateFixture()

	signer := newTestTokenService()

	expires := jwt.NewNumericDate(time.Now().Add(10 * time.Minute))

	badSubject, err := signer.SignClaims(&sessions.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "test-issuer", Subject: "nope", ExpiresAt: expires},
		UserRole:         string(sessions.RoleMember),
		SID:              "9e5efc33-9c0b-4f0e-8f4c-111111111111",
	})
	require.NoError(t, err)

	_, err = f.gate.Admit(context.Background(), badSubject, sessions.RoleMember)
	require.Error(t, err)
	assert.True(t, sessions.IsUnauthenticated(err))

	badRole, err := signer.SignClaims(&sessions.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "test-issuer", Subject: "9e5efc33-9c0b-4f0e-8f4c-222222222222", ExpiresAt: expires},
		UserRole:         "superuser",
		SID:              "9e5efc33-9c0b-4f0e-8f4c-111111111111",
	})
	require.NoError(t, err)

	_, err = f.gate.Admit(context.Background(), badRole, sessions.RoleMember)
	require.Error(t, err)
	assert.True(t, sessions.IsUnauthenticated(err))

	badSession, err := signer.SignClaims(&sessions.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "test-issuer", Subject: "9e5efc33-9c0b-4f0e-8f4c-222222222222", ExpiresAt: expires},
		UserRole:         string(sessions.RoleMember),
		SID:              "not-a-session",
	})
	require.NoError(t, err)

	_, err = f.gate.Admit(context.Background(), badSession, sessions.RoleMember)
	require.Error(t, err)
	assert.True(t, sessions.IsUnauthenticated(err))
}

func TestGateAcceptsLegacyRoleAlias(t *testing.T) {
	f := newGateFixture()
	identity := f.w.addIdentity("legacy@example.com", "active", true)
	f.w.memberships.add(identity.ID, sessions.RoleMember)
	session := f.w.addSession(identity.ID, sessions.RoleMember, time.Hour)

	signer := newTestTokenService()

	raw, err := signer.SignClaims(&sessions.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			Subject:   identity.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		},
		UserRole: "todoUser",
		SID:      session.ID.String(),
	})
	require.NoError(t, err)

	admission, err := f.gate.Admit(context.Background(), raw, sessions.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, sessions.RoleMember, admission.Role)
}
