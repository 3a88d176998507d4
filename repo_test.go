package sessions_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	sessions "github.com/goliatone/go-sessions"
)

type repoFixture struct {
	db   *bun.DB
	repo sessions.RepositoryManager
}

func setupRepos(t *testing.T) *repoFixture {
	t.Helper()
	db := setupDB(t)
	return &repoFixture{db: db, repo: sessions.NewRepositoryManager(db)}
}

func (f *repoFixture) createIdentity(t *testing.T, email string) *sessions.Identity {
	t.Helper()
	identity, err := f.repo.Identities().Create(context.Background(), &sessions.Identity{
		Email:          email,
		CredentialHash: "hash",
	})
	require.NoError(t, err)
	return identity
}

func (f *repoFixture) createSession(t *testing.T, identityID uuid.UUID, ttl time.Duration) *sessions.Session {
	t.Helper()
	now := time.Now().UTC()
	session, err := f.repo.Sessions().Create(context.Background(), &sessions.Session{
		IdentityID: identityID,
		Role:       sessions.RoleMember,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	})
	require.NoError(t, err)
	return session
}

func (f *repoFixture) createToken(t *testing.T, sessionID uuid.UUID, digest string, ttl time.Duration) *sessions.RefreshToken {
	t.Helper()
	now := time.Now().UTC()
	token, err := f.repo.RefreshTokens().InsertTx(context.Background(), f.db, &sessions.RefreshToken{
		SessionID: sessionID,
		Digest:    digest,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	require.NoError(t, err)
	return token
}

func TestIdentitiesRepository(t *testing.T) {
	f := setupRepos(t)
	ctx := context.Background()

	identity := f.createIdentity(t, "repo@example.com")
	assert.NotEqual(t, uuid.Nil, identity.ID)
	assert.Equal(t, sessions.IdentityStatusActive, identity.Status)

	byEmail, err := f.repo.Identities().GetByEmail(ctx, "repo@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, identity.ID, byEmail.ID)

	missing, err := f.repo.Identities().GetByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	byID, err := f.repo.Identities().GetIdentity(ctx, identity.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "repo@example.com", byID.Email)

	none, err := f.repo.Identities().GetIdentity(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, f.repo.Identities().UpdateCredential(ctx, identity.ID, "new-hash"))
	updated, err := f.repo.Identities().GetIdentity(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", updated.CredentialHash)

	err = f.repo.Identities().UpdateCredential(ctx, uuid.New(), "x")
	require.Error(t, err)

	verified, err := f.repo.Identities().SetEmailVerified(ctx, identity.ID, true)
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified)

	deactivated, err := f.repo.Identities().UpdateStatus(ctx, identity.ID, sessions.IdentityStatusDeactivated)
	require.NoError(t, err)
	assert.Equal(t, sessions.IdentityStatusDeactivated, deactivated.Status)
	assert.False(t, deactivated.Eligible())
}

func TestIdentitiesUniqueEmail(t *testing.T) {
	f := setupRepos(t)
	f.createIdentity(t, "dup@example.com")

	_, err := f.repo.Identities().Create(context.Background(), &sessions.Identity{
		Email:          "dup@example.com",
		CredentialHash: "other",
	})
	require.Error(t, err)
}

func TestMembershipsRepository(t *testing.T) {
	f := setupRepos(t)
	ctx := context.Background()
	identity := f.createIdentity(t, "member@example.com")

	granted, err := f.repo.Memberships().Grant(ctx, &sessions.RoleMembership{
		IdentityID: identity.ID,
		Role:       sessions.RoleMember,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, granted.ID)

	active, err := f.repo.Memberships().GetMembership(ctx, identity.ID, sessions.RoleMember)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, granted.ID, active.ID)

	// no membership for a different role
	noAdmin, err := f.repo.Memberships().GetMembership(ctx, identity.ID, sessions.RoleAdmin)
	require.NoError(t, err)
	assert.Nil(t, noAdmin)

	require.NoError(t, f.repo.Memberships().RevokeMembership(ctx, granted.ID, time.Now().UTC()))

	gone, err := f.repo.Memberships().GetMembership(ctx, identity.ID, sessions.RoleMember)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// re-enrollment creates a fresh row; the revoked one stays for audit
	regrant, err := f.repo.Memberships().Grant(ctx, &sessions.RoleMembership{
		IdentityID: identity.ID,
		Role:       sessions.RoleMember,
	})
	require.NoError(t, err)
	assert.NotEqual(t, granted.ID, regrant.ID)

	all, err := f.repo.Memberships().ListByIdentity(ctx, identity.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// purge soft-deletes; listing no longer sees the row
	require.NoError(t, f.repo.Memberships().Purge(ctx, regrant.ID))
	after, err := f.repo.Memberships().ListByIdentity(ctx, identity.ID)
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestSessionsRepository(t *testing.T) {
	f := setupRepos(t)
	ctx := context.Background()
	identity := f.createIdentity(t, "sess@example.com")

	session := f.createSession(t, identity.ID, time.Hour)
	assert.NotEqual(t, uuid.Nil, session.ID)

	got, err := f.repo.Sessions().GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, identity.ID, got.IdentityID)

	missing, err := f.repo.Sessions().GetSession(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	// extend expiry while live
	now := time.Now().UTC()
	newExpiry := now.Add(3 * time.Hour)
	require.NoError(t, f.repo.Sessions().TouchTx(ctx, f.db, session.ID, newExpiry, now))

	touched, err := f.repo.Sessions().GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, newExpiry, touched.ExpiresAt, time.Second)

	// revoke, then touching fails and revoking again is a no-op
	require.NoError(t, f.repo.Sessions().RevokeTx(ctx, f.db, session.ID, now, "logout"))

	err = f.repo.Sessions().TouchTx(ctx, f.db, session.ID, now.Add(4*time.Hour), now)
	require.Error(t, err)

	require.NoError(t, f.repo.Sessions().RevokeTx(ctx, f.db, session.ID, now.Add(time.Minute), "again"))

	revoked, err := f.repo.Sessions().GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, "logout", revoked.RevokedReason)
}

func TestSessionsListLive(t *testing.T) {
	f := setupRepos(t)
	ctx := context.Background()
	identity := f.createIdentity(t, "list@example.com")

	now := time.Now().UTC()

	oldest, err := f.repo.Sessions().Create(ctx, &sessions.Session{
		IdentityID: identity.ID,
		Role:       sessions.RoleMember,
		IssuedAt:   now.Add(-time.Hour),
		ExpiresAt:  now.Add(time.Hour),
	})
	require.NoError(t, err)

	newest := f.createSession(t, identity.ID, time.Hour)

	// expired and revoked sessions are filtered
	f.createSession(t, identity.ID, -time.Minute)
	dead := f.createSession(t, identity.ID, time.Hour)
	require.NoError(t, f.repo.Sessions().RevokeTx(ctx, f.db, dead.ID, now, "logout"))

	live, err := f.repo.Sessions().ListLive(ctx, identity.ID, now)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, oldest.ID, live[0].ID)
	assert.Equal(t, newest.ID, live[1].ID)
}

func TestRefreshTokensRepository(t *testing.T) {
	f := setupRepos(t)
	ctx := context.Background()
	identity := f.createIdentity(t, "tokens@example.com")
	session := f.createSession(t, identity.ID, time.Hour)

	root := f.createToken(t, session.ID, "digest-root", time.Hour)

	// digest collision maps to the conflict taxonomy
	_, err := f.repo.RefreshTokens().InsertTx(ctx, f.db, &sessions.RefreshToken{
		SessionID: session.ID,
		Digest:    "digest-root",
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	require.Error(t, err)
	assert.True(t, sessions.IsTokenConflict(err))

	found, err := f.repo.RefreshTokens().GetByDigest(ctx, "digest-root")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, root.ID, found.ID)

	missing, err := f.repo.RefreshTokens().GetByDigest(ctx, "no-such-digest")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// the consume compare-and-set has exactly one winner
	now := time.Now().UTC()
	won, err := f.repo.RefreshTokens().ConsumeTx(ctx, f.db, root.ID, now)
	require.NoError(t, err)
	assert.True(t, won)

	again, err := f.repo.RefreshTokens().ConsumeTx(ctx, f.db, root.ID, now)
	require.NoError(t, err)
	assert.False(t, again)

	consumed, err := f.repo.RefreshTokens().GetByDigest(ctx, "digest-root")
	require.NoError(t, err)
	require.NotNil(t, consumed.RotatedAt)
}

func TestRevokeRedeemableBySession(t *testing.T) {
	f := setupRepos(t)
	ctx := context.Background()
	identity := f.createIdentity(t, "sweep@example.com")
	session := f.createSession(t, identity.ID, time.Hour)

	redeemable := f.createToken(t, session.ID, "sweep-live", time.Hour)
	rotated := f.createToken(t, session.ID, "sweep-rotated", time.Hour)
	f.createToken(t, session.ID, "sweep-expired", -time.Minute)

	now := time.Now().UTC()
	_, err := f.repo.RefreshTokens().ConsumeTx(ctx, f.db, rotated.ID, now)
	require.NoError(t, err)

	count, err := f.repo.RefreshTokens().RevokeRedeemableBySessionTx(ctx, f.db, session.ID, now, "logout")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	swept, err := f.repo.RefreshTokens().GetByDigest(ctx, "sweep-live")
	require.NoError(t, err)
	require.NotNil(t, swept.RevokedAt)
	assert.Equal(t, "logout", swept.RevokedReason)
	assert.Equal(t, redeemable.ID, swept.ID)

	// second sweep finds nothing
	count, err = f.repo.RefreshTokens().RevokeRedeemableBySessionTx(ctx, f.db, session.ID, now, "logout")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestChainBySessionOrdersOldestFirst(t *testing.T) {
	f := setupRepos(t)
	ctx := context.Background()
	identity := f.createIdentity(t, "chain@example.com")
	session := f.createSession(t, identity.ID, time.Hour)

	base := time.Now().UTC().Add(-time.Hour)
	var parentID *uuid.UUID
	for i := 0; i < 3; i++ {
		token, err := f.repo.RefreshTokens().InsertTx(ctx, f.db, &sessions.RefreshToken{
			SessionID: session.ID,
			ParentID:  parentID,
			Digest:    uuid.NewString(),
			IssuedAt:  base.Add(time.Duration(i) * time.Minute),
			ExpiresAt: base.Add(24 * time.Hour),
		})
		require.NoError(t, err)
		id := token.ID
		parentID = &id
	}

	chain, err := f.repo.RefreshTokens().ChainBySession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)

	assert.True(t, chain[0].IsRoot())
	for i := 1; i < len(chain); i++ {
		require.NotNil(t, chain[i].ParentID)
		assert.Equal(t, chain[i-1].ID, *chain[i].ParentID)
		assert.True(t, !chain[i].IssuedAt.Before(chain[i-1].IssuedAt))
	}
}

func TestSessionRevocationsRepository(t *testing.T) {
	f := setupRepos(t)
	ctx := context.Background()
	identity := f.createIdentity(t, "shadow@example.com")
	session := f.createSession(t, identity.ID, time.Hour)

	now := time.Now().UTC()
	first := &sessions.SessionRevocation{
		ID:        uuid.New(),
		SessionID: session.ID,
		RevokedAt: now,
		RevokedBy: "identity:" + identity.ID.String(),
		Reason:    "logout",
	}
	require.NoError(t, f.repo.SessionRevocations().UpsertTx(ctx, f.db, first))

	// re-applying keeps the original record
	second := &sessions.SessionRevocation{
		ID:        uuid.New(),
		SessionID: session.ID,
		RevokedAt: now.Add(time.Hour),
		RevokedBy: "system",
		Reason:    "other",
	}
	require.NoError(t, f.repo.SessionRevocations().UpsertTx(ctx, f.db, second))

	shadow, err := f.repo.SessionRevocations().GetBySession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, shadow)
	assert.Equal(t, first.ID, shadow.ID)
	assert.Equal(t, "logout", shadow.Reason)

	none, err := f.repo.SessionRevocations().GetBySession(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)
}
