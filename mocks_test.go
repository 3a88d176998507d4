package sessions_test

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	sessions "github.com/goliatone/go-sessions"
)

// memIdentities is an in-memory IdentityStore.
type memIdentities struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*sessions.Identity
}

func newMemIdentities() *memIdentities {
	return &memIdentities{rows: map[uuid.UUID]*sessions.Identity{}}
}

func (m *memIdentities) add(i *sessions.Identity) *sessions.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	cp := *i
	m.rows[i.ID] = &cp
	return i
}

func (m *memIdentities) GetIdentity(_ context.Context, id uuid.UUID) (*sessions.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *memIdentities) GetByEmail(_ context.Context, email string) (*sessions.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Email == email && row.DeletedAt == nil {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memIdentities) UpdateCredential(ctx context.Context, id uuid.UUID, hash string) error {
	return m.UpdateCredentialTx(ctx, bun.Tx{}, id, hash)
}

func (m *memIdentities) UpdateCredentialTx(_ context.Context, _ bun.IDB, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return sessions.ErrSessionNotFound
	}
	row.CredentialHash = hash
	return nil
}

// memMemberships is an in-memory MembershipStore.
type memMemberships struct {
	mu   sync.Mutex
	rows []*sessions.RoleMembership
}

func newMemMemberships() *memMemberships {
	return &memMemberships{}
}

func (m *memMemberships) add(identityID uuid.UUID, role sessions.Role) *sessions.RoleMembership {
	row := &sessions.RoleMembership{
		ID:         uuid.New(),
		IdentityID: identityID,
		Role:       role,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
	return row
}

func (m *memMemberships) GetMembership(_ context.Context, identityID uuid.UUID, role sessions.Role) (*sessions.RoleMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.IdentityID == identityID && row.Role == role && row.RevokedAt == nil && row.DeletedAt == nil {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memMemberships) Grant(_ context.Context, grant *sessions.RoleMembership) (*sessions.RoleMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	cp := *grant
	m.rows = append(m.rows, &cp)
	return grant, nil
}

func (m *memMemberships) RevokeMembership(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id && row.RevokedAt == nil {
			t := at
			row.RevokedAt = &t
		}
	}
	return nil
}

// memSessions is an in-memory SessionStore.
type memSessions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*sessions.Session
}

func newMemSessions() *memSessions {
	return &memSessions{rows: map[uuid.UUID]*sessions.Session{}}
}

func (m *memSessions) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]*sessions.Session, len(m.rows))
	for id, row := range m.rows {
		cp := *row
		saved[id] = &cp
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.rows = saved
	}
}

func (m *memSessions) Create(_ context.Context, s *sessions.Session) (*sessions.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	m.rows[s.ID] = &cp
	return s, nil
}

func (m *memSessions) GetSession(_ context.Context, id uuid.UUID) (*sessions.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *memSessions) ListLive(_ context.Context, identityID uuid.UUID, now time.Time) ([]*sessions.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*sessions.Session
	for _, row := range m.rows {
		if row.IdentityID == identityID && row.RevokedAt == nil && row.ExpiresAt.After(now) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (m *memSessions) TouchTx(_ context.Context, _ bun.IDB, id uuid.UUID, expiresAt, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.RevokedAt != nil || !row.ExpiresAt.After(now) {
		return sessions.ErrSessionNotLive
	}
	row.ExpiresAt = expiresAt
	return nil
}

func (m *memSessions) RevokeTx(_ context.Context, _ bun.IDB, id uuid.UUID, at time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.RevokedAt != nil {
		return nil
	}
	t := at
	row.RevokedAt = &t
	row.RevokedReason = reason
	return nil
}

// memTokens is an in-memory RefreshTokenStore with the same compare-and-set
// semantics the SQL store has.
type memTokens struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*sessions.RefreshToken
}

func newMemTokens() *memTokens {
	return &memTokens{rows: map[uuid.UUID]*sessions.RefreshToken{}}
}

func (m *memTokens) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]*sessions.RefreshToken, len(m.rows))
	for id, row := range m.rows {
		cp := *row
		saved[id] = &cp
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.rows = saved
	}
}

func (m *memTokens) InsertTx(_ context.Context, _ bun.IDB, t *sessions.RefreshToken) (*sessions.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Digest == t.Digest {
			return nil, sessions.ErrTokenConflict
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	cp := *t
	m.rows[t.ID] = &cp
	return t, nil
}

func (m *memTokens) GetByDigest(_ context.Context, digest string) (*sessions.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Digest == digest {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTokens) ConsumeTx(_ context.Context, _ bun.IDB, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.RotatedAt != nil || row.RevokedAt != nil {
		return false, nil
	}
	t := now
	row.RotatedAt = &t
	return true, nil
}

func (m *memTokens) RevokeRedeemableBySessionTx(_ context.Context, _ bun.IDB, sessionID uuid.UUID, at time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, row := range m.rows {
		if row.SessionID == sessionID && row.RotatedAt == nil && row.RevokedAt == nil && row.ExpiresAt.After(at) {
			t := at
			row.RevokedAt = &t
			row.RevokedReason = reason
			count++
		}
	}
	return count, nil
}

func (m *memTokens) ChainBySession(_ context.Context, sessionID uuid.UUID) ([]*sessions.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*sessions.RefreshToken
	for _, row := range m.rows {
		if row.SessionID == sessionID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ParentID == nil
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out, nil
}

// memRevocations is an in-memory RevocationStore.
type memRevocations struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*sessions.SessionRevocation
}

func newMemRevocations() *memRevocations {
	return &memRevocations{rows: map[uuid.UUID]*sessions.SessionRevocation{}}
}

func (m *memRevocations) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]*sessions.SessionRevocation, len(m.rows))
	for id, row := range m.rows {
		cp := *row
		saved[id] = &cp
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.rows = saved
	}
}

func (m *memRevocations) UpsertTx(_ context.Context, _ bun.IDB, rec *sessions.SessionRevocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[rec.SessionID]; exists {
		return nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	cp := *rec
	m.rows[rec.SessionID] = &cp
	return nil
}

func (m *memRevocations) GetBySession(_ context.Context, sessionID uuid.UUID) (*sessions.SessionRevocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

// restorable is any fake whose state can be saved and rolled back.
type restorable interface {
	snapshot() func()
}

// memTxManager serializes transactional units against the fakes and rolls
// their state back when the unit fails, mirroring a real transaction.
type memTxManager struct {
	mu     sync.Mutex
	stores []restorable
}

func newMemTxManager(stores ...restorable) *memTxManager {
	return &memTxManager{stores: stores}
}

func (m *memTxManager) RunInTx(ctx context.Context, _ *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	restores := make([]func(), 0, len(m.stores))
	for _, store := range m.stores {
		restores = append(restores, store.snapshot())
	}

	err := f(ctx, bun.Tx{})
	if err != nil {
		for _, restore := range restores {
			restore()
		}
	}
	return err
}

// recordingSink collects emitted activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []sessions.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event sessions.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) byType(eventType sessions.ActivityEventType) []sessions.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sessions.ActivityEvent
	for _, evt := range s.events {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// silentLogger keeps test output clean.
type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}

// world bundles the fakes one lifecycle test needs.
type world struct {
	identities  *memIdentities
	memberships *memMemberships
	sessions    *memSessions
	tokens      *memTokens
	revocations *memRevocations
	tm          *memTxManager
	sink        *recordingSink
	now         time.Time
}

func newWorld() *world {
	w := &world{
		identities:  newMemIdentities(),
		memberships: newMemMemberships(),
		sessions:    newMemSessions(),
		tokens:      newMemTokens(),
		revocations: newMemRevocations(),
		sink:        &recordingSink{},
		now:         time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	w.tm = newMemTxManager(w.sessions, w.tokens, w.revocations)
	return w
}

func (w *world) clock() func() time.Time {
	return func() time.Time { return w.now }
}

func (w *world) addIdentity(email string, status string, verified bool) *sessions.Identity {
	return w.identities.add(&sessions.Identity{
		Email:         email,
		Status:        status,
		EmailVerified: verified,
	})
}

func (w *world) addSession(identityID uuid.UUID, role sessions.Role, ttl time.Duration) *sessions.Session {
	s := &sessions.Session{
		ID:         uuid.New(),
		IdentityID: identityID,
		Role:       role,
		IssuedAt:   w.now,
		ExpiresAt:  w.now.Add(ttl),
	}
	created, _ := w.sessions.Create(context.Background(), s)
	return created
}
