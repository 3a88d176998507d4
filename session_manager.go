package sessions

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionManager owns the session lifecycle: creation, liveness lookup, and
// expiry extension. Sessions are never deleted; they end by revocation or by
// aging past expires_at.
type SessionManager struct {
	sessions SessionStore
	tm       TransactionManager
	logger   Logger
	sink     ActivitySink
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionManager(sessions SessionStore, tm TransactionManager, ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		tm:       tm,
		logger:   defLogger{},
		sink:     noopActivitySink{},
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *SessionManager) WithLogger(logger Logger) *SessionManager {
	m.logger = logger
	return m
}

// WithActivitySink configures an ActivitySink for session lifecycle events.
func (m *SessionManager) WithActivitySink(sink ActivitySink) *SessionManager {
	m.sink = normalizeActivitySink(sink)
	return m
}

// WithClock overrides the time source. Tests use this; production keeps
// time.Now.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	if now != nil {
		m.now = now
	}
	return m
}

// CreateSession opens a new authenticated context for the identity under the
// given role. A zero ttl falls back to the manager's default.
func (m *SessionManager) CreateSession(ctx context.Context, identityID uuid.UUID, role Role, meta ClientMeta, ttl time.Duration) (*Session, error) {
	if identityID == uuid.Nil {
		return nil, goerrors.New("identity id is required", goerrors.CategoryBadInput)
	}

	if !role.IsValid() {
		return nil, goerrors.New("unknown role", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"role": string(role)})
	}

	if ttl <= 0 {
		ttl = m.ttl
	}

	now := m.now()
	session := &Session{
		ID:         uuid.New(),
		IdentityID: identityID,
		Role:       role,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	}

	record, err := m.sessions.Create(ctx, session)
	if err != nil {
		m.logger.Error("CreateSession persist error: %v", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session")
	}

	m.emit(ctx, ActivityEventSessionCreated, ActorRef{ID: identityID.String(), Type: "identity"}, record, nil)

	return record, nil
}

// GetLiveSession returns the session only while it is live. Absent, revoked,
// and expired sessions all come back as the same not-found error.
func (m *SessionManager) GetLiveSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	session, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		m.logger.Error("GetLiveSession lookup error: %v", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
	}

	if !session.Live(m.now()) {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// Touch extends the session's expiry. It fails with ErrSessionNotLive when the
// session is revoked or already expired; expiry never moves backwards past a
// revocation.
func (m *SessionManager) Touch(ctx context.Context, id uuid.UUID, newExpiry time.Time) error {
	now := m.now()
	if !newExpiry.After(now) {
		return goerrors.New("new expiry must be in the future", goerrors.CategoryBadInput)
	}

	return m.tm.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return m.sessions.TouchTx(ctx, tx, id, newExpiry, now)
	})
}

// ListLive returns the identity's live sessions, oldest first. UIs use this to
// drive "sign out other devices" flows.
func (m *SessionManager) ListLive(ctx context.Context, identityID uuid.UUID) ([]*Session, error) {
	return m.sessions.ListLive(ctx, identityID, m.now())
}

func (m *SessionManager) emit(ctx context.Context, eventType ActivityEventType, actor ActorRef, session *Session, metadata map[string]any) {
	sink := normalizeActivitySink(m.sink)
	if metadata == nil {
		metadata = map[string]any{}
	}

	event := ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		IdentityID: session.IdentityID.String(),
		SessionID:  session.ID.String(),
		Metadata:   metadata,
		OccurredAt: m.now(),
	}

	if err := sink.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink record error: %v", err)
	}
}
