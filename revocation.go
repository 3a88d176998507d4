package sessions

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RevocationScope selects which of an identity's sessions a cascade covers.
type RevocationScope struct {
	kind    string
	exclude uuid.UUID
	only    uuid.UUID
}

const (
	scopeAll       = "all"
	scopeAllExcept = "all-except"
	scopeOne       = "one"
)

// ScopeAllSessions covers every live session the identity owns.
func ScopeAllSessions() RevocationScope {
	return RevocationScope{kind: scopeAll}
}

// ScopeAllExcept covers every live session except the given one. Password
// changes use this so the changing session survives.
func ScopeAllExcept(keep uuid.UUID) RevocationScope {
	return RevocationScope{kind: scopeAllExcept, exclude: keep}
}

// ScopeSession covers exactly one session. Logout uses this.
func ScopeSession(id uuid.UUID) RevocationScope {
	return RevocationScope{kind: scopeOne, only: id}
}

// CascadeResult reports what one cascade run actually touched.
type CascadeResult struct {
	SessionsRevoked int
	TokensRevoked   int64
}

// Revoker runs the revocation cascade. Each targeted session is one atomic
// unit: the session row, its redeemable tokens, and the audit shadow commit
// or roll back together. Units are independent, so a failure in one session
// leaves the others revoked.
type Revoker struct {
	sessions    SessionStore
	tokens      RefreshTokenStore
	revocations RevocationStore
	tm          TransactionManager
	logger      Logger
	sink        ActivitySink
	now         func() time.Time
}

func NewRevoker(
	sessions SessionStore,
	tokens RefreshTokenStore,
	revocations RevocationStore,
	tm TransactionManager,
) *Revoker {
	return &Revoker{
		sessions:    sessions,
		tokens:      tokens,
		revocations: revocations,
		tm:          tm,
		logger:      defLogger{},
		sink:        noopActivitySink{},
		now:         time.Now,
	}
}

func (r *Revoker) WithLogger(logger Logger) *Revoker {
	r.logger = logger
	return r
}

// WithActivitySink configures an ActivitySink for revocation events.
func (r *Revoker) WithActivitySink(sink ActivitySink) *Revoker {
	r.sink = normalizeActivitySink(sink)
	return r
}

// WithClock overrides the time source.
func (r *Revoker) WithClock(now func() time.Time) *Revoker {
	if now != nil {
		r.now = now
	}
	return r
}

// Revoke applies the cascade to the identity's sessions in scope. Running the
// same cascade twice is a no-op the second time: already-revoked sessions are
// filtered out, and the audit upsert keeps the first record.
func (r *Revoker) Revoke(ctx context.Context, identityID uuid.UUID, scope RevocationScope, reason string, actor ActorRef) (*CascadeResult, error) {
	if identityID == uuid.Nil {
		return nil, goerrors.New("identity id is required", goerrors.CategoryBadInput)
	}

	if reason == "" {
		return nil, goerrors.New("revocation reason is required", goerrors.CategoryBadInput)
	}

	now := r.now()

	targets, err := r.resolveTargets(ctx, identityID, scope, now)
	if err != nil {
		return nil, err
	}

	result := &CascadeResult{}

	for _, session := range targets {
		count, err := r.revokeSession(ctx, session, now, reason, actor)
		if err != nil {
			r.logger.Error("Revoke session %s error: %v", session.ID, err)
			return result, goerrors.Wrap(err, goerrors.CategoryInternal, "revocation cascade failed").
				WithMetadata(map[string]any{"session_id": session.ID.String()})
		}

		result.SessionsRevoked++
		result.TokensRevoked += count

		r.emit(ctx, session, reason, actor, count)
	}

	return result, nil
}

func (r *Revoker) resolveTargets(ctx context.Context, identityID uuid.UUID, scope RevocationScope, now time.Time) ([]*Session, error) {
	switch scope.kind {
	case scopeOne:
		session, err := r.sessions.GetSession(ctx, scope.only)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
		}

		if session == nil || session.IdentityID != identityID {
			return nil, ErrSessionNotFound
		}

		if !session.Live(now) {
			return nil, nil
		}

		return []*Session{session}, nil

	case scopeAll, scopeAllExcept:
		live, err := r.sessions.ListLive(ctx, identityID, now)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list sessions")
		}

		if scope.kind == scopeAll {
			return live, nil
		}

		targets := make([]*Session, 0, len(live))
		for _, s := range live {
			if s.ID != scope.exclude {
				targets = append(targets, s)
			}
		}
		return targets, nil

	default:
		return nil, goerrors.New("unknown revocation scope", goerrors.CategoryBadInput)
	}
}

// revokeSession is the per-session atomic unit.
func (r *Revoker) revokeSession(ctx context.Context, session *Session, now time.Time, reason string, actor ActorRef) (int64, error) {
	var tokensRevoked int64

	err := r.tm.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.sessions.RevokeTx(ctx, tx, session.ID, now, reason); err != nil {
			return err
		}

		count, err := r.tokens.RevokeRedeemableBySessionTx(ctx, tx, session.ID, now, reason)
		if err != nil {
			return err
		}
		tokensRevoked = count

		return r.revocations.UpsertTx(ctx, tx, &SessionRevocation{
			SessionID: session.ID,
			RevokedAt: now,
			RevokedBy: actor.String(),
			Reason:    reason,
		})
	})

	return tokensRevoked, err
}

func (r *Revoker) emit(ctx context.Context, session *Session, reason string, actor ActorRef, tokensRevoked int64) {
	sink := normalizeActivitySink(r.sink)
	event := ActivityEvent{
		EventType:  ActivityEventSessionRevoked,
		Actor:      actor,
		IdentityID: session.IdentityID.String(),
		SessionID:  session.ID.String(),
		Metadata: map[string]any{
			"reason":         reason,
			"tokens_revoked": tokensRevoked,
		},
		OccurredAt: r.now(),
	}

	if err := sink.Record(ctx, event); err != nil {
		r.logger.Warn("activity sink record error: %v", err)
	}
}
