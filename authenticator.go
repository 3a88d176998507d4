package sessions

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// LoginResult bundles the session and credential pair handed back on a
// successful login.
type LoginResult struct {
	Session *Session   `json:"session"`
	Tokens  *TokenPair `json:"tokens"`
}

// Authenticator orchestrates the login and logout flows on top of the
// lifecycle components: credential check, membership check, session creation,
// chain root issuance, and the logout cascade.
type Authenticator struct {
	identities  IdentityStore
	memberships MembershipStore
	sessions    *SessionManager
	chain       *ChainEngine
	revoker     *Revoker
	logger      Logger
	sink        ActivitySink
	now         func() time.Time
}

func NewAuthenticator(
	identities IdentityStore,
	memberships MembershipStore,
	sessions *SessionManager,
	chain *ChainEngine,
	revoker *Revoker,
) *Authenticator {
	return &Authenticator{
		identities:  identities,
		memberships: memberships,
		sessions:    sessions,
		chain:       chain,
		revoker:     revoker,
		logger:      defLogger{},
		sink:        noopActivitySink{},
		now:         time.Now,
	}
}

func (a *Authenticator) WithLogger(logger Logger) *Authenticator {
	a.logger = logger
	return a
}

// WithActivitySink configures an ActivitySink for login events.
func (a *Authenticator) WithActivitySink(sink ActivitySink) *Authenticator {
	a.sink = normalizeActivitySink(sink)
	return a
}

// WithClock overrides the time source.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	if now != nil {
		a.now = now
	}
	return a
}

// Login verifies the credential, requires an effective membership for the
// requested role, then opens a session with a fresh chain root. Unknown
// email, wrong password, and ineligible account all produce the same
// invalid-credentials answer.
func (a *Authenticator) Login(ctx context.Context, email, password string, role Role, meta ClientMeta) (*LoginResult, error) {
	if !role.IsValid() {
		return nil, goerrors.New("unknown role", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"role": string(role)})
	}

	identity, err := a.identities.GetByEmail(ctx, email)
	if err != nil {
		a.logger.Error("Login identity lookup error: %v", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load identity")
	}

	if identity == nil || !identity.Eligible() {
		a.emitLoginFailure(ctx, email, identity, "credentials rejected")
		return nil, ErrInvalidCredentials
	}

	if err := ComparePasswordAndHash(password, identity.CredentialHash); err != nil {
		a.emitLoginFailure(ctx, email, identity, "credentials rejected")
		return nil, ErrInvalidCredentials
	}

	membership, err := a.memberships.GetMembership(ctx, identity.ID, role)
	if err != nil {
		a.logger.Error("Login membership lookup error: %v", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load membership")
	}

	if membership == nil || !MembershipEffective(membership, identity) {
		a.emitLoginFailure(ctx, email, identity, "no effective membership")
		return nil, ErrNotEnrolled
	}

	session, err := a.sessions.CreateSession(ctx, identity.ID, role, meta, 0)
	if err != nil {
		return nil, err
	}

	pair, err := a.chain.IssueRoot(ctx, session)
	if err != nil {
		return nil, err
	}

	a.emit(ctx, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		Actor:      ActorRef{ID: identity.ID.String(), Type: "identity"},
		IdentityID: identity.ID.String(),
		SessionID:  session.ID.String(),
		Metadata:   map[string]any{"role": string(role)},
	})

	return &LoginResult{
		Session: session,
		Tokens:  pair,
	}, nil
}

// Logout revokes the current session and its redeemable tokens. Logging out
// of an already-dead session is a no-op, not an error.
func (a *Authenticator) Logout(ctx context.Context, sessionID uuid.UUID) error {
	session, err := a.sessions.GetLiveSession(ctx, sessionID)
	if err != nil {
		if IsSessionNotFound(err) {
			return nil
		}
		return err
	}

	actor := ActorRef{ID: session.IdentityID.String(), Type: "identity"}
	_, err = a.revoker.Revoke(ctx, session.IdentityID, ScopeSession(sessionID), "logout", actor)
	return err
}

func (a *Authenticator) emitLoginFailure(ctx context.Context, email string, identity *Identity, detail string) {
	actor := ActorRef{Type: "unknown"}
	identityID := ""
	if identity != nil {
		actor = ActorRef{ID: identity.ID.String(), Type: "identity"}
		identityID = identity.ID.String()
	}

	a.emit(ctx, ActivityEvent{
		EventType:  ActivityEventLoginFailure,
		Actor:      actor,
		IdentityID: identityID,
		Metadata: map[string]any{
			"email":  email,
			"detail": detail,
		},
	})
}

func (a *Authenticator) emit(ctx context.Context, event ActivityEvent) {
	sink := normalizeActivitySink(a.sink)
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}

	if err := sink.Record(ctx, event); err != nil {
		a.logger.Warn("activity sink record error: %v", err)
	}
}
