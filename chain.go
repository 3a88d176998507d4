package sessions

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// maxMintAttempts bounds retries when a generated refresh value collides with
// a stored digest. Collisions are astronomically unlikely with 32 random
// bytes; the bound exists so a broken entropy source fails loudly instead of
// looping.
const maxMintAttempts = 3

// ChainEngine issues and rotates refresh tokens. Every session owns one chain:
// a root minted at login and a strict line of descendants, each created by
// consuming its parent. Only SHA-256 digests of the opaque values are stored.
type ChainEngine struct {
	tokens     RefreshTokenStore
	sessions   SessionStore
	identities IdentityStore
	tm         TransactionManager
	tokenSvc   TokenService
	refreshTTL time.Duration
	sessionTTL time.Duration
	logger     Logger
	sink       ActivitySink
	now        func() time.Time
}

func NewChainEngine(
	tokens RefreshTokenStore,
	sessions SessionStore,
	identities IdentityStore,
	tm TransactionManager,
	tokenService TokenService,
	refreshTTL time.Duration,
	sessionTTL time.Duration,
) *ChainEngine {
	return &ChainEngine{
		tokens:     tokens,
		sessions:   sessions,
		identities: identities,
		tm:         tm,
		tokenSvc:   tokenService,
		refreshTTL: refreshTTL,
		sessionTTL: sessionTTL,
		logger:     defLogger{},
		sink:       noopActivitySink{},
		now:        time.Now,
	}
}

func (e *ChainEngine) WithLogger(logger Logger) *ChainEngine {
	e.logger = logger
	return e
}

// WithActivitySink configures an ActivitySink for rotation events.
func (e *ChainEngine) WithActivitySink(sink ActivitySink) *ChainEngine {
	e.sink = normalizeActivitySink(sink)
	return e
}

// WithClock overrides the time source.
func (e *ChainEngine) WithClock(now func() time.Time) *ChainEngine {
	if now != nil {
		e.now = now
	}
	return e
}

// IssueRoot mints the chain root for a freshly created session and returns
// the full credential pair. The raw refresh value leaves this method exactly
// once; only its digest is persisted.
func (e *ChainEngine) IssueRoot(ctx context.Context, session *Session) (*TokenPair, error) {
	now := e.now()

	if !session.Live(now) {
		return nil, ErrSessionNotFound
	}

	raw, token, err := e.mintRoot(ctx, session, now)
	if err != nil {
		return nil, err
	}

	access, accessExpires, err := e.tokenSvc.MintAccessToken(session.IdentityID, session.Role, session.ID, now)
	if err != nil {
		e.logger.Error("IssueRoot mint access token error: %v", err)
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     raw,
		RefreshExpiresAt: token.ExpiresAt,
	}, nil
}

// Rotate redeems a presented refresh value for a fresh credential pair. The
// presented token is consumed with a compare-and-set keyed on rotated_at, so
// concurrent redemptions of the same value produce exactly one winner; every
// loser gets the same invalid-token answer as an unknown value would.
func (e *ChainEngine) Rotate(ctx context.Context, presented string) (*TokenPair, error) {
	now := e.now()

	if presented == "" {
		return nil, ErrInvalidToken
	}

	current, err := e.tokens.GetByDigest(ctx, digestRefreshValue(presented))
	if err != nil {
		e.logger.Error("Rotate digest lookup error: %v", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up refresh token")
	}

	if !current.Redeemable(now) {
		return nil, ErrInvalidToken
	}

	session, err := e.sessions.GetSession(ctx, current.SessionID)
	if err != nil {
		e.logger.Error("Rotate session lookup error: %v", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
	}

	if !session.Live(now) {
		return nil, ErrInvalidToken
	}

	identity, err := e.identities.GetIdentity(ctx, session.IdentityID)
	if err != nil {
		e.logger.Error("Rotate identity lookup error: %v", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load identity")
	}

	if !identity.Eligible() {
		return nil, ErrAccountIneligible
	}

	raw, child, err := e.rotateOnce(ctx, session, current, now)
	if err != nil {
		return nil, err
	}

	access, accessExpires, err := e.tokenSvc.MintAccessToken(session.IdentityID, session.Role, session.ID, now)
	if err != nil {
		e.logger.Error("Rotate mint access token error: %v", err)
		return nil, err
	}

	e.emitRotation(ctx, session, current, child)

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     raw,
		RefreshExpiresAt: child.ExpiresAt,
	}, nil
}

// Chain returns the session's full rotation history, root first.
func (e *ChainEngine) Chain(ctx context.Context, session *Session) ([]*RefreshToken, error) {
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return e.tokens.ChainBySession(ctx, session.ID)
}

// rotateOnce runs the consume-insert-touch unit. The whole unit retries on a
// digest collision: the transaction rolled back, so the parent is still
// unconsumed and the CAS decides the winner again.
func (e *ChainEngine) rotateOnce(ctx context.Context, session *Session, parent *RefreshToken, now time.Time) (string, *RefreshToken, error) {
	var lastErr error

	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		raw, digest, err := newRefreshValue()
		if err != nil {
			return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh value")
		}

		child := &RefreshToken{
			SessionID: session.ID,
			ParentID:  &parent.ID,
			Digest:    digest,
			IssuedAt:  now,
			ExpiresAt: now.Add(e.refreshTTL),
		}

		err = e.tm.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			won, err := e.tokens.ConsumeTx(ctx, tx, parent.ID, now)
			if err != nil {
				return err
			}

			if !won {
				return ErrInvalidToken
			}

			if _, err := e.tokens.InsertTx(ctx, tx, child); err != nil {
				return err
			}

			return e.sessions.TouchTx(ctx, tx, session.ID, now.Add(e.sessionTTL), now)
		})

		if err == nil {
			return raw, child, nil
		}

		if IsTokenConflict(err) {
			lastErr = err
			continue
		}

		if IsInvalidToken(err) {
			return "", nil, ErrInvalidToken
		}

		e.logger.Error("Rotate transaction error: %v", err)
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "rotation failed")
	}

	return "", nil, lastErr
}

// mintRoot persists the chain's first link.
func (e *ChainEngine) mintRoot(ctx context.Context, session *Session, now time.Time) (string, *RefreshToken, error) {
	var lastErr error

	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		raw, digest, err := newRefreshValue()
		if err != nil {
			return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh value")
		}

		token := &RefreshToken{
			SessionID: session.ID,
			Digest:    digest,
			IssuedAt:  now,
			ExpiresAt: now.Add(e.refreshTTL),
		}

		err = e.tm.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			_, err := e.tokens.InsertTx(ctx, tx, token)
			return err
		})

		if err == nil {
			return raw, token, nil
		}

		if IsTokenConflict(err) {
			lastErr = err
			continue
		}

		e.logger.Error("mint refresh token error: %v", err)
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist refresh token")
	}

	return "", nil, lastErr
}

func (e *ChainEngine) emitRotation(ctx context.Context, session *Session, parent, child *RefreshToken) {
	sink := normalizeActivitySink(e.sink)
	event := ActivityEvent{
		EventType:  ActivityEventTokenRotated,
		Actor:      ActorRef{ID: session.IdentityID.String(), Type: "identity"},
		IdentityID: session.IdentityID.String(),
		SessionID:  session.ID.String(),
		Metadata: map[string]any{
			"parent_token_id": parent.ID.String(),
			"child_token_id":  child.ID.String(),
		},
		OccurredAt: e.now(),
	}

	if err := sink.Record(ctx, event); err != nil {
		e.logger.Warn("activity sink record error: %v", err)
	}
}

// newRefreshValue generates a 256-bit opaque value and its storage digest.
func newRefreshValue() (raw string, digest string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}

	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, digestRefreshValue(raw), nil
}

// digestRefreshValue is the canonical digest of a presented refresh value.
func digestRefreshValue(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
