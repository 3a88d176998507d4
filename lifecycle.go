package sessions

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/uptrace/bun"
)

// Lifecycle bundles the fully wired session components: repositories, token
// service, session manager, rotation chain engine, revoker, gate, and the
// login/logout authenticator. Hosts that need finer control can assemble the
// pieces themselves; this is the common path.
type Lifecycle struct {
	Repo         RepositoryManager
	TokenService TokenService
	Sessions     *SessionManager
	Chain        *ChainEngine
	Revoker      *Revoker
	Gate         *Gate
	Auth         *Authenticator

	logger Logger
	sink   ActivitySink
}

// New wires every lifecycle component from a bun DB handle and config.
func New(db *bun.DB, cfg Config) *Lifecycle {
	repo := NewRepositoryManager(db)

	logger := Logger(defLogger{})

	tokenService := NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetAccessTTL(),
		cfg.GetIssuer(),
		jwt.ClaimStrings(cfg.GetAudience()),
		logger,
	)

	sessions := NewSessionManager(repo.Sessions(), repo, cfg.GetSessionTTL())

	chain := NewChainEngine(
		repo.RefreshTokens(),
		repo.Sessions(),
		repo.Identities(),
		repo,
		tokenService,
		cfg.GetRefreshTTL(),
		cfg.GetSessionTTL(),
	)

	revoker := NewRevoker(
		repo.Sessions(),
		repo.RefreshTokens(),
		repo.SessionRevocations(),
		repo,
	)

	gate := NewGate(tokenService, repo.Identities(), repo.Memberships(), repo.Sessions())

	auth := NewAuthenticator(repo.Identities(), repo.Memberships(), sessions, chain, revoker)

	return &Lifecycle{
		Repo:         repo,
		TokenService: tokenService,
		Sessions:     sessions,
		Chain:        chain,
		Revoker:      revoker,
		Gate:         gate,
		Auth:         auth,
		logger:       logger,
		sink:         noopActivitySink{},
	}
}

// WithLogger propagates the logger to every component.
func (l *Lifecycle) WithLogger(logger Logger) *Lifecycle {
	if logger == nil {
		return l
	}
	l.logger = logger
	l.Sessions.WithLogger(logger)
	l.Chain.WithLogger(logger)
	l.Revoker.WithLogger(logger)
	l.Gate.WithLogger(logger)
	l.Auth.WithLogger(logger)
	return l
}

// WithActivitySink propagates the sink to every component that emits events.
func (l *Lifecycle) WithActivitySink(sink ActivitySink) *Lifecycle {
	l.sink = normalizeActivitySink(sink)
	l.Sessions.WithActivitySink(l.sink)
	l.Chain.WithActivitySink(l.sink)
	l.Revoker.WithActivitySink(l.sink)
	l.Auth.WithActivitySink(l.sink)
	return l
}

// WithClock propagates the time source to every component.
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	if now == nil {
		return l
	}
	l.Sessions.WithClock(now)
	l.Chain.WithClock(now)
	l.Revoker.WithClock(now)
	l.Gate.WithClock(now)
	l.Auth.WithClock(now)
	return l
}
