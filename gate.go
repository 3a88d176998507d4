package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GateState is one step of the per-request admission pipeline. Requests only
// ever move forward through the pipeline; any failed check leaves the request
// in its current state and produces a denial.
type GateState string

const (
	GateStateUnauthenticated    GateState = "unauthenticated"
	GateStateCredentialParsed   GateState = "credential_parsed"
	GateStateRoleMatched        GateState = "role_matched"
	GateStateMembershipVerified GateState = "membership_verified"
	GateStateAdmitted           GateState = "admitted"
)

// Admission is what the gate hands downstream once every check passes.
// Handlers consume the identity and role from here and never re-parse the
// credential themselves.
type Admission struct {
	IdentityID uuid.UUID
	Role       Role
	SessionID  uuid.UUID
}

// Gate is the authorization checkpoint in front of protected operations. It
// re-validates the credential, role claim, membership, and identity status on
// every call; nothing is cached between requests, so a revocation takes
// effect on the very next request.
type Gate struct {
	tokenSvc    TokenService
	identities  IdentityStore
	memberships MembershipStore
	sessions    SessionStore
	transitions map[GateState]GateState
	logger      Logger
	now         func() time.Time
}

func NewGate(
	tokenService TokenService,
	identities IdentityStore,
	memberships MembershipStore,
	sessions SessionStore,
) *Gate {
	return &Gate{
		tokenSvc:    tokenService,
		identities:  identities,
		memberships: memberships,
		sessions:    sessions,
		transitions: map[GateState]GateState{
			GateStateUnauthenticated:    GateStateCredentialParsed,
			GateStateCredentialParsed:   GateStateRoleMatched,
			GateStateRoleMatched:        GateStateMembershipVerified,
			GateStateMembershipVerified: GateStateAdmitted,
		},
		logger: defLogger{},
		now:    time.Now,
	}
}

func (g *Gate) WithLogger(logger Logger) *Gate {
	g.logger = logger
	return g
}

// WithClock overrides the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	if now != nil {
		g.now = now
	}
	return g
}

// Admit runs the full pipeline for one request: parse the bearer credential,
// match the claimed role against the required one, then verify the membership
// is still effective and the session still live. Denials are generic on
// purpose; the state the request died in goes to the debug log only.
func (g *Gate) Admit(ctx context.Context, rawToken string, required Role) (*Admission, error) {
	trace := newGateTrace(g.transitions)
	now := g.now()

	if rawToken == "" {
		g.logDenial(trace, "empty credential")
		return nil, ErrUnauthenticated
	}

	claims, err := g.tokenSvc.Validate(rawToken)
	if err != nil {
		g.logDenial(trace, "credential validation failed")
		return nil, ErrUnauthenticated
	}

	identityID, err := claims.IdentityID()
	if err != nil {
		g.logDenial(trace, "malformed subject claim")
		return nil, ErrUnauthenticated
	}

	claimedRole, ok := ParseRole(claims.Role())
	if !ok {
		g.logDenial(trace, "unknown role claim")
		return nil, ErrUnauthenticated
	}

	sessionID, err := uuid.Parse(claims.SessionID())
	if err != nil {
		g.logDenial(trace, "malformed session claim")
		return nil, ErrUnauthenticated
	}

	trace.advance(GateStateCredentialParsed)

	// Role comparison is exact. A system-admin credential does not pass a
	// member gate; callers hold one credential per role.
	if claimedRole != required {
		g.logDenial(trace, "role mismatch")
		return nil, ErrWrongRole
	}

	trace.advance(GateStateRoleMatched)

	identity, err := g.identities.GetIdentity(ctx, identityID)
	if err != nil {
		g.logDenial(trace, "identity lookup failed")
		return nil, ErrNotEnrolled
	}

	membership, err := g.memberships.GetMembership(ctx, identityID, claimedRole)
	if err != nil {
		g.logDenial(trace, "membership lookup failed")
		return nil, ErrNotEnrolled
	}

	if membership == nil || !MembershipEffective(membership, identity) {
		g.logDenial(trace, "membership not effective")
		return nil, ErrNotEnrolled
	}

	trace.advance(GateStateMembershipVerified)

	session, err := g.sessions.GetSession(ctx, sessionID)
	if err != nil || !session.Live(now) || session.IdentityID != identityID {
		g.logDenial(trace, "session not live")
		return nil, ErrUnauthenticated
	}

	trace.advance(GateStateAdmitted)

	return &Admission{
		IdentityID: identityID,
		Role:       claimedRole,
		SessionID:  sessionID,
	}, nil
}

func (g *Gate) logDenial(trace *gateTrace, detail string) {
	g.logger.Debug("gate denial at %s: %s", trace.state, detail)
}

// gateTrace tracks the furthest pipeline step a request reached. It exists
// for observability; denial errors never carry it.
type gateTrace struct {
	state       GateState
	transitions map[GateState]GateState
}

func newGateTrace(transitions map[GateState]GateState) *gateTrace {
	return &gateTrace{
		state:       GateStateUnauthenticated,
		transitions: transitions,
	}
}

func (t *gateTrace) advance(to GateState) {
	if next, ok := t.transitions[t.state]; ok && next == to {
		t.state = to
	}
}
