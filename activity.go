package sessions

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventSessionCreated       ActivityEventType = "session.created"
	ActivityEventSessionRevoked       ActivityEventType = "session.revoked"
	ActivityEventTokenRotated         ActivityEventType = "session.token.rotated"
	ActivityEventMembershipGranted    ActivityEventType = "membership.granted"
	ActivityEventMembershipRevoked    ActivityEventType = "membership.revoked"
	ActivityEventPasswordChanged      ActivityEventType = "auth.password.changed"
	ActivityEventPasswordResetRequest ActivityEventType = "auth.password.reset.requested"
	ActivityEventPasswordResetSuccess ActivityEventType = "auth.password.reset"
)

// ActorRef identifies who or what triggered an event. "system" is used for
// cascades that run without an authenticated actor.
type ActorRef struct {
	ID   string
	Type string
}

// SystemActor is the actor recorded for system-initiated revocations.
var SystemActor = ActorRef{Type: "system"}

// String renders the actor for audit rows: "type:id" or just the type.
func (a ActorRef) String() string {
	if a.ID == "" {
		return a.Type
	}
	return a.Type + ":" + a.ID
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	IdentityID string
	SessionID  string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best-effort: errors are logged and never roll back the
// session/token transaction that produced the event.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
