package sessions

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type EnrollMemberMessage struct {
	IdentityID uuid.UUID `json:"identity_id" doc:"Identity receiving the role"`
	Role       Role      `json:"role" doc:"Role being granted"`
	GrantedBy  ActorRef  `json:"-"`
}

// Validate checks the message shape before any storage access.
func (p EnrollMemberMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Role, validation.Required, validation.By(func(value any) error {
			role, _ := value.(Role)
			if !role.IsValid() {
				return goerrors.New("unknown role", goerrors.CategoryBadInput)
			}
			return nil
		})),
	)
}

// EnrollMemberHandler grants a role membership. A previously revoked grant is
// never resurrected; re-enrollment always writes a fresh row so the audit
// trail keeps the old revocation intact.
type EnrollMemberHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
}

func NewEnrollMemberHandler(repo RepositoryManager) *EnrollMemberHandler {
	return &EnrollMemberHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit enrollment events.
func (h *EnrollMemberHandler) WithActivitySink(sink ActivitySink) *EnrollMemberHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *EnrollMemberHandler) WithLogger(logger Logger) *EnrollMemberHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *EnrollMemberHandler) Execute(ctx context.Context, event EnrollMemberMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during member enrollment",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *EnrollMemberHandler) execute(ctx context.Context, event EnrollMemberMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid enrollment request")
	}

	var granted *RoleMembership

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		identity, err := h.repo.Identities().GetIdentityTx(ctx, tx, event.IdentityID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve identity")
		}

		if identity == nil || !identity.Eligible() {
			return ErrAccountIneligible
		}

		existing, err := h.repo.Memberships().GetMembershipTx(ctx, tx, event.IdentityID, event.Role)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check existing membership")
		}

		if existing != nil {
			return goerrors.New("membership already granted", goerrors.CategoryConflict).
				WithCode(goerrors.CodeConflict).
				WithMetadata(map[string]any{
					"identity_id": event.IdentityID.String(),
					"role":        string(event.Role),
				})
		}

		granted, err = h.repo.Memberships().GrantTx(ctx, tx, &RoleMembership{
			IdentityID: event.IdentityID,
			Role:       event.Role,
		})
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to enroll member")
	}

	h.recordActivity(ctx, event, granted)

	return nil
}

func (h *EnrollMemberHandler) recordActivity(ctx context.Context, event EnrollMemberMessage, granted *RoleMembership) {
	actor := event.GrantedBy
	if actor == (ActorRef{}) {
		actor = SystemActor
	}

	activity := ActivityEvent{
		EventType:  ActivityEventMembershipGranted,
		Actor:      actor,
		IdentityID: event.IdentityID.String(),
		Metadata: map[string]any{
			"role": string(event.Role),
		},
		OccurredAt: time.Now(),
	}

	if granted != nil {
		activity.Metadata["membership_id"] = granted.ID.String()
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, activity); err != nil {
		h.logger.Warn("activity sink error during enrollment: %v", err)
	}
}
