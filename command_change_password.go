package sessions

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ChangePasswordMessage struct {
	IdentityID   uuid.UUID `json:"identity_id" doc:"Identity changing its credential"`
	SessionID    uuid.UUID `json:"session_id" doc:"Session performing the change"`
	Current      string    `json:"current" doc:"Current password"`
	New          string    `json:"new" doc:"New password"`
	RevokeOthers bool      `json:"revoke_others" doc:"Sign out every other session"`
}

// Validate checks the message shape before any storage access.
func (p ChangePasswordMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Current, validation.Required),
		validation.Field(&p.New, validation.Required, validation.Length(10, 100)),
	)
}

type ChangePasswordHandler struct {
	repo     RepositoryManager
	revoker  *Revoker
	activity ActivitySink
	logger   Logger
}

func NewChangePasswordHandler(repo RepositoryManager, revoker *Revoker) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		repo:     repo,
		revoker:  revoker,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password change events.
func (h *ChangePasswordHandler) WithActivitySink(sink ActivitySink) *ChangePasswordHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ChangePasswordHandler) WithLogger(logger Logger) *ChangePasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid password change request")
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		identity, err := h.repo.Identities().GetIdentityTx(ctx, tx, event.IdentityID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve identity")
		}

		if identity == nil || !identity.Eligible() {
			return ErrInvalidCredentials
		}

		if err := ComparePasswordAndHash(event.Current, identity.CredentialHash); err != nil {
			return ErrInvalidCredentials
		}

		passwordHash, err := HashPassword(event.New)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		return h.repo.Identities().UpdateCredentialTx(ctx, tx, event.IdentityID, passwordHash)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to change password")
	}

	// The credential changed; reporting success while other sessions stay live
	// would defeat the point of RevokeOthers, so a cascade failure surfaces.
	if event.RevokeOthers && h.revoker != nil {
		actor := ActorRef{ID: event.IdentityID.String(), Type: "identity"}
		if _, err := h.revoker.Revoke(ctx, event.IdentityID, ScopeAllExcept(event.SessionID), "password-change", actor); err != nil {
			h.logger.Error("post-change revocation cascade error: %v", err)
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke other sessions after password change")
		}
	}

	h.recordActivity(ctx, event)

	return nil
}

func (h *ChangePasswordHandler) recordActivity(ctx context.Context, event ChangePasswordMessage) {
	activity := ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor: ActorRef{
			ID:   event.IdentityID.String(),
			Type: "identity",
		},
		IdentityID: event.IdentityID.String(),
		SessionID:  event.SessionID.String(),
		Metadata: map[string]any{
			"revoke_others": event.RevokeOthers,
		},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, activity); err != nil {
		h.logger.Warn("activity sink error during password change: %v", err)
	}
}
