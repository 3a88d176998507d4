package sessions

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Session  string `json:"session" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Reset password session token"`
	Password string `json:"password" example:"some_secret_word" doc:"Password"`
}

// Validate checks the message shape before any storage access.
func (p FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Session, validation.Required, is.UUID),
		validation.Field(&p.Password, validation.Required, validation.Length(10, 100)),
	)
}

type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	revoker  *Revoker
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, revoker *Revoker) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		revoker:  revoker,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	reset := &PasswordReset{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid password reset request")
	}

	var err error

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// find a password reset by token/id
		reset, err = h.repo.PasswordResets().GetByIDTx(ctx, tx, event.Session)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return goerrors.New("invalid or expired password reset token", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
		}

		//make sure it was not used
		if reset.Status != ResetRequestedStatus {
			return goerrors.New("password reset token has already been used", goerrors.CategoryConflict).
				WithTextCode("TOKEN_ALREADY_USED")
		}

		if reset.CreatedAt == nil {
			return goerrors.New("password reset record is missing creation date", goerrors.CategoryInternal)
		}

		expired, err := IsOutsideThresholdPeriod(*reset.CreatedAt, "24h")
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token expiration period")
		}

		if expired {
			return goerrors.New("password reset token has expired", goerrors.CategoryValidation).
				WithTextCode("TOKEN_EXPIRED")
		}

		passwordHash, err := HashPassword(event.Password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if reset.IdentityID == nil {
			return goerrors.New("password reset record is not associated with an identity", goerrors.CategoryInternal)
		}

		if err := h.repo.Identities().UpdateCredentialTx(ctx, tx, *reset.IdentityID, passwordHash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update credential")
		}

		r := MarkPasswordAsReseted(reset.ID)
		if _, err := h.repo.PasswordResets().UpdateTx(ctx, tx, r); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password reset status")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	// A consumed reset invalidates every session the identity holds. The
	// cascade runs outside the reset transaction; each session is its own
	// atomic unit and re-running the cascade is a no-op. A cascade failure
	// still fails the command: the caller must not see success while stale
	// sessions survive.
	if err := h.cascade(ctx, reset); err != nil {
		return err
	}

	h.recordActivity(ctx, reset)

	return nil
}

func (h *FinalizePasswordResetHandler) cascade(ctx context.Context, reset *PasswordReset) error {
	if h.revoker == nil || reset == nil || reset.IdentityID == nil {
		return nil
	}

	actor := ActorRef{ID: reset.IdentityID.String(), Type: "identity"}
	if _, err := h.revoker.Revoke(ctx, *reset.IdentityID, ScopeAllSessions(), "password-reset", actor); err != nil {
		h.getLogger().Error("post-reset revocation cascade error: %v", err)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke sessions after password reset")
	}

	return nil
}

func (h *FinalizePasswordResetHandler) recordActivity(ctx context.Context, reset *PasswordReset) {
	if reset == nil || reset.IdentityID == nil {
		return
	}

	event := ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor: ActorRef{
			ID:   reset.IdentityID.String(),
			Type: "identity",
		},
		IdentityID: reset.IdentityID.String(),
		Metadata: map[string]any{
			"password_reset_id": reset.ID.String(),
		},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.getLogger().Warn("activity sink error during password reset: %v", err)
	}
}

func (h *FinalizePasswordResetHandler) getLogger() Logger {
	if h.logger != nil {
		return h.logger
	}
	return defLogger{}
}
