package sessions

import (
	"context"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "identity.password_reset" }

// Validate checks the message shape before any storage access.
func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, validation.Length(6, 100), is.Email),
	)
}

// InitializePasswordResetResponse is identical for known and unknown emails.
// Whether the account exists must not be observable from the outside.
type InitializePasswordResetResponse struct {
	Reset   *PasswordReset
	Success bool
}

type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	notify   func(email, resetID string)
	logger   Logger
	failures atomic.Int64
}

func NewInitializePasswordResetHandler(repo RepositoryManager) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:   repo,
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithNotifier sets the delivery hook invoked with the reset link payload.
func (h *InitializePasswordResetHandler) WithNotifier(notify func(email, resetID string)) *InitializePasswordResetHandler {
	h.notify = notify
	return h
}

// FailureCount reports how many initializations failed internally. The caller
// never sees those failures; operators watch this counter instead.
func (h *InitializePasswordResetHandler) FailureCount() int64 {
	return h.failures.Load()
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	resp := &InitializePasswordResetResponse{Success: true}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid password reset request")
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		identity, err := h.repo.Identities().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			return err
		}

		// Unknown email: same response as a known one, nothing persisted.
		if identity == nil || !identity.Eligible() {
			return nil
		}

		reset := &PasswordReset{
			IdentityID: &identity.ID,
			Email:      event.Email,
			Status:     ResetRequestedStatus,
		}

		created, err := h.repo.PasswordResets().CreateTx(ctx, tx, reset)
		if err != nil {
			return err
		}
		resp.Reset = created

		if h.notify != nil {
			go h.notify(created.Email, created.ID.String())
		}

		return nil
	})

	// Internal failures stay internal: count, log, and answer success anyway.
	if err != nil {
		h.failures.Add(1)
		h.logger.Error("password reset initialization error: %v", err)
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
