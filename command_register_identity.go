package sessions

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type RegisterIdentityMessage struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

func (e RegisterIdentityMessage) Type() string { return "identity.register" }

// Validate checks the message shape before any storage access.
func (e RegisterIdentityMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(10, 100)),
	)
}

// RegisterIdentityHandler creates an identity and, when a role is supplied,
// its first membership grant in the same transaction.
type RegisterIdentityHandler struct {
	repo RepositoryManager
}

func NewRegisterIdentityHandler(repo RepositoryManager) *RegisterIdentityHandler {
	return &RegisterIdentityHandler{repo: repo}
}

func (h *RegisterIdentityHandler) Execute(ctx context.Context, event RegisterIdentityMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during identity registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterIdentityHandler) execute(ctx context.Context, event RegisterIdentityMessage) error {
	identity := &Identity{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid registration request")
	}

	if event.Role != "" && !event.Role.IsValid() {
		return goerrors.New("unknown role", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"role": string(event.Role)})
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		identity.Email = event.Email
		identity.CredentialHash = hash
		identity.EnsureStatus()

		if identity, err = h.repo.Identities().CreateTx(ctx, tx, identity); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create identity")
		}

		if event.Role != "" {
			if _, err := h.repo.Memberships().GrantTx(ctx, tx, &RoleMembership{
				IdentityID: identity.ID,
				Role:       event.Role,
			}); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "could not grant initial membership")
			}
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "identity registration transaction failed")
	}

	return nil
}
