package sessions

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type VerifyEmailMessage struct {
	Session    string `json:"session" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Verification token"`
	OnResponse func(a *VerifyEmailResponse)
}

type VerifyEmailResponse struct {
	Expired  bool     `json:"expired" example:"true" doc:"Has the request expired?"`
	Found    bool     `json:"found" example:"true" doc:"Has the request been found?"`
	Verified bool     `json:"verified" example:"true" doc:"Was the email marked verified?"`
	Errors   []string `json:"errors" doc:"Error messages."`
}

// VerifyEmailHandler consumes a verification token and flips the identity's
// email-verified flag. Privileged memberships only become effective once this
// has happened.
type VerifyEmailHandler struct {
	repo RepositoryManager
}

func NewVerifyEmailHandler(repo RepositoryManager) *VerifyEmailHandler {
	return &VerifyEmailHandler{repo: repo}
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email verification")
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	reset := &PasswordReset{}
	resp := &VerifyEmailResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var err error

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		reset, err = h.repo.PasswordResets().GetByIDTx(ctx, tx, event.Session)
		if err != nil {
			// a missing record is part of the expected flow, not an application error
			if goerrors.IsNotFound(err) {
				resp.Found = false
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve verification request")
		}

		resp.Found = true

		if reset.Status != ResetRequestedStatus {
			resp.Expired = true
			return nil
		}

		if reset.CreatedAt == nil {
			return goerrors.New("verification record is missing creation date", goerrors.CategoryInternal)
		}

		expired, err := IsOutsideThresholdPeriod(*reset.CreatedAt, "24h")
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token expiration period")
		}

		resp.Expired = expired
		if expired {
			return nil
		}

		if reset.IdentityID == nil {
			return goerrors.New("verification record is not associated with an identity", goerrors.CategoryInternal)
		}

		if _, err := h.repo.Identities().SetEmailVerifiedTx(ctx, tx, *reset.IdentityID, true); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark email as verified")
		}

		r := MarkPasswordAsReseted(reset.ID)
		if _, err := h.repo.PasswordResets().UpdateTx(ctx, tx, r); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume verification token")
		}

		resp.Verified = true
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to execute email verification")
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
