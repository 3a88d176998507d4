package sessions

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Identities() Identities
	Memberships() Memberships
	Sessions() Sessions
	RefreshTokens() RefreshTokens
	SessionRevocations() SessionRevocations
	PasswordResets() PasswordResets
}

type mngr struct {
	db            *bun.DB
	identities    Identities
	memberships   Memberships
	sessions      Sessions
	refreshTokens RefreshTokens
	revocations   SessionRevocations
	resets        PasswordResets
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:            db,
		identities:    NewIdentitiesRepository(db),
		memberships:   NewMembershipsRepository(db),
		sessions:      NewSessionsRepository(db),
		refreshTokens: NewRefreshTokensRepository(db),
		revocations:   NewSessionRevocationsRepository(db),
		resets:        NewPasswordResetsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.identities == nil {
		return errors.New("repository identities should be initialized")
	}

	if m.memberships == nil {
		return errors.New("repository memberships should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	if m.refreshTokens == nil {
		return errors.New("repository refreshTokens should be initialized")
	}

	if m.revocations == nil {
		return errors.New("repository sessionRevocations should be initialized")
	}

	if m.resets == nil {
		return errors.New("repository passwordResets should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Identities() Identities {
	return m.identities
}

func (m mngr) Memberships() Memberships {
	return m.memberships
}

func (m mngr) Sessions() Sessions {
	return m.sessions
}

func (m mngr) RefreshTokens() RefreshTokens {
	return m.refreshTokens
}

func (m mngr) SessionRevocations() SessionRevocations {
	return m.revocations
}

func (m mngr) PasswordResets() PasswordResets {
	return m.resets
}

// isUniqueViolation sniffs driver-specific unique constraint failures. Both
// sqlite and postgres spellings are covered; callers map this to the Conflict
// taxonomy entry. The repository layer wraps driver errors behind a generic
// message, so the whole Unwrap chain is checked, not just the top error.
func isUniqueViolation(err error) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		msg := err.Error()
		if strings.Contains(msg, "UNIQUE constraint failed") ||
			strings.Contains(msg, "duplicate key value") ||
			strings.Contains(msg, "constraint violation") {
			return true
		}
	}
	return false
}
