package sessions

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionRevocations is the audit-shadow store backed by bun. The store's
// UpsertTx differs in shape from the generic repository's, so the interface
// exposes only the store surface.
type SessionRevocations interface {
	RevocationStore
}

type sessionRevocations struct {
	repository.Repository[*SessionRevocation]
	db *bun.DB
}

var (
	_ SessionRevocations = (*sessionRevocations)(nil)
	_ RevocationStore    = (*sessionRevocations)(nil)
)

func NewSessionRevocationsRepository(db *bun.DB) SessionRevocations {
	repo := repository.NewRepository[*SessionRevocation](db, repository.ModelHandlers[*SessionRevocation]{
		NewRecord: func() *SessionRevocation { return &SessionRevocation{} },
		GetID: func(r *SessionRevocation) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *SessionRevocation, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &sessionRevocations{
		Repository: repo,
		db:         db,
	}
}

// UpsertTx writes the session's revocation record. The unique session_id plus
// DO NOTHING makes re-applying the cascade a no-op: the first revocation's
// timestamp, actor, and reason win.
func (a *sessionRevocations) UpsertTx(ctx context.Context, tx bun.IDB, rec *SessionRevocation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	_, err := tx.NewInsert().
		Model(rec).
		On("CONFLICT (session_id) DO NOTHING").
		Exec(ctx)

	return err
}

func (a *sessionRevocations) GetBySession(ctx context.Context, sessionID uuid.UUID) (*SessionRevocation, error) {
	record := &SessionRevocation{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.session_id = ?", sessionID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return record, nil
}
