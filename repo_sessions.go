package sessions

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var TouchSessionSQL = `UPDATE "sessions" AS "ses"
SET
	"expires_at" = ?
WHERE
	"ses"."revoked_at" IS NULL
AND "ses"."expires_at" > ?
AND (
	"ses"."id" = ?
) RETURNING *;`

var RevokeSessionSQL = `UPDATE "sessions" AS "ses"
SET
	"revoked_at" = ?,
	"revoked_reason" = ?
WHERE
	"ses"."revoked_at" IS NULL
AND (
	"ses"."id" = ?
) RETURNING *;`

// Sessions is the session store backed by bun. The concrete repo also carries
// the generic repository, but the interface stays on the store surface: the
// generic Create and the store Create differ in shape.
type Sessions interface {
	SessionStore

	Touch(ctx context.Context, id uuid.UUID, expiresAt, now time.Time) error
}

type sessionsRepo struct {
	repository.Repository[*Session]
	db *bun.DB
}

var (
	_ Sessions     = (*sessionsRepo)(nil)
	_ SessionStore = (*sessionsRepo)(nil)
)

func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*Session](db, repository.ModelHandlers[*Session]{
		NewRecord: func() *Session { return &Session{} },
		GetID: func(s *Session) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Session, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})

	return &sessionsRepo{
		Repository: repo,
		db:         db,
	}
}

// Create persists a session row; ids are assigned here when missing.
func (a *sessionsRepo) Create(ctx context.Context, s *Session) (*Session, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return a.Repository.CreateTx(ctx, a.db, s)
}

// GetSession returns the session row regardless of liveness, or nil when no
// row matches. Liveness policy lives in the manager, not the store.
func (a *sessionsRepo) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	record := &Session{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
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

// ListLive returns the identity's sessions that are neither revoked nor
// expired at now, oldest first.
func (a *sessionsRepo) ListLive(ctx context.Context, identityID uuid.UUID, now time.Time) ([]*Session, error) {
	var records []*Session
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.identity_id = ?", identityID).
		Where("?TableAlias.revoked_at IS NULL").
		Where("?TableAlias.expires_at > ?", now).
		Order("issued_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return records, nil
}

func (a *sessionsRepo) Touch(ctx context.Context, id uuid.UUID, expiresAt, now time.Time) error {
	return a.TouchTx(ctx, a.db, id, expiresAt, now)
}

// TouchTx extends expiry keyed on the session still being live at now; a
// revoked or expired session never gets extended.
func (a *sessionsRepo) TouchTx(ctx context.Context, tx bun.IDB, id uuid.UUID, expiresAt, now time.Time) error {
	res, err := a.Repository.RawTx(ctx, tx, TouchSessionSQL, expiresAt, now, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return ErrSessionNotLive
	}

	return nil
}

// RevokeTx sets revoked_at and the reason. Re-revoking is a no-op: the guard
// on revoked_at keeps the first reason and timestamp.
func (a *sessionsRepo) RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time, reason string) error {
	_, err := a.Repository.RawTx(ctx, tx, RevokeSessionSQL, at, reason, id.String())
	return err
}
