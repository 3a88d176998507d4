package sessions

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var UpdateIdentityCredentialSQL = `UPDATE "identities" AS "idn"
SET
	"credential_hash" = ?,
	"updated_at" = ?
WHERE
	"idn"."deleted_at" IS NULL
AND (
	"idn"."id" = ?
) RETURNING *;`

// Identities is the identity store backed by bun. The Tx variants let command
// handlers read and write through the transaction they already hold instead of
// grabbing a second connection from the pool.
type Identities interface {
	repository.Repository[*Identity]
	IdentityStore

	GetIdentityTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error)
	SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) (*Identity, error)
	SetEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, verified bool) (*Identity, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status IdentityStatus) (*Identity, error)
}

type identities struct {
	repository.Repository[*Identity]
	db *bun.DB
}

var (
	_ Identities    = (*identities)(nil)
	_ IdentityStore = (*identities)(nil)
)

func NewIdentitiesRepository(db *bun.DB) Identities {
	repo := repository.NewRepository[*Identity](db, repository.ModelHandlers[*Identity]{
		NewRecord: func() *Identity { return &Identity{} },
		GetID: func(i *Identity) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *Identity, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &identities{
		Repository: repo,
		db:         db,
	}
}

// GetIdentity returns the identity row, or nil when no row matches. Soft
// deleted rows are still returned so callers can apply the eligibility
// invariant themselves.
func (a *identities) GetIdentity(ctx context.Context, id uuid.UUID) (*Identity, error) {
	return a.GetIdentityTx(ctx, a.db, id)
}

func (a *identities) GetIdentityTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error) {
	record := &Identity{}
	err := tx.NewSelect().
		Model(record).
		WhereAllWithDeleted().
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

// GetByEmail returns the identity for the email, or nil when none exists.
func (a *identities) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *identities) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error) {
	record := &Identity{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
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

func (a *identities) UpdateCredential(ctx context.Context, id uuid.UUID, credentialHash string) error {
	return a.UpdateCredentialTx(ctx, a.db, id, credentialHash)
}

func (a *identities) UpdateCredentialTx(ctx context.Context, tx bun.IDB, id uuid.UUID, credentialHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, UpdateIdentityCredentialSQL, credentialHash, time.Now(), id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *identities) SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) (*Identity, error) {
	return a.SetEmailVerifiedTx(ctx, a.db, id, verified)
}

func (a *identities) SetEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, verified bool) (*Identity, error) {
	record := &Identity{
		ID:            id,
		EmailVerified: verified,
	}

	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
}

func (a *identities) UpdateStatus(ctx context.Context, id uuid.UUID, status IdentityStatus) (*Identity, error) {
	record := &Identity{
		ID:     id,
		Status: status,
	}

	return a.Repository.UpdateTx(ctx, a.db, record, repository.UpdateByID(id.String()))
}

func prepareIdentityDefaults(record *Identity) {
	if record == nil {
		return
	}

	record.EnsureStatus()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

// Create applies identity defaults before delegating to the generic repo.
func (a *identities) Create(ctx context.Context, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *identities) CreateTx(ctx context.Context, tx bun.IDB, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error) {
	prepareIdentityDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}
