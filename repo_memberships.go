package sessions

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var RevokeMembershipSQL = `UPDATE "role_memberships" AS "rm"
SET
	"revoked_at" = ?
WHERE
	"rm"."deleted_at" IS NULL
AND "rm"."revoked_at" IS NULL
AND (
	"rm"."id" = ?
) RETURNING *;`

// Memberships is the role membership registry backed by bun. One table holds
// every role; the legacy per-role tables collapse into the role column.
type Memberships interface {
	repository.Repository[*RoleMembership]
	MembershipStore

	GetMembershipTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, role Role) (*RoleMembership, error)
	GrantTx(ctx context.Context, tx bun.IDB, m *RoleMembership) (*RoleMembership, error)
	ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]*RoleMembership, error)
	Purge(ctx context.Context, id uuid.UUID) error
}

type memberships struct {
	repository.Repository[*RoleMembership]
	db *bun.DB
}

var (
	_ Memberships     = (*memberships)(nil)
	_ MembershipStore = (*memberships)(nil)
)

func NewMembershipsRepository(db *bun.DB) Memberships {
	repo := repository.NewRepository[*RoleMembership](db, repository.ModelHandlers[*RoleMembership]{
		NewRecord: func() *RoleMembership { return &RoleMembership{} },
		GetID: func(m *RoleMembership) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *RoleMembership, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
	})

	return &memberships{
		Repository: repo,
		db:         db,
	}
}

// GetMembership returns the active membership row for the identity and role,
// or nil when none exists. Revoked rows are never resurrected, so at most one
// active row can match.
func (a *memberships) GetMembership(ctx context.Context, identityID uuid.UUID, role Role) (*RoleMembership, error) {
	return a.GetMembershipTx(ctx, a.db, identityID, role)
}

func (a *memberships) GetMembershipTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, role Role) (*RoleMembership, error) {
	record := &RoleMembership{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.identity_id = ?", identityID).
		Where("?TableAlias.role = ?", string(role)).
		Where("?TableAlias.revoked_at IS NULL").
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

// Grant inserts a fresh membership row. A previously revoked grant for the
// same identity/role pair stays untouched; enrollment always creates a new row.
func (a *memberships) Grant(ctx context.Context, m *RoleMembership) (*RoleMembership, error) {
	return a.GrantTx(ctx, a.db, m)
}

func (a *memberships) GrantTx(ctx context.Context, tx bun.IDB, m *RoleMembership) (*RoleMembership, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.GrantedAt == nil {
		now := time.Now()
		m.GrantedAt = &now
	}
	return a.Repository.CreateTx(ctx, tx, m)
}

// RevokeMembership sets revoked_at on an active row. Revoking an already
// revoked membership is a no-op.
func (a *memberships) RevokeMembership(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := a.Repository.RawTx(ctx, a.db, RevokeMembershipSQL, at, id.String())
	return err
}

func (a *memberships) ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]*RoleMembership, error) {
	var records []*RoleMembership
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.identity_id = ?", identityID).
		Order("granted_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return records, nil
}

// Purge soft-deletes the membership row for retention compliance. The bun
// soft_delete tag turns this into a deleted_at update, never a hard delete.
func (a *memberships) Purge(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.NewDelete().
		Model(&RoleMembership{ID: id}).
		WherePK().
		Exec(ctx)
	return err
}
