package sessions

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ConsumeRefreshTokenSQL = `UPDATE "refresh_tokens" AS "rt"
SET
	"rotated_at" = ?
WHERE
	"rt"."rotated_at" IS NULL
AND "rt"."revoked_at" IS NULL
AND (
	"rt"."id" = ?
) RETURNING *;`

var RevokeRedeemableBySessionSQL = `UPDATE "refresh_tokens" AS "rt"
SET
	"revoked_at" = ?,
	"revoked_reason" = ?
WHERE
	"rt"."rotated_at" IS NULL
AND "rt"."revoked_at" IS NULL
AND "rt"."expires_at" > ?
AND (
	"rt"."session_id" = ?
) RETURNING *;`

// RefreshTokens is the rotation-chain store backed by bun.
type RefreshTokens interface {
	repository.Repository[*RefreshToken]
	RefreshTokenStore
}

type refreshTokens struct {
	repository.Repository[*RefreshToken]
	db *bun.DB
}

var (
	_ RefreshTokens     = (*refreshTokens)(nil)
	_ RefreshTokenStore = (*refreshTokens)(nil)
)

func NewRefreshTokensRepository(db *bun.DB) RefreshTokens {
	repo := repository.NewRepository[*RefreshToken](db, repository.ModelHandlers[*RefreshToken]{
		NewRecord: func() *RefreshToken { return &RefreshToken{} },
		GetID: func(t *RefreshToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *RefreshToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
	})

	return &refreshTokens{
		Repository: repo,
		db:         db,
	}
}

// InsertTx appends a link to the chain. A digest collision surfaces as
// ErrTokenConflict so issuers can regenerate the opaque value and retry.
func (a *refreshTokens) InsertTx(ctx context.Context, tx bun.IDB, t *RefreshToken) (*RefreshToken, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	record, err := a.Repository.CreateTx(ctx, tx, t)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, goerrors.Wrap(
				err,
				goerrors.CategoryConflict,
				"refresh token digest already exists",
			).WithTextCode(TextCodeTokenConflict)
		}
		return nil, err
	}

	return record, nil
}

// GetByDigest looks up a chain link by its stored digest, or nil when no row
// matches. Callers never learn whether a miss was absence or expiry.
func (a *refreshTokens) GetByDigest(ctx context.Context, digest string) (*RefreshToken, error) {
	record := &RefreshToken{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.token_digest = ?", digest).
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

// ConsumeTx is the rotation compare-and-set. The guard on rotated_at and
// revoked_at means concurrent redemptions of the same token produce exactly
// one winner; losers see zero rows back.
func (a *refreshTokens) ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (bool, error) {
	res, err := a.Repository.RawTx(ctx, tx, ConsumeRefreshTokenSQL, now, id.String())
	if err != nil {
		return false, err
	}
	return len(res) > 0, nil
}

func (a *refreshTokens) RevokeRedeemableBySessionTx(ctx context.Context, tx bun.IDB, sessionID uuid.UUID, at time.Time, reason string) (int64, error) {
	res, err := a.Repository.RawTx(ctx, tx, RevokeRedeemableBySessionSQL, at, reason, at, sessionID.String())
	if err != nil {
		return 0, err
	}
	return int64(len(res)), nil
}

// ChainBySession returns every link of the session's chain, oldest first.
func (a *refreshTokens) ChainBySession(ctx context.Context, sessionID uuid.UUID) ([]*RefreshToken, error) {
	var records []*RefreshToken
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.session_id = ?", sessionID).
		Order("issued_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return records, nil
}
