package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RefreshRepo implements RefreshRepository using PostgreSQL.
type RefreshRepo struct{ db *DB }

// NewRefreshRepo constructs a refresh record repository.
func NewRefreshRepo(db *DB) *RefreshRepo { return &RefreshRepo{db: db} }

// Create inserts a session record.
func (r *RefreshRepo) Create(ctx context.Context, rec *model.RefreshRecord) error {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const q = `
INSERT INTO refresh_tokens (id, user_id, token_hash, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, rec.ID, rec.UserID, rec.TokenHash, rec.IssuedAt, rec.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// FindByTokenHash loads the record holding the given token fingerprint.
func (r *RefreshRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshRecord, error) {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const q = `
SELECT id, user_id, token_hash, issued_at, expires_at
FROM refresh_tokens WHERE token_hash=$1`
	return scanRefresh(r.db.Pool.QueryRow(ctx, q, tokenHash))
}

// FindSession loads a record by id, scoped to its owner.
func (r *RefreshRepo) FindSession(ctx context.Context, userID, sessionID uuid.UUID) (*model.RefreshRecord, error) {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const q = `
SELECT id, user_id, token_hash, issued_at, expires_at
FROM refresh_tokens WHERE id=$1 AND user_id=$2`
	return scanRefresh(r.db.Pool.QueryRow(ctx, q, sessionID, userID))
}

// CompareAndSwapToken rotates the token fingerprint only if oldHash is still current.
func (r *RefreshRepo) CompareAndSwapToken(ctx context.Context, oldHash, newHash string, issuedAt, expiresAt time.Time) (bool, error) {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const q = `
UPDATE refresh_tokens
SET token_hash = $2, issued_at = $3, expires_at = $4
WHERE token_hash = $1`
	tag, err := r.db.Pool.Exec(ctx, q, oldHash, newHash, issuedAt, expiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a record.
func (r *RefreshRepo) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const q = `DELETE FROM refresh_tokens WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return err
}

func scanRefresh(row pgx.Row) (*model.RefreshRecord, error) {
	var rec model.RefreshRecord
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.TokenHash, &rec.IssuedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh record: %w", err)
	}
	return &rec, nil
}
