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

// TwoFactorRepo implements TwoFactorRepository using PostgreSQL.
type TwoFactorRepo struct{ db *DB }

// NewTwoFactorRepo constructs a two-factor repository.
func NewTwoFactorRepo(db *DB) *TwoFactorRepo { return &TwoFactorRepo{db: db} }

const (
	delCodes = `DELETE FROM backup_codes WHERE user_id=$1`
	insCode  = `INSERT INTO backup_codes (id, user_id, code_hash, used) VALUES ($1,$2,$3,false)`
)

// Get selects the user's 2FA setting.
func (r *TwoFactorRepo) Get(ctx context.Context, userID uuid.UUID) (*model.TwoFactorSetting, error) {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const q = `
SELECT user_id, secret_sealed, enabled, enabled_at, created_at
FROM two_factor_settings WHERE user_id=$1`
	var s model.TwoFactorSetting
	err := r.db.Pool.QueryRow(ctx, q, userID).Scan(&s.UserID, &s.SecretSealed, &s.Enabled, &s.EnabledAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("scan 2fa setting: %w", err)
	}
	return &s, nil
}

// SavePending upserts a disabled setting and replaces backup codes atomically.
// An enabled setting is never overwritten.
func (r *TwoFactorRepo) SavePending(ctx context.Context, s *model.TwoFactorSetting, codes []model.BackupCode) error {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const upsert = `
INSERT INTO two_factor_settings (user_id, secret_sealed, enabled, enabled_at, created_at)
VALUES ($1, $2, false, NULL, $3)
ON CONFLICT (user_id) DO UPDATE
SET secret_sealed = EXCLUDED.secret_sealed, created_at = EXCLUDED.created_at
WHERE two_factor_settings.enabled = false`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, upsert, s.UserID, s.SecretSealed, s.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrVersionConflict
		}
		return replaceCodes(ctx, tx, s.UserID, codes)
	})
}

// Enable flips a pending setting to enabled.
func (r *TwoFactorRepo) Enable(ctx context.Context, userID uuid.UUID, at time.Time) error {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const q = `
UPDATE two_factor_settings SET enabled = true, enabled_at = $2
WHERE user_id = $1 AND enabled = false`
	tag, err := r.db.Pool.Exec(ctx, q, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}

// Disable deletes the enabled setting together with its sealed secret and
// every backup code. A later Confirm then finds nothing to confirm.
func (r *TwoFactorRepo) Disable(ctx context.Context, userID uuid.UUID) error {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const q = `DELETE FROM two_factor_settings WHERE user_id = $1 AND enabled = true`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, delCodes, userID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, q, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		return nil
	})
}

// ReplaceBackupCodes swaps the user's code batch in one transaction.
func (r *TwoFactorRepo) ReplaceBackupCodes(ctx context.Context, userID uuid.UUID, codes []model.BackupCode) error {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		return replaceCodes(ctx, tx, userID, codes)
	})
}

func replaceCodes(ctx context.Context, tx pgx.Tx, userID uuid.UUID, codes []model.BackupCode) error {
	if _, err := tx.Exec(ctx, delCodes, userID); err != nil {
		return err
	}
	for i, c := range codes {
		if _, err := tx.Exec(ctx, insCode, c.ID, userID, c.CodeHash); err != nil {
			return fmt.Errorf("code[%d]: %w", i, err)
		}
	}
	return nil
}

// UnusedBackupCodes lists unconsumed codes.
func (r *TwoFactorRepo) UnusedBackupCodes(ctx context.Context, userID uuid.UUID) ([]model.BackupCode, error) {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const q = `
SELECT id, user_id, code_hash
FROM backup_codes WHERE user_id=$1 AND used=false`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BackupCode
	for rows.Next() {
		var c model.BackupCode
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConsumeBackupCode marks a code used if it is still unused.
func (r *TwoFactorRepo) ConsumeBackupCode(ctx context.Context, codeID uuid.UUID, at time.Time) (bool, error) {
	ctx, cancel := r.db.op(ctx)
	defer cancel()
	const q = `
UPDATE backup_codes SET used = true, used_at = $2
WHERE id = $1 AND used = false`
	tag, err := r.db.Pool.Exec(ctx, q, codeID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
