package repository

import (
	"context"
	"time"

	"github.com/and161185/authguard/internal/model"
	"github.com/gofrs/uuid/v5"
)

// TwoFactorRepository persists TOTP settings and backup codes, keyed by user id.
type TwoFactorRepository interface {
	// Get returns the user's setting or errs.ErrNotFound.
	Get(ctx context.Context, userID uuid.UUID) (*model.TwoFactorSetting, error)
	// SavePending stores a disabled setting with a fresh secret and replaces the
	// user's backup codes. Fails with errs.ErrVersionConflict if 2FA is enabled.
	SavePending(ctx context.Context, s *model.TwoFactorSetting, codes []model.BackupCode) error
	// Enable flips a pending setting to enabled; errs.ErrVersionConflict if not pending.
	Enable(ctx context.Context, userID uuid.UUID, at time.Time) error
	// Disable deletes an enabled setting and all backup codes; errs.ErrNotFound if not enabled.
	Disable(ctx context.Context, userID uuid.UUID) error
	// ReplaceBackupCodes deletes existing codes and inserts the given batch.
	ReplaceBackupCodes(ctx context.Context, userID uuid.UUID, codes []model.BackupCode) error
	// UnusedBackupCodes lists codes not yet consumed.
	UnusedBackupCodes(ctx context.Context, userID uuid.UUID) ([]model.BackupCode, error)
	// ConsumeBackupCode marks a code used; reports false if it was already used.
	ConsumeBackupCode(ctx context.Context, codeID uuid.UUID, at time.Time) (bool, error)
}
