package repository

import (
	"context"
	"time"

	"github.com/and161185/authguard/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RefreshRepository persists refresh records. Records are looked up by the
// fingerprint of the current refresh token.
type RefreshRepository interface {
	// Create inserts a new session record.
	Create(ctx context.Context, rec *model.RefreshRecord) error
	// FindByTokenHash returns the record whose current token has the given fingerprint.
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshRecord, error)
	// FindSession returns the record with the given id owned by userID.
	FindSession(ctx context.Context, userID, sessionID uuid.UUID) (*model.RefreshRecord, error)
	// CompareAndSwapToken replaces oldHash with newHash only if oldHash is still
	// current. Reports false when another writer got there first.
	CompareAndSwapToken(ctx context.Context, oldHash, newHash string, issuedAt, expiresAt time.Time) (bool, error)
	// Delete removes a record by ID.
	Delete(ctx context.Context, id uuid.UUID) error
}
