package token

import (
	"context"
	"time"

	"github.com/and161185/authguard/internal/cache"
)

const ledgerPrefix = "revoked:"

// Ledger records revoked tokens until they would have expired on their own.
type Ledger struct {
	cache  cache.Cache
	margin time.Duration
}

// NewLedger constructs a Ledger. margin is added to every entry's TTL so an
// entry never expires before the token it shadows.
func NewLedger(c cache.Cache, margin time.Duration) *Ledger {
	if margin < 0 {
		margin = 0
	}
	return &Ledger{cache: c, margin: margin}
}

// Revoke blacklists the token with fingerprint fp until expiresAt (+margin).
// Already expired tokens need no entry.
func (l *Ledger) Revoke(ctx context.Context, fp string, expiresAt, now time.Time) error {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return nil
	}
	return l.cache.Set(ctx, ledgerPrefix+fp, "1", remaining+l.margin)
}

// Revoked reports whether fp is blacklisted.
func (l *Ledger) Revoked(ctx context.Context, fp string) (bool, error) {
	_, ok, err := l.cache.Get(ctx, ledgerPrefix+fp)
	return ok, err
}
