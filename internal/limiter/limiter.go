// Package limiter bounds request frequency per identity over the shared cache
// and locks out repeated failed logins.
package limiter

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/authguard/internal/cache"
)

// Lockout controls login attempts and temporary lockouts.
type Lockout interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, username string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
}

// Window is a fixed-window request counter. When the cache cannot be reached
// the request is admitted.
type Window struct {
	cache cache.Cache
	log   *zap.Logger
	warn  rate.Sometimes
}

// NewWindow constructs a Window over c.
func NewWindow(c cache.Cache, log *zap.Logger) *Window {
	if log == nil {
		log = zap.NewNop()
	}
	return &Window{
		cache: c,
		log:   log,
		warn:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Allow counts one request for key and reports whether it stays within limit
// for the current window.
func (w *Window) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if limit <= 0 || window <= 0 {
		return true
	}
	n, err := w.cache.IncrementAndExpireIfFirst(ctx, counterKey(key, window), window)
	if err != nil {
		w.warn.Do(func() {
			w.log.Warn("rate limiter: cache unavailable, admitting request",
				zap.String("key", key), zap.Error(err))
		})
		return true
	}
	return n <= int64(limit)
}

func counterKey(key string, window time.Duration) string {
	return "rl:" + key + ":" + strconv.FormatInt(int64(window/time.Second), 10)
}
