package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/authguard/internal/cache"
	"github.com/and161185/authguard/internal/clock"
)

type downCache struct{}

var _ cache.Cache = downCache{}

var errDown = errors.New("connection refused")

func (downCache) Get(context.Context, string) (string, bool, error) { return "", false, errDown }
func (downCache) Set(context.Context, string, string, time.Duration) error { return errDown }
func (downCache) Del(context.Context, string) error { return errDown }
func (downCache) IncrementAndExpireIfFirst(context.Context, string, time.Duration) (int64, error) {
	return 0, errDown
}

func TestWindow_FixedWindow(t *testing.T) {
	t.Parallel()
	clk := clock.NewFixed(testNow)
	w := NewWindow(cache.NewMemory(clk), zaptest.NewLogger(t))
	ctx := context.Background()

	var got []bool
	for i := 0; i < 6; i++ {
		got = append(got, w.Allow(ctx, "user:1", 5, 60*time.Second))
		clk.Advance(time.Second)
	}
	require.Equal(t, []bool{true, true, true, true, true, false}, got)

	clk.Advance(60 * time.Second)
	require.True(t, w.Allow(ctx, "user:1", 5, 60*time.Second), "window elapsed")
}

func TestWindow_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	w := NewWindow(cache.NewMemory(clock.NewFixed(testNow)), nil)
	ctx := context.Background()

	require.True(t, w.Allow(ctx, "ip:10.0.0.1", 1, time.Minute))
	require.False(t, w.Allow(ctx, "ip:10.0.0.1", 1, time.Minute))
	require.True(t, w.Allow(ctx, "user:42", 1, time.Minute))
}

func TestWindow_FailsOpen(t *testing.T) {
	t.Parallel()
	w := NewWindow(downCache{}, zaptest.NewLogger(t))
	for i := 0; i < 20; i++ {
		require.True(t, w.Allow(context.Background(), "k", 1, time.Minute))
	}
}

func TestWindow_NoPolicyAdmits(t *testing.T) {
	t.Parallel()
	w := NewWindow(downCache{}, nil)
	require.True(t, w.Allow(context.Background(), "k", 0, time.Minute))
}
