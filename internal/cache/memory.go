package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/and161185/authguard/internal/clock"
)

type entry struct {
	value   string
	expires time.Time // zero = no expiry
}

// Memory is a single-process Cache. It is used for development (-memory-cache)
// and in tests; it provides no cross-process coordination.
type Memory struct {
	mu    sync.Mutex
	clock clock.Clock
	data  map[string]entry
}

// NewMemory returns an empty in-process cache driven by clk.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.System{}
	}
	return &Memory{clock: clk, data: map[string]entry{}}
}

// lookup returns the live entry for key, evicting it if expired. Caller holds mu.
func (m *Memory) lookup(key string) (entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.data, key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}

// Get implements Cache.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	return e.value, ok, nil
}

// Set implements Cache.
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry{value: value, expires: m.deadline(ttl)}
	return nil
}

// Del implements Cache.
func (m *Memory) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// IncrementAndExpireIfFirst implements Cache.
func (m *Memory) IncrementAndExpireIfFirst(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	var n int64
	if ok {
		cur, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = cur
	}
	n++
	if n == 1 {
		e.expires = m.deadline(ttl)
	}
	e.value = strconv.FormatInt(n, 10)
	m.data[key] = e
	return n, nil
}
