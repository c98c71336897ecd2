package httpserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authguard/internal/cache"
	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/model"
)

type memUsers struct {
	mu    sync.Mutex
	users []*model.User
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, u)
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memUsers) GetByUsername(_ context.Context, name string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == name {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

type memRefresh struct {
	mu   sync.Mutex
	recs map[uuid.UUID]model.RefreshRecord
}

func (m *memRefresh) Create(_ context.Context, r *model.RefreshRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[r.ID] = *r
	return nil
}

func (m *memRefresh) FindByTokenHash(_ context.Context, h string) (*model.RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.TokenHash == h {
			c := r
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memRefresh) FindSession(_ context.Context, userID, sessionID uuid.UUID) (*model.RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[sessionID]
	if !ok || r.UserID != userID {
		return nil, errs.ErrNotFound
	}
	return &r, nil
}

func (m *memRefresh) CompareAndSwapToken(_ context.Context, oldHash, newHash string, iat, exp time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.recs {
		if r.TokenHash == oldHash {
			r.TokenHash, r.IssuedAt, r.ExpiresAt = newHash, iat, exp
			m.recs[id] = r
			return true, nil
		}
	}
	return false, nil
}

func (m *memRefresh) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

// fakeTwoFactor is a TwoFactorService and token.SecondFactor with fixed answers.
type fakeTwoFactor struct {
	mu      sync.Mutex
	enabled bool
	pending bool
}

func (f *fakeTwoFactor) Setup(context.Context, uuid.UUID) (*model.TwoFactorEnrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enabled {
		return nil, errs.Err2FAAlreadyEnabled
	}
	f.pending = true
	return &model.TwoFactorEnrollment{Secret: "JBSWY3DPEHPK3PXP", ProvisioningURI: "otpauth://totp/x", BackupCodes: []string{"AAAA-BBBB"}}, nil
}

func (f *fakeTwoFactor) Confirm(_ context.Context, _ uuid.UUID, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case !f.pending:
		return errs.Err2FANotInitiated
	case code != "123456":
		return errs.ErrInvalid2FACode
	}
	f.enabled, f.pending = true, false
	return nil
}

func (f *fakeTwoFactor) Enabled(context.Context, uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

func (f *fakeTwoFactor) Validate(_ context.Context, _ uuid.UUID, code string) bool {
	return code == "123456"
}

func (f *fakeTwoFactor) Disable(context.Context, uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.enabled {
		return errs.Err2FANotEnabled
	}
	f.enabled = false
	return nil
}

func (f *fakeTwoFactor) RegenerateBackupCodes(context.Context, uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.enabled {
		return nil, errs.Err2FANotEnabled
	}
	return []string{"CCCC-DDDD"}, nil
}

type downCache struct{}

var _ cache.Cache = downCache{}

func (downCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("down")
}
func (downCache) Set(context.Context, string, string, time.Duration) error { return errors.New("down") }
func (downCache) Del(context.Context, string) error { return errors.New("down") }
func (downCache) IncrementAndExpireIfFirst(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("down")
}
