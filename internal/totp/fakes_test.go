package totp

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/model"
	"github.com/and161185/authguard/internal/repository"
)

type memTwoFactor struct {
	mu       sync.Mutex
	settings map[uuid.UUID]model.TwoFactorSetting
	codes    map[uuid.UUID][]model.BackupCode
	getErr   error
}

var _ repository.TwoFactorRepository = (*memTwoFactor)(nil)

func newMemTwoFactor() *memTwoFactor {
	return &memTwoFactor{
		settings: map[uuid.UUID]model.TwoFactorSetting{},
		codes:    map[uuid.UUID][]model.BackupCode{},
	}
}

func (m *memTwoFactor) Get(_ context.Context, userID uuid.UUID) (*model.TwoFactorSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.settings[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &s, nil
}

func (m *memTwoFactor) SavePending(_ context.Context, s *model.TwoFactorSetting, codes []model.BackupCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.settings[s.UserID]; ok && cur.Enabled {
		return errs.ErrVersionConflict
	}
	m.settings[s.UserID] = *s
	m.codes[s.UserID] = append([]model.BackupCode(nil), codes...)
	return nil
}

func (m *memTwoFactor) Enable(_ context.Context, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[userID]
	if !ok || s.Enabled {
		return errs.ErrVersionConflict
	}
	s.Enabled = true
	s.EnabledAt = &at
	m.settings[userID] = s
	return nil
}

func (m *memTwoFactor) Disable(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[userID]
	if !ok || !s.Enabled {
		return errs.ErrNotFound
	}
	delete(m.settings, userID)
	delete(m.codes, userID)
	return nil
}

func (m *memTwoFactor) ReplaceBackupCodes(_ context.Context, userID uuid.UUID, codes []model.BackupCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[userID] = append([]model.BackupCode(nil), codes...)
	return nil
}

func (m *memTwoFactor) UnusedBackupCodes(_ context.Context, userID uuid.UUID) ([]model.BackupCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BackupCode
	for _, c := range m.codes[userID] {
		if !c.Used {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memTwoFactor) ConsumeBackupCode(_ context.Context, codeID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uid, cs := range m.codes {
		for i := range cs {
			if cs[i].ID == codeID {
				if cs[i].Used {
					return false, nil
				}
				cs[i].Used = true
				cs[i].UsedAt = &at
				m.codes[uid] = cs
				return true, nil
			}
		}
	}
	return false, nil
}

type memUsers struct{ users map[uuid.UUID]*model.User }

var _ repository.UserRepository = (*memUsers)(nil)

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) GetByUsername(_ context.Context, name string) (*model.User, error) {
	for _, u := range m.users {
		if u.Username == name {
			return u, nil
		}
	}
	return nil, errs.ErrNotFound
}
