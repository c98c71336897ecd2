package token

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/model"
	"github.com/and161185/authguard/internal/repository"
)

type fakeUsers struct {
	byName map[string]*model.User
	getErr error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if _, ok := f.byName[u.Username]; ok {
		return errs.ErrAlreadyExists
	}
	c := *u
	f.byName[u.Username] = &c
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

type fakeRefresh struct {
	mu      sync.Mutex
	recs    map[uuid.UUID]model.RefreshRecord
	findErr   error
	casErr    error
	deleteErr error
}

var _ repository.RefreshRepository = (*fakeRefresh)(nil)

func newFakeRefresh() *fakeRefresh {
	return &fakeRefresh{recs: map[uuid.UUID]model.RefreshRecord{}}
}

func (f *fakeRefresh) Create(_ context.Context, rec *model.RefreshRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[rec.ID] = *rec
	return nil
}

func (f *fakeRefresh) FindByTokenHash(_ context.Context, h string) (*model.RefreshRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, r := range f.recs {
		if r.TokenHash == h {
			c := r
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeRefresh) FindSession(_ context.Context, userID, sessionID uuid.UUID) (*model.RefreshRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[sessionID]
	if !ok || r.UserID != userID {
		return nil, errs.ErrNotFound
	}
	return &r, nil
}

func (f *fakeRefresh) CompareAndSwapToken(_ context.Context, oldHash, newHash string, iat, exp time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.casErr != nil {
		return false, f.casErr
	}
	for id, r := range f.recs {
		if r.TokenHash == oldHash {
			r.TokenHash, r.IssuedAt, r.ExpiresAt = newHash, iat, exp
			f.recs[id] = r
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRefresh) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.recs, id)
	return nil
}

func (f *fakeRefresh) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

type fakeSecondFactor struct {
	enabled    bool
	enabledErr error
	validCode  string
}

func (f *fakeSecondFactor) Enabled(context.Context, uuid.UUID) (bool, error) {
	return f.enabled, f.enabledErr
}

func (f *fakeSecondFactor) Validate(_ context.Context, _ uuid.UUID, code string) bool {
	return f.enabled && code == f.validCode
}

type fakeLockout struct {
	allow     bool
	allowErr  error
	blockNext bool
	fails     int
	successes int
}

func (f *fakeLockout) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	return f.allow, 0, f.allowErr
}

func (f *fakeLockout) Success(context.Context, string, []byte) error {
	f.successes++
	return nil
}

func (f *fakeLockout) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	f.fails++
	return f.blockNext, time.Minute, nil
}
