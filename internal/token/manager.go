package token

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/authguard/internal/audit"
	"github.com/and161185/authguard/internal/clock"
	"github.com/and161185/authguard/internal/crypto"
	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/limiter"
	"github.com/and161185/authguard/internal/model"
	"github.com/and161185/authguard/internal/repository"
)

// SecondFactor is the part of the TOTP engine consulted at login.
type SecondFactor interface {
	Enabled(ctx context.Context, userID uuid.UUID) (bool, error)
	Validate(ctx context.Context, userID uuid.UUID, code string) bool
}

// Config holds token lifetimes.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Deps groups Manager collaborators. Lockout, Clock, Audit and Log are optional.
type Deps struct {
	Users     repository.UserRepository
	Refresh   repository.RefreshRepository
	TwoFactor SecondFactor
	Signer    *Signer
	Ledger    *Ledger
	Lockout   limiter.Lockout
	Clock     clock.Clock
	Audit     audit.Publisher
	Log       *zap.Logger
}

// Manager runs login, refresh rotation and logout.
type Manager struct {
	d   Deps
	cfg Config
}

// LoginRequest carries login input. Code may be a TOTP code or a backup code.
type LoginRequest struct {
	Username string
	Password string
	Code     string
	RemoteIP string
}

// NewManager constructs a Manager.
func NewManager(d Deps, cfg Config) *Manager {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Manager{d: d, cfg: cfg}
}

// Login verifies credentials (and the second factor when enabled), persists
// a refresh record and returns a fresh token pair.
func (m *Manager) Login(ctx context.Context, req LoginRequest) (*model.Tokens, error) {
	now := m.d.Clock.Now()
	ipHash := limiter.HashIP(req.RemoteIP)

	if m.d.Lockout != nil {
		ok, _, err := m.d.Lockout.Allow(ctx, req.Username, ipHash)
		if err != nil {
			m.d.Log.Warn("login: lockout check failed", zap.Error(err))
		} else if !ok {
			return nil, errs.ErrRateLimited
		}
	}

	u, err := m.d.Users.GetByUsername(ctx, req.Username)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			m.d.Log.Error("login: user lookup", zap.Error(err))
		}
		crypto.VerifyUnknownUser([]byte(req.Password))
		return nil, m.loginFailed(ctx, req.Username, ipHash, "", now, errs.ErrInvalidCredentials)
	}
	if !crypto.VerifyPassword([]byte(req.Password), u.SaltAuth, u.PwdHash) || !u.Active {
		return nil, m.loginFailed(ctx, req.Username, ipHash, u.ID.String(), now, errs.ErrInvalidCredentials)
	}

	on, err := m.d.TwoFactor.Enabled(ctx, u.ID)
	if err != nil {
		m.d.Log.Warn("login: 2fa state unknown, requiring code", zap.Stringer("user_id", u.ID), zap.Error(err))
		on = true
	}
	if on {
		if req.Code == "" {
			return nil, errs.Err2FARequired
		}
		if !m.d.TwoFactor.Validate(ctx, u.ID, req.Code) {
			return nil, m.loginFailed(ctx, req.Username, ipHash, u.ID.String(), now, errs.ErrInvalid2FACode)
		}
	}

	if m.d.Lockout != nil {
		if err := m.d.Lockout.Success(ctx, req.Username, ipHash); err != nil {
			m.d.Log.Warn("login: lockout reset failed", zap.Error(err))
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	pair, refreshExp, err := m.issue(u, id, now)
	if err != nil {
		m.d.Log.Error("login: sign tokens", zap.Error(err))
		return nil, err
	}
	rec := &model.RefreshRecord{
		ID:        id,
		UserID:    u.ID,
		TokenHash: Fingerprint(pair.RefreshToken),
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	}
	if err := m.d.Refresh.Create(ctx, rec); err != nil {
		m.d.Log.Error("login: persist refresh record", zap.Stringer("user_id", u.ID), zap.Error(err))
		return nil, errs.ErrUnavailable
	}
	m.emit(ctx, audit.LoginSucceeded, u.ID.String(), now, nil)
	return pair, nil
}

func (m *Manager) loginFailed(ctx context.Context, username string, ipHash []byte, userID string, now time.Time, cause error) error {
	m.emit(ctx, audit.LoginFailed, userID, now, map[string]string{"reason": string(errs.KindOf(cause))})
	if m.d.Lockout == nil {
		return cause
	}
	blocked, _, err := m.d.Lockout.Failure(ctx, username, ipHash)
	if err != nil {
		m.d.Log.Warn("login: record failure", zap.Error(err))
		return cause
	}
	if blocked {
		return errs.ErrRateLimited
	}
	return cause
}

// Refresh rotates a refresh token. Of concurrent calls presenting the same
// token at most one succeeds; the record is swapped conditionally on the old
// fingerprint.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*model.Tokens, error) {
	now := m.d.Clock.Now()
	fp := Fingerprint(refreshToken)

	rec, err := m.d.Refresh.FindByTokenHash(ctx, fp)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			m.d.Log.Error("refresh: record lookup", zap.Error(err))
		}
		return nil, errs.ErrInvalidRefreshToken
	}
	if !now.Before(rec.ExpiresAt) {
		if err := m.d.Refresh.Delete(ctx, rec.ID); err != nil {
			m.d.Log.Warn("refresh: delete expired record", zap.Stringer("record_id", rec.ID), zap.Error(err))
		}
		return nil, errs.ErrInvalidRefreshToken
	}
	revoked, err := m.d.Ledger.Revoked(ctx, fp)
	if err != nil {
		m.d.Log.Warn("refresh: ledger unavailable, rejecting", zap.Error(err))
		return nil, errs.ErrRevokedRefreshToken
	}
	if revoked {
		return nil, errs.ErrRevokedRefreshToken
	}
	claims, err := m.d.Signer.Parse(refreshToken, TypeRefresh, now)
	if err != nil {
		return nil, errs.ErrInvalidRefreshToken
	}
	uid, _ := claims.UserID()
	sid, _ := claims.Session()
	if uid != rec.UserID || sid != rec.ID {
		m.d.Log.Warn("refresh: token does not match record", zap.Stringer("record_id", rec.ID))
		return nil, errs.ErrInvalidRefreshToken
	}
	u, err := m.d.Users.GetByID(ctx, rec.UserID)
	if err != nil || !u.Active {
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			m.d.Log.Error("refresh: user lookup", zap.Error(err))
		}
		return nil, errs.ErrInvalidRefreshToken
	}

	pair, refreshExp, err := m.issue(u, rec.ID, now)
	if err != nil {
		m.d.Log.Error("refresh: sign tokens", zap.Error(err))
		return nil, err
	}
	swapped, err := m.d.Refresh.CompareAndSwapToken(ctx, fp, Fingerprint(pair.RefreshToken), now, refreshExp)
	if err != nil {
		m.d.Log.Error("refresh: rotate record", zap.Stringer("record_id", rec.ID), zap.Error(err))
		return nil, errs.ErrUnavailable
	}
	if !swapped {
		return nil, errs.ErrInvalidRefreshToken
	}
	if err := m.d.Ledger.Revoke(ctx, fp, rec.ExpiresAt, now); err != nil {
		// The record no longer references fp, so the old token cannot be looked up.
		m.d.Log.Warn("refresh: ledger write failed", zap.Stringer("record_id", rec.ID), zap.Error(err))
	}
	m.emit(ctx, audit.TokenRefreshed, u.ID.String(), now, nil)
	return pair, nil
}

// Logout revokes the access token and the refresh token of the session it
// was issued for (the "sid" claim) and deletes that session's record.
func (m *Manager) Logout(ctx context.Context, accessToken string) error {
	now := m.d.Clock.Now()
	claims, err := m.d.Signer.Parse(accessToken, TypeAccess, now)
	if err != nil {
		return errs.ErrInvalidToken
	}
	uid, _ := claims.UserID()
	sid, err := claims.Session()
	if err != nil {
		return errs.ErrNoActiveSession
	}

	rec, err := m.d.Refresh.FindSession(ctx, uid, sid)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			m.d.Log.Error("logout: record lookup", zap.Stringer("user_id", uid), zap.Error(err))
		}
		return errs.ErrNoActiveSession
	}
	accessFP := Fingerprint(accessToken)
	revoked, err := m.d.Ledger.Revoked(ctx, accessFP)
	if err != nil {
		m.d.Log.Warn("logout: ledger unavailable", zap.Error(err))
		return errs.ErrAlreadyLoggedOut
	}
	if revoked {
		return errs.ErrAlreadyLoggedOut
	}

	if err := m.d.Ledger.Revoke(ctx, accessFP, claims.ExpiresAt.Time, now); err != nil {
		m.d.Log.Error("logout: revoke access token", zap.Stringer("user_id", uid), zap.Error(err))
		return errs.ErrUnavailable
	}
	if err := m.d.Ledger.Revoke(ctx, rec.TokenHash, rec.ExpiresAt, now); err != nil {
		m.d.Log.Error("logout: revoke refresh token", zap.Stringer("user_id", uid), zap.Error(err))
		return errs.ErrUnavailable
	}
	if err := m.d.Refresh.Delete(ctx, rec.ID); err != nil {
		// Both tokens are already blacklisted; the stale record expires unused.
		m.d.Log.Warn("logout: delete record", zap.Stringer("record_id", rec.ID), zap.Error(err))
	}
	m.emit(ctx, audit.LoggedOut, uid.String(), now, nil)
	return nil
}

// issue mints a token pair bound to session sid.
func (m *Manager) issue(u *model.User, sid uuid.UUID, now time.Time) (*model.Tokens, time.Time, error) {
	access, accessExp, err := m.d.Signer.Sign(u.ID, u.Username, sid, TypeAccess, now, m.cfg.AccessTTL)
	if err != nil {
		return nil, time.Time{}, err
	}
	refresh, refreshExp, err := m.d.Signer.Sign(u.ID, u.Username, sid, TypeRefresh, now, m.cfg.RefreshTTL)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp}, refreshExp, nil
}

func (m *Manager) emit(ctx context.Context, typ, userID string, at time.Time, meta map[string]string) {
	m.d.Audit.Publish(ctx, audit.Event{Type: typ, UserID: userID, At: at, Meta: meta})
}
