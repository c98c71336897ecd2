// Package totp implements the second authentication factor: RFC 6238 codes
// with one step of clock skew, plus single-use backup codes.
package totp

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/and161185/authguard/internal/audit"
	"github.com/and161185/authguard/internal/clock"
	"github.com/and161185/authguard/internal/crypto"
	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/model"
	"github.com/and161185/authguard/internal/repository"
)

const (
	period     = 30
	skew       = 1
	secretSize = 20
	codeBytes  = 5
)

var validateOpts = totp.ValidateOpts{
	Period:    period,
	Skew:      skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config tunes the engine.
type Config struct {
	Issuer          string
	BackupCodeCount int
	BackupCodeCost  int // bcrypt cost
}

// Engine manages per-user TOTP state.
type Engine struct {
	repo  repository.TwoFactorRepository
	users repository.UserRepository
	box   *crypto.SecretBox
	clock clock.Clock
	rand  io.Reader
	audit audit.Publisher
	log   *zap.Logger
	cfg   Config
}

// Deps groups Engine collaborators. Clock, Rand, Audit and Log are optional.
type Deps struct {
	Repo  repository.TwoFactorRepository
	Users repository.UserRepository
	Box   *crypto.SecretBox
	Clock clock.Clock
	Rand  io.Reader
	Audit audit.Publisher
	Log   *zap.Logger
}

// New constructs an Engine.
func New(d Deps, cfg Config) *Engine {
	e := &Engine{
		repo: d.Repo, users: d.Users, box: d.Box,
		clock: d.Clock, rand: d.Rand, audit: d.Audit, log: d.Log, cfg: cfg,
	}
	if e.clock == nil {
		e.clock = clock.System{}
	}
	if e.rand == nil {
		e.rand = rand.Reader
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.cfg.BackupCodeCount <= 0 {
		e.cfg.BackupCodeCount = 10
	}
	if e.cfg.Issuer == "" {
		e.cfg.Issuer = "authguard"
	}
	return e
}

// Setup starts (or restarts) enrollment: a fresh secret replaces any pending
// one and a new batch of backup codes is issued. Plaintext codes are returned
// only here.
func (e *Engine) Setup(ctx context.Context, userID uuid.UUID) (*model.TwoFactorEnrollment, error) {
	now := e.clock.Now()
	cur, err := e.repo.Get(ctx, userID)
	switch {
	case err == nil && cur.Enabled:
		return nil, errs.Err2FAAlreadyEnabled
	case err != nil && !errors.Is(err, errs.ErrNotFound):
		return nil, fmt.Errorf("totp setup: load setting: %w", err)
	}
	u, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrInvalidToken
		}
		return nil, fmt.Errorf("totp setup: load user: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.cfg.Issuer,
		AccountName: u.Username,
		Period:      period,
		SecretSize:  secretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		Rand:        e.rand,
	})
	if err != nil {
		return nil, fmt.Errorf("totp setup: generate: %w", err)
	}
	sealed, err := e.box.Seal(userID.Bytes(), []byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("totp setup: seal: %w", err)
	}
	plain, hashed, err := e.newBackupCodes(userID)
	if err != nil {
		return nil, err
	}
	s := &model.TwoFactorSetting{UserID: userID, SecretSealed: sealed, CreatedAt: now}
	if err := e.repo.SavePending(ctx, s, hashed); err != nil {
		if errors.Is(err, errs.ErrVersionConflict) {
			return nil, errs.Err2FAAlreadyEnabled
		}
		return nil, fmt.Errorf("totp setup: save: %w", err)
	}
	e.emit(ctx, audit.TwoFactorSetup, userID, now)
	return &model.TwoFactorEnrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     plain,
	}, nil
}

// Confirm enables a pending setting once the user proves possession of the secret.
func (e *Engine) Confirm(ctx context.Context, userID uuid.UUID, code string) error {
	now := e.clock.Now()
	s, err := e.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.Err2FANotInitiated
		}
		return fmt.Errorf("totp confirm: load setting: %w", err)
	}
	if s.Enabled {
		return errs.Err2FAAlreadyEnabled
	}
	secret, err := e.box.Open(userID.Bytes(), s.SecretSealed)
	if err != nil {
		return fmt.Errorf("totp confirm: open secret: %w", err)
	}
	if !checkCode(string(secret), code, now) {
		return errs.ErrInvalid2FACode
	}
	if err := e.repo.Enable(ctx, userID, now); err != nil {
		if errors.Is(err, errs.ErrVersionConflict) {
			return errs.Err2FAAlreadyEnabled
		}
		return fmt.Errorf("totp confirm: enable: %w", err)
	}
	e.emit(ctx, audit.TwoFactorEnabled, userID, now)
	return nil
}

// Enabled reports whether the user has an active second factor.
func (e *Engine) Enabled(ctx context.Context, userID uuid.UUID) (bool, error) {
	s, err := e.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.Enabled, nil
}

// Validate checks code as a TOTP code first and then against the unused
// backup codes. A matching backup code is consumed. Any store failure yields false.
func (e *Engine) Validate(ctx context.Context, userID uuid.UUID, code string) bool {
	now := e.clock.Now()
	s, err := e.repo.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			e.log.Warn("totp validate: load setting", zap.Stringer("user_id", userID), zap.Error(err))
		}
		return false
	}
	if !s.Enabled {
		return false
	}
	secret, err := e.box.Open(userID.Bytes(), s.SecretSealed)
	if err != nil {
		e.log.Error("totp validate: open secret", zap.Stringer("user_id", userID), zap.Error(err))
		return false
	}
	if checkCode(string(secret), code, now) {
		return true
	}
	return e.consumeBackupCode(ctx, userID, code, now)
}

func (e *Engine) consumeBackupCode(ctx context.Context, userID uuid.UUID, code string, now time.Time) bool {
	code = normalizeCode(code)
	if code == "" {
		return false
	}
	codes, err := e.repo.UnusedBackupCodes(ctx, userID)
	if err != nil {
		e.log.Warn("totp validate: list backup codes", zap.Stringer("user_id", userID), zap.Error(err))
		return false
	}
	for _, c := range codes {
		if !crypto.MatchBackupCode(c.CodeHash, code) {
			continue
		}
		ok, err := e.repo.ConsumeBackupCode(ctx, c.ID, now)
		if err != nil {
			e.log.Warn("totp validate: consume backup code", zap.Stringer("user_id", userID), zap.Error(err))
			return false
		}
		if ok {
			e.emit(ctx, audit.BackupCodeUsed, userID, now)
		}
		return ok
	}
	return false
}

// Disable turns the second factor off and discards its secret and backup codes.
func (e *Engine) Disable(ctx context.Context, userID uuid.UUID) error {
	now := e.clock.Now()
	if err := e.requireEnabled(ctx, userID); err != nil {
		return err
	}
	if err := e.repo.Disable(ctx, userID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.Err2FANotEnabled
		}
		return fmt.Errorf("totp disable: %w", err)
	}
	e.emit(ctx, audit.TwoFactorDisabled, userID, now)
	return nil
}

// RegenerateBackupCodes replaces all backup codes with a fresh batch.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	now := e.clock.Now()
	if err := e.requireEnabled(ctx, userID); err != nil {
		return nil, err
	}
	plain, hashed, err := e.newBackupCodes(userID)
	if err != nil {
		return nil, err
	}
	if err := e.repo.ReplaceBackupCodes(ctx, userID, hashed); err != nil {
		return nil, fmt.Errorf("totp regenerate: %w", err)
	}
	e.emit(ctx, audit.BackupCodesRegenerate, userID, now)
	return plain, nil
}

func (e *Engine) requireEnabled(ctx context.Context, userID uuid.UUID) error {
	on, err := e.Enabled(ctx, userID)
	if err != nil {
		return fmt.Errorf("totp: load setting: %w", err)
	}
	if !on {
		return errs.Err2FANotEnabled
	}
	return nil
}

func (e *Engine) newBackupCodes(userID uuid.UUID) ([]string, []model.BackupCode, error) {
	plain := make([]string, 0, e.cfg.BackupCodeCount)
	hashed := make([]model.BackupCode, 0, e.cfg.BackupCodeCount)
	buf := make([]byte, codeBytes)
	for i := 0; i < e.cfg.BackupCodeCount; i++ {
		if _, err := io.ReadFull(e.rand, buf); err != nil {
			return nil, nil, fmt.Errorf("backup code entropy: %w", err)
		}
		raw := codeEncoding.EncodeToString(buf)
		h, err := crypto.HashBackupCode(raw, e.cfg.BackupCodeCost)
		if err != nil {
			return nil, nil, fmt.Errorf("backup code hash: %w", err)
		}
		id, err := uuid.NewV4()
		if err != nil {
			return nil, nil, err
		}
		plain = append(plain, raw[:4]+"-"+raw[4:])
		hashed = append(hashed, model.BackupCode{ID: id, UserID: userID, CodeHash: h})
	}
	return plain, hashed, nil
}

func (e *Engine) emit(ctx context.Context, typ string, userID uuid.UUID, at time.Time) {
	e.audit.Publish(ctx, audit.Event{Type: typ, UserID: userID.String(), At: at})
}

func checkCode(secret, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != int(otp.DigitsSix) {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now, validateOpts)
	return err == nil && ok
}

// normalizeCode strips separators so "abcd-efgh" and "ABCDEFGH" match.
func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}
