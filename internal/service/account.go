// Package service contains operator-facing account administration.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authguard/internal/audit"
	"github.com/and161185/authguard/internal/clock"
	pkgcrypto "github.com/and161185/authguard/internal/crypto"
	"github.com/and161185/authguard/internal/errs"
	"github.com/and161185/authguard/internal/model"
	"github.com/and161185/authguard/internal/repository"
)

// ErrValidation reports unusable input to an account operation.
var ErrValidation = errors.New("validation")

// MinPasswordLen is the shortest password Register accepts.
const MinPasswordLen = 8

// Accounts creates users and resets their second factor.
type Accounts struct {
	users     repository.UserRepository
	twoFactor repository.TwoFactorRepository
	clock     clock.Clock
	audit     audit.Publisher
}

// NewAccounts constructs Accounts. clk and pub may be nil.
func NewAccounts(users repository.UserRepository, tf repository.TwoFactorRepository, clk clock.Clock, pub audit.Publisher) *Accounts {
	if clk == nil {
		clk = clock.System{}
	}
	if pub == nil {
		pub = audit.Nop{}
	}
	return &Accounts{users: users, twoFactor: tf, clock: clk, audit: pub}
}

// Register creates an active user with an Argon2id password hash under a fresh salt.
func (a *Accounts) Register(ctx context.Context, username, password string) (uuid.UUID, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < MinPasswordLen {
		return uuid.Nil, fmt.Errorf("%w: username required, password at least %d bytes", ErrValidation, MinPasswordLen)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	hash, salt, err := pkgcrypto.NewCredential([]byte(password))
	if err != nil {
		return uuid.Nil, err
	}
	u := &model.User{
		ID:        uid,
		Username:  username,
		PwdHash:   hash,
		SaltAuth:  salt,
		Active:    true,
		CreatedAt: a.clock.Now().UTC().Truncate(time.Microsecond),
	}
	if err := a.users.Create(ctx, u); err != nil {
		return uuid.Nil, fmt.Errorf("create user: %w", err)
	}
	return uid, nil
}

// ResetTwoFactor disables 2FA for username and drops its backup codes.
// Returns errs.ErrNotFound if the user does not exist and errs.Err2FANotEnabled
// if 2FA was not enabled.
func (a *Accounts) ResetTwoFactor(ctx context.Context, username string) error {
	u, err := a.users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if err := a.twoFactor.Disable(ctx, u.ID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.Err2FANotEnabled
		}
		return fmt.Errorf("disable 2fa: %w", err)
	}
	a.audit.Publish(ctx, audit.Event{
		Type:   audit.TwoFactorDisabled,
		UserID: u.ID.String(),
		At:     a.clock.Now(),
		Meta:   map[string]string{"by": "operator"},
	})
	return nil
}
