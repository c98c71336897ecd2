// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens is an issued access/refresh pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry
}

// User is a credential record. Read-only for the auth core.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	Active    bool
	CreatedAt time.Time
}

// RefreshRecord is the persisted state of one session. TokenHash is the
// fingerprint of the current refresh token; rotation swaps it in place.
type RefreshRecord struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TwoFactorSetting is the per-user TOTP state. SecretSealed holds the
// shared secret sealed under the server key.
type TwoFactorSetting struct {
	UserID       uuid.UUID
	SecretSealed []byte
	Enabled      bool
	EnabledAt    *time.Time
	CreatedAt    time.Time
}

// BackupCode is one single-use recovery code; only its hash is stored.
type BackupCode struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	CodeHash []byte
	Used     bool
	UsedAt   *time.Time
}

// TwoFactorEnrollment is returned once by setup; plaintext codes are never re-derivable.
type TwoFactorEnrollment struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}
