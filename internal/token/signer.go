// Package token issues, rotates and revokes access/refresh token pairs.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/authguard/internal/errs"
)

// Token types carried in the "typ" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// MinKeyLen is the shortest accepted HS256 signing key.
const MinKeyLen = 32

// Claims are the JWT claims of both token types.
type Claims struct {
	jwt.RegisteredClaims
	Type      string `json:"typ"`
	Username  string `json:"name,omitempty"`
	SessionID string `json:"sid,omitempty"`
}

// UserID parses the subject.
func (c *Claims) UserID() (uuid.UUID, error) { return uuid.FromString(c.Subject) }

// Session parses the id of the refresh record the token belongs to.
func (c *Claims) Session() (uuid.UUID, error) { return uuid.FromString(c.SessionID) }

// Signer signs and verifies HS256 tokens with a single shared key.
type Signer struct {
	key    []byte
	issuer string
}

// NewSigner validates key length and returns a Signer.
func NewSigner(key []byte, issuer string) (*Signer, error) {
	if len(key) < MinKeyLen {
		return nil, errors.New("token: signing key must be at least 32 bytes")
	}
	return &Signer{key: key, issuer: issuer}, nil
}

// Sign mints a token of typ for the user's session valid from iat for ttl.
func (s *Signer) Sign(userID uuid.UUID, username string, sessionID uuid.UUID, typ string, iat time.Time, ttl time.Duration) (string, time.Time, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	exp := iat.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    s.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Type:      typ,
		Username:  username,
		SessionID: sessionID.String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, err
	}
	// Expiry is encoded with second precision.
	return signed, exp.Truncate(time.Second), nil
}

// Parse verifies signature, expiry at now, issuer and type. Every failure is
// reported as errs.ErrInvalidToken.
func (s *Signer) Parse(raw, typ string, now time.Time) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || c.Type != typ {
		return nil, errs.ErrInvalidToken
	}
	if _, err := c.UserID(); err != nil {
		return nil, errs.ErrInvalidToken
	}
	return &c, nil
}

// Fingerprint is the hex SHA-256 of a token string. Refresh records and
// ledger entries are keyed by it so raw tokens are never stored.
func Fingerprint(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
