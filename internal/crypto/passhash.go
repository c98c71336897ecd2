// Package crypto implements server-side password and backup-code hashing and
// sealing of second-factor secrets at rest.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// SaltLen is the length of per-user password salts.
const SaltLen = 16

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewCredential hashes password under a fresh salt and returns both.
func NewCredential(password []byte) (hash, salt []byte, err error) {
	salt, err = RandBytes(SaltLen)
	if err != nil {
		return nil, nil, err
	}
	return HashPassword(password, salt), salt, nil
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

var (
	decoyOnce sync.Once
	decoySalt = []byte("authguard-decoy-salt")
	decoyHash []byte
)

// VerifyUnknownUser spends one full verification on a decoy credential and
// always reports false, so a missing account costs as much as a wrong password.
func VerifyUnknownUser(password []byte) bool {
	decoyOnce.Do(func() { decoyHash = HashPassword([]byte{0}, decoySalt) })
	VerifyPassword(password, decoySalt, decoyHash)
	return false
}
