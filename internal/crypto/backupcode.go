package crypto

import (
	"golang.org/x/crypto/bcrypt"
)

// HashBackupCode returns the bcrypt hash of a one-time recovery code.
// cost outside bcrypt's range falls back to bcrypt.DefaultCost.
func HashBackupCode(code string, cost int) ([]byte, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(code), cost)
}

// MatchBackupCode reports whether code matches hash.
func MatchBackupCode(hash []byte, code string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(code)) == nil
}
