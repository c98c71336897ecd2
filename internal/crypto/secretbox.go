package crypto

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MinMasterKeyLen is the shortest master key NewSecretBox accepts.
const MinMasterKeyLen = 32

var errSealedTooShort = errors.New("sealed value too short")

// SecretBox encrypts small secrets (TOTP seeds) with XChaCha20-Poly1305 under
// a key derived from the configured master key. The owner's id is bound as AAD
// so a sealed value cannot be moved between users.
type SecretBox struct {
	key []byte
}

// NewSecretBox derives the sealing key from master via HKDF-SHA256.
func NewSecretBox(master []byte) (*SecretBox, error) {
	if len(master) < MinMasterKeyLen {
		return nil, errors.New("secretbox: master key must be at least 32 bytes")
	}
	r := hkdf.New(sha256.New, master, nil, []byte("authguard/totp-secret/v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return &SecretBox{key: key}, nil
}

// Seal encrypts plaintext with a random nonce; output is nonce||ciphertext.
func (b *SecretBox) Seal(owner, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, owner)...)
	return out, nil
}

// Open reverses Seal for the same owner.
func (b *SecretBox) Open(owner, sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errSealedTooShort
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	ct := sealed[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, owner)
}
