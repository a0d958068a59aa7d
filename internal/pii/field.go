// Package pii implements the encrypted searchable field used for national ID
// storage.
//
// A value is persisted twice: as reversible ciphertext (ChaCha20-Poly1305,
// random nonce, key managed outside this package) and as a one-way SHA-256
// digest of the normalized digits. The digest gives the store a deterministic
// column for uniqueness and lookup; neither comparison nor conflict detection
// ever requires decryption.
package pii

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/chacha20poly1305"

	dErrors "docflow/pkg/domain-errors"
)

// KeySize is the required encryption key length in bytes.
const KeySize = chacha20poly1305.KeySize

// Sealed is the persistable form of a national ID. Hash is empty when the
// normalized value had no digits; the store enforces uniqueness only on
// non-empty hashes.
type Sealed struct {
	Ciphertext []byte
	Hash       string
}

// HasHash reports whether the sealed value carries a searchable digest.
func (s Sealed) HasHash() bool { return s.Hash != "" }

// Codec seals and opens national ID values. Safe for concurrent use.
type Codec struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewCodec builds a codec from a raw 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "encryption key must be 32 bytes")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "init cipher", err)
	}
	return &Codec{aead: aead}, nil
}

// Normalize strips everything that is not a digit. "123.456.789-09" and
// "12345678909" normalize to the same value.
func Normalize(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			out = append(out, raw[i])
		}
	}
	return string(out)
}

// Hash returns the fixed-width hex digest of the normalized value, or ""
// when normalization leaves nothing. Deterministic across formattings of the
// same ID.
func Hash(raw string) string {
	normalized := Normalize(raw)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Seal encrypts the raw value as entered and computes the searchable hash.
// The hash is always recomputed from the raw input, never carried over from
// prior state.
func (c *Codec) Seal(raw string) (Sealed, error) {
	if raw == "" {
		return Sealed{}, nil
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, dErrors.Wrap(dErrors.CodeInternal, "generate nonce", err)
	}
	// Nonce is prepended so Open needs no extra bookkeeping.
	ciphertext := c.aead.Seal(nonce, nonce, []byte(raw), nil)
	return Sealed{Ciphertext: ciphertext, Hash: Hash(raw)}, nil
}

// Open decrypts a sealed value back to the raw input. Only the owning
// application layer calls this; logging and hashing never do.
func (c *Codec) Open(ciphertext []byte) (string, error) {
	if len(ciphertext) < chacha20poly1305.NonceSize {
		return "", dErrors.New(dErrors.CodeInvalidInput, "ciphertext too short")
	}
	nonce := ciphertext[:chacha20poly1305.NonceSize]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext[chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeInternal, "decrypt national id", err)
	}
	return string(plaintext), nil
}
