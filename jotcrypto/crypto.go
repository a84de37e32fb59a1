// Package jotcrypto implements the Jottery end-to-end encryption
// envelope: PBKDF2 key derivation, AES-256-GCM payload wrapping, and
// the in-memory master key lifecycle.
//
// The server never sees any of this; everything it stores is an opaque
// envelope produced here.
// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the derived master key length in bytes (256 bits).
	KeySize = 32
	// IVSize is the AES-GCM nonce length in bytes (96 bits).
	IVSize = 12
	// SaltSize is the per-store PBKDF2 salt length in bytes.
	SaltSize = 32
	// DefaultIterations is the PBKDF2 iteration count written at store
	// initialization. Stores created with a higher count keep it; lower
	// stored counts are floored to this value at derive time.
	DefaultIterations = 100_000
)

var (
	// ErrDecrypt is returned whenever an envelope fails to open. Callers
	// cannot distinguish a wrong key from corrupt ciphertext.
	ErrDecrypt = errors.New("decryption failed")

	// ErrKeyDerivation is returned when key derivation inputs are unusable.
	ErrKeyDerivation = errors.New("key derivation failed")
)

// Envelope is the transport form of an encrypted payload. Both fields
// are standard base64. The GCM authentication tag is appended to the
// ciphertext, as the algorithm defines.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// Marshal serializes the envelope to its canonical JSON document, the
// form stored in the local database and carried on the wire.
func (e Envelope) Marshal() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// ParseEnvelope parses a serialized envelope document.
func ParseEnvelope(s string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed envelope", ErrDecrypt)
	}
	if e.Ciphertext == "" || e.IV == "" {
		return Envelope{}, fmt.Errorf("%w: malformed envelope", ErrDecrypt)
	}
	return e, nil
}

// DeriveKey derives the 256-bit master key from a password and salt
// using PBKDF2 over HMAC-SHA-256. Iteration counts below
// DefaultIterations are floored to it.
func DeriveKey(password string, salt []byte, iterations int) ([]byte, error) {
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrKeyDerivation, SaltSize)
	}
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New), nil
}

// EncryptText encrypts a UTF-8 string under key with a fresh random IV.
func EncryptText(plaintext string, key []byte) (Envelope, error) {
	return EncryptBytes([]byte(plaintext), key)
}

// DecryptText opens an envelope and returns the plaintext string.
func DecryptText(env Envelope, key []byte) (string, error) {
	b, err := DecryptBytes(env, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncryptBytes encrypts an opaque payload under key with a fresh random IV.
func EncryptBytes(data, key []byte) (Envelope, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return Envelope{}, err
	}
	iv, err := RandomIV()
	if err != nil {
		return Envelope{}, err
	}
	ct := gcm.Seal(nil, iv, data, nil)
	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// DecryptBytes opens an envelope. Any failure — bad base64, short IV,
// tag mismatch — collapses to ErrDecrypt.
func DecryptBytes(env Envelope, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrDecrypt
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != IVSize {
		return nil, ErrDecrypt
	}
	pt, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// EncryptJSON marshals v and encrypts the resulting document.
func EncryptJSON(v any, key []byte) (Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return EncryptBytes(b, key)
}

// DecryptJSON opens an envelope and unmarshals the plaintext into out.
func DecryptJSON(env Envelope, key []byte, out any) error {
	b, err := DecryptBytes(env, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: payload is not valid JSON", ErrDecrypt)
	}
	return nil
}

// Hash returns the base64-encoded SHA-256 digest of text. Used for
// content fingerprints in sync conflict detection.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// NewUUID returns a fresh random 128-bit id in the 36-character
// hyphenated form used for notes, attachments and clients.
func NewUUID() string {
	return uuid.New().String()
}

// RandomSalt returns a cryptographically strong per-store salt.
func RandomSalt() ([]byte, error) {
	return randomBytes(SaltSize)
}

// RandomIV returns a cryptographically strong GCM nonce.
func RandomIV() ([]byte, error) {
	return randomBytes(IVSize)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrKeyDerivation, KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	return gcm, nil
}
