// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotcrypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, password string) ([]byte, []byte) {
	t.Helper()
	salt, err := RandomSalt()
	require.NoError(t, err)
	key, err := DeriveKey(password, salt, DefaultIterations)
	require.NoError(t, err)
	return key, salt
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := RandomSalt()
	require.NoError(t, err)

	k1, err := DeriveKey("correct horse battery staple", salt, DefaultIterations)
	require.NoError(t, err)
	k2, err := DeriveKey("correct horse battery staple", salt, DefaultIterations)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, KeySize)

	k3, err := DeriveKey("different password", salt, DefaultIterations)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveKeyDistinctSalts(t *testing.T) {
	s1, err := RandomSalt()
	require.NoError(t, err)
	s2, err := RandomSalt()
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)

	k1, err := DeriveKey("pw", s1, DefaultIterations)
	require.NoError(t, err)
	k2, err := DeriveKey("pw", s2, DefaultIterations)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestDeriveKeyFloorsIterations(t *testing.T) {
	salt, err := RandomSalt()
	require.NoError(t, err)

	low, err := DeriveKey("pw", salt, 1000)
	require.NoError(t, err)
	floored, err := DeriveKey("pw", salt, DefaultIterations)
	require.NoError(t, err)
	assert.Equal(t, floored, low)
}

func TestDeriveKeyShortSalt(t *testing.T) {
	_, err := DeriveKey("pw", []byte("short"), DefaultIterations)
	assert.ErrorIs(t, err, ErrKeyDerivation)
}

func TestEncryptDecryptText(t *testing.T) {
	key, _ := testKey(t, "pw")

	env, err := EncryptText("hello world", key)
	require.NoError(t, err)
	assert.NotEmpty(t, env.Ciphertext)
	assert.NotEmpty(t, env.IV)

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	require.NoError(t, err)
	assert.Len(t, iv, IVSize)

	plain, err := DecryptText(env, key)
	require.NoError(t, err)
	assert.Equal(t, "hello world", plain)
}

func TestEncryptFreshIVPerCall(t *testing.T) {
	key, _ := testKey(t, "pw")

	e1, err := EncryptText("same plaintext", key)
	require.NoError(t, err)
	e2, err := EncryptText("same plaintext", key)
	require.NoError(t, err)
	assert.NotEqual(t, e1.IV, e2.IV)
	assert.NotEqual(t, e1.Ciphertext, e2.Ciphertext)
}

func TestDecryptWrongKeyFailsClosed(t *testing.T) {
	k1, _ := testKey(t, "password1")
	k2, _ := testKey(t, "password2")

	env, err := EncryptText("secret", k1)
	require.NoError(t, err)

	_, err = DecryptText(env, k2)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptCorruptCiphertext(t *testing.T) {
	key, _ := testKey(t, "pw")
	env, err := EncryptText("secret", key)
	require.NoError(t, err)

	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	require.NoError(t, err)
	ct[0] ^= 0xff
	env.Ciphertext = base64.StdEncoding.EncodeToString(ct)

	_, err = DecryptText(env, key)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptMalformedEnvelope(t *testing.T) {
	key, _ := testKey(t, "pw")

	_, err := DecryptText(Envelope{Ciphertext: "!!!not-base64!!!", IV: "AAAA"}, key)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = DecryptText(Envelope{Ciphertext: "AAAA", IV: "AAAA"}, key) // IV too short
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestEncryptDecryptBytes(t *testing.T) {
	key, _ := testKey(t, "pw")

	payload := make([]byte, 1<<20) // 1 MiB, the attachment scenario size
	for i := range payload {
		payload[i] = byte(i * 31)
	}

	env, err := EncryptBytes(payload, key)
	require.NoError(t, err)
	out, err := DecryptBytes(env, key)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestEncryptDecryptJSON(t *testing.T) {
	key, _ := testKey(t, "pw")

	tags := []string{"work", "Ideas", "x"}
	env, err := EncryptJSON(tags, key)
	require.NoError(t, err)

	var out []string
	require.NoError(t, DecryptJSON(env, key, &out))
	assert.Equal(t, tags, out)
}

func TestEnvelopeMarshalRoundtrip(t *testing.T) {
	key, _ := testKey(t, "pw")
	env, err := EncryptText("doc", key)
	require.NoError(t, err)

	parsed, err := ParseEnvelope(env.Marshal())
	require.NoError(t, err)
	assert.Equal(t, env, parsed)

	_, err = ParseEnvelope("not json")
	assert.ErrorIs(t, err, ErrDecrypt)
	_, err = ParseEnvelope(`{"ciphertext":"","iv":""}`)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestHash(t *testing.T) {
	h1 := Hash("test data")
	h2 := Hash("test data")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, Hash("other data"))

	raw, err := base64.StdEncoding.DecodeString(h1)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestNewUUID(t *testing.T) {
	id := NewUUID()
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, NewUUID())
}
