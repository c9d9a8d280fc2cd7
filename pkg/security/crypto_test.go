package security

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	key := DeriveKey([]byte("test-password"), []byte("test-salt"))
	m, err := NewManager(key, []byte("jwt-secret-for-tests"), zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestNewManagerRejectsShortKey(t *testing.T) {
	_, err := NewManager([]byte("short"), []byte("secret"), zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := newTestManager(t)

	plaintext := []byte("farmer aadhaar 234567890123")
	sealed, err := m.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	recovered, err := m.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	m := newTestManager(t)

	a, err := m.Encrypt([]byte("same input"))
	require.NoError(t, err)
	b, err := m.Encrypt([]byte("same input"))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b))
}

func TestDecryptRejectsTampering(t *testing.T) {
	m := newTestManager(t)

	sealed, err := m.Encrypt([]byte("sensitive"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = m.Decrypt(sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Decrypt([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEncryptStringRoundTrip(t *testing.T) {
	m := newTestManager(t)

	encoded, err := m.EncryptString("hello")
	require.NoError(t, err)

	decoded, err := m.DecryptString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "hello", decoded)
}

func TestHashAndVerifyIntegrity(t *testing.T) {
	m := newTestManager(t)

	data := []byte("audit payload")
	hash := m.HashData(data)
	assert.Len(t, hash, 64)

	assert.True(t, m.VerifyIntegrity(data, hash))
	assert.False(t, m.VerifyIntegrity([]byte("tampered"), hash))
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey([]byte("password"), []byte("salt"))
	b := DeriveKey([]byte("password"), []byte("salt"))
	c := DeriveKey([]byte("password"), []byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	require.NoError(t, err)
	b, err := GenerateSalt()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestTokenLifecycle(t *testing.T) {
	m := newTestManager(t)

	token, err := m.GenerateToken("user-1", "validator", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token.Value)

	claims, err := m.ValidateToken(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "validator", claims.Role)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m := newTestManager(t)

	token, err := m.GenerateToken("user-1", "", -time.Minute)
	require.NoError(t, err)

	_, err = m.ValidateToken(token.Value)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager(DeriveKey([]byte("p"), []byte("s")), []byte("different-secret"), zap.NewNop())
	require.NoError(t, err)

	token, err := m.GenerateToken("user-1", "", time.Hour)
	require.NoError(t, err)

	_, err = other.ValidateToken(token.Value)
	assert.Error(t, err)
}

func TestGenerateSecureToken(t *testing.T) {
	m := newTestManager(t)

	a, err := m.GenerateSecureToken(24)
	require.NoError(t, err)
	b, err := m.GenerateSecureToken(24)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestKeyStorage(t *testing.T) {
	m := newTestManager(t)
	key := DeriveKey([]byte("k"), []byte("s"))

	require.NoError(t, m.StoreKey("audit", key))
	assert.ErrorIs(t, m.StoreKey("audit", key), ErrKeyExists)
	assert.ErrorIs(t, m.StoreKey("bad", []byte("short")), ErrInvalidKeySize)

	got, err := m.GetKey("audit")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	// Returned copy must not alias the stored key.
	got[0] ^= 0xff
	again, err := m.GetKey("audit")
	require.NoError(t, err)
	assert.Equal(t, key, again)

	assert.Equal(t, []string{"audit"}, m.ListKeys())

	require.NoError(t, m.DeleteKey("audit"))
	_, err = m.GetKey("audit")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, m.DeleteKey("audit"), ErrKeyNotFound)
}

func TestStats(t *testing.T) {
	m := newTestManager(t)

	sealed, err := m.Encrypt([]byte("x"))
	require.NoError(t, err)
	_, err = m.Decrypt(sealed)
	require.NoError(t, err)
	m.HashData([]byte("y"))

	stats := m.Stats()
	assert.Equal(t, 3, stats.TotalOperations)
	assert.Equal(t, 1, stats.ByKind["encrypt"])
	assert.Equal(t, 1, stats.ByKind["decrypt"])
	assert.Equal(t, 1, stats.ByKind["hash"])
	assert.Zero(t, stats.Failures)
}
