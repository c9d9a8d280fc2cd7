package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Key derivation parameters
	pbkdfIterations = 100000
	saltLength      = 32
	keyLength       = 32

	tokenIssuer = "agrisafe"

	maxOperationHistory = 1000
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrKeyExists      = errors.New("key already stored")
	ErrInvalidKeySize = errors.New("key must be 32 bytes")
	ErrTokenInvalid   = errors.New("invalid token")
)

// Claims carries the authenticated identity inside a JWT
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Token represents an issued authentication token
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type operation struct {
	Kind      string
	Timestamp time.Time
	Success   bool
}

// Stats summarizes manager activity
type Stats struct {
	TotalOperations int            `json:"total_operations"`
	ByKind          map[string]int `json:"by_kind"`
	Failures        int            `json:"failures"`
	StoredKeys      int            `json:"stored_keys"`
}

// Manager performs the symmetric encryption, hashing, and token
// operations the platform relies on. All encryption is AES-256-GCM with
// the nonce prefixed to the ciphertext.
type Manager struct {
	aead      cipher.AEAD
	jwtSecret []byte

	keys    map[string][]byte
	history []operation
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewManager creates a manager encrypting under the given 32-byte key
// and signing tokens with jwtSecret
func NewManager(encryptionKey, jwtSecret []byte, logger *zap.Logger) (*Manager, error) {
	if len(encryptionKey) != keyLength {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Manager{
		aead:      gcm,
		jwtSecret: jwtSecret,
		keys:      make(map[string][]byte),
		logger:    logger,
	}, nil
}

// Encrypt seals data with authenticated encryption. The returned slice
// is nonce || ciphertext.
func (m *Manager) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		m.record("encrypt", false)
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := m.aead.Seal(nonce, nonce, data, nil)
	m.record("encrypt", true)
	return ciphertext, nil
}

// Decrypt opens data produced by Encrypt
func (m *Manager) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := m.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		m.record("decrypt", false)
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := m.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		m.record("decrypt", false)
		return nil, fmt.Errorf("decrypting data: %w", err)
	}

	m.record("decrypt", true)
	return plaintext, nil
}

// EncryptString is a convenience wrapper returning base64
func (m *Manager) EncryptString(plaintext string) (string, error) {
	sealed, err := m.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString
func (m *Manager) DecryptString(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	plain, err := m.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// HashData creates a hex-encoded SHA-256 digest
func (m *Manager) HashData(data []byte) string {
	m.record("hash", true)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyIntegrity reports whether data matches a previously computed
// hash. Comparison is constant-time.
func (m *Manager) VerifyIntegrity(data []byte, expectedHash string) bool {
	hash := sha256.Sum256(data)
	actual := hex.EncodeToString(hash[:])
	ok := subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHash)) == 1
	m.record("verify", ok)
	return ok
}

// GenerateToken issues a signed JWT for the given user
func (m *Manager) GenerateToken(userID, role string, duration time.Duration) (*Token, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.jwtSecret)
	if err != nil {
		m.record("token_issue", false)
		return nil, fmt.Errorf("signing token: %w", err)
	}

	m.record("token_issue", true)
	return &Token{
		Value:     signed,
		IssuedAt:  now,
		ExpiresAt: now.Add(duration),
	}, nil
}

// ValidateToken parses and verifies a JWT, returning its claims
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		m.record("token_validate", false)
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		m.record("token_validate", false)
		return nil, ErrTokenInvalid
	}

	m.record("token_validate", true)
	return claims, nil
}

// GenerateSecureToken generates a cryptographically secure random token
func (m *Manager) GenerateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating secure token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// Key storage. Named keys held in memory only.

// StoreKey registers a named key
func (m *Manager) StoreKey(name string, key []byte) error {
	if len(key) != keyLength {
		return ErrInvalidKeySize
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[name]; ok {
		return ErrKeyExists
	}
	m.keys[name] = append([]byte(nil), key...)
	return nil
}

// GetKey returns a copy of a stored key
func (m *Manager) GetKey(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[name]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), key...), nil
}

// DeleteKey zeroes and removes a stored key
func (m *Manager) DeleteKey(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[name]
	if !ok {
		return ErrKeyNotFound
	}
	for i := range key {
		key[i] = 0
	}
	delete(m.keys, name)
	return nil
}

// ListKeys returns the stored key names, sorted
func (m *Manager) ListKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.keys))
	for name := range m.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats summarizes recent operations and stored keys
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalOperations: len(m.history),
		ByKind:          make(map[string]int),
		StoredKeys:      len(m.keys),
	}
	for _, op := range m.history {
		stats.ByKind[op.Kind]++
		if !op.Success {
			stats.Failures++
		}
	}
	return stats
}

func (m *Manager) record(kind string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, operation{Kind: kind, Timestamp: time.Now(), Success: success})
	if len(m.history) > maxOperationHistory {
		m.history = m.history[len(m.history)-maxOperationHistory:]
	}
}

// DeriveKey derives a 32-byte encryption key from a password
func DeriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, pbkdfIterations, keyLength, sha256.New)
}

// GenerateSalt generates a random salt for key derivation
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}
