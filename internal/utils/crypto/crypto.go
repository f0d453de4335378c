package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrNotInitialized = errors.New("crypto: keys not initialized")
	ErrMalformed      = errors.New("crypto: malformed ciphertext")
)

var (
	mu   sync.RWMutex
	aead cipher.AEAD
)

// InitializeKeys derives the at-rest encryption key from secret. It must be
// called before any model with encrypted columns is saved or loaded.
func InitializeKeys(secret string) error {
	if secret == "" {
		return errors.New("crypto: empty secret")
	}
	key := sha256.Sum256([]byte(secret))
	a, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return fmt.Errorf("crypto: init cipher: %w", err)
	}

	mu.Lock()
	aead = a
	mu.Unlock()
	return nil
}

func current() (cipher.AEAD, error) {
	mu.RLock()
	defer mu.RUnlock()
	if aead == nil {
		return nil, ErrNotInitialized
	}
	return aead, nil
}

// Encrypt seals plain and returns base64(nonce || ciphertext). The empty
// string encrypts to the empty string so optional columns stay empty.
func Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	a, err := current()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, a.NonceSize(), a.NonceSize()+len(plain)+a.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := a.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	a, err := current()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}
	if len(raw) < a.NonceSize()+a.Overhead() {
		return "", ErrMalformed
	}
	nonce, body := raw[:a.NonceSize()], raw[a.NonceSize():]
	plain, err := a.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open: %w", err)
	}
	return string(plain), nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashToken is used for values that only need equality checks, such as
// refresh tokens and sender confirmation codes.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RandomToken returns n random bytes, hex encoded.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
