package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// passwordKeySalt is a fixed derivation salt. Uniqueness of the derived key
// comes from the service secret, which must be unique per deployment.
var passwordKeySalt = []byte("container-backend-password-key")

// PasswordCipher reversibly encrypts secrets stored server-side, such as
// the server's private key and passphrase responses bound to a challenge.
type PasswordCipher struct {
	key []byte
}

// NewPasswordCipher derives a 32-byte AES key from the service secret with
// Argon2id. The secret must not be empty.
func NewPasswordCipher(secret []byte) (*PasswordCipher, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("service secret must not be empty")
	}
	key := argon2.IDKey(secret, passwordKeySalt, 1, 64*1024, 4, 32)
	return &PasswordCipher{key: key}, nil
}

// Encrypt encrypts a plaintext string and returns base64url(iv || sealed).
func (c *PasswordCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	iv := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := aesGCM.Seal(iv, iv, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *PasswordCipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(sealed) < aesGCM.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	iv := sealed[:aesGCM.NonceSize()]
	plaintext, err := aesGCM.Open(nil, iv, sealed[aesGCM.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
