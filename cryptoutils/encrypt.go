package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const gcmTagSize = 16

// EncryptionParams carries the parameters a client needs to decrypt an
// AES-GCM payload next to the ciphertext. InitVector and Tag are base64url
// encoded.
type EncryptionParams struct {
	Mode       string `json:"mode"`
	InitVector string `json:"init_vector"`
	Tag        string `json:"tag"`
}

// GenerateX25519Keypair generates a fresh X25519 key pair for a single key
// exchange.
func GenerateX25519Keypair() (*ecdh.PrivateKey, error) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate x25519 key pair: %w", err)
	}
	return key, nil
}

// EncodeX25519PublicKey returns the raw 32-byte public key base64url
// encoded.
func EncodeX25519PublicKey(pub *ecdh.PublicKey) string {
	return base64.URLEncoding.EncodeToString(pub.Bytes())
}

// DecodeX25519PublicKey parses a base64url encoded raw X25519 public key.
func DecodeX25519PublicKey(encoded string) (*ecdh.PublicKey, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x25519 public key: %w", err)
	}
	pub, err := ecdh.X25519().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse x25519 public key: %w", err)
	}
	return pub, nil
}

// SessionKey performs an X25519 exchange and derives a 32-byte symmetric
// session key from the shared secret.
func SessionKey(priv *ecdh.PrivateKey, peer *ecdh.PublicKey) ([]byte, error) {
	shared, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("key exchange failed: %w", err)
	}
	key := sha256.Sum256(shared)
	return key[:], nil
}

// EncryptAESGCM encrypts plaintext with the session key. The ciphertext is
// returned base64url encoded with the GCM tag split out into the params, so
// clients that handle tag and ciphertext separately can decrypt it.
func EncryptAESGCM(plaintext, sessionKey []byte) (string, EncryptionParams, error) {
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return "", EncryptionParams{}, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", EncryptionParams{}, fmt.Errorf("failed to create GCM: %w", err)
	}

	iv := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", EncryptionParams{}, fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := aesGCM.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	params := EncryptionParams{
		Mode:       "GCM",
		InitVector: base64.URLEncoding.EncodeToString(iv),
		Tag:        base64.URLEncoding.EncodeToString(tag),
	}
	return base64.URLEncoding.EncodeToString(ciphertext), params, nil
}

// DecryptAESGCM reverses EncryptAESGCM.
func DecryptAESGCM(ciphertext string, sessionKey []byte, params EncryptionParams) ([]byte, error) {
	if params.Mode != "GCM" {
		return nil, fmt.Errorf("unsupported encryption mode: %s", params.Mode)
	}

	ct, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	iv, err := base64.URLEncoding.DecodeString(params.InitVector)
	if err != nil {
		return nil, fmt.Errorf("failed to decode IV: %w", err)
	}
	tag, err := base64.URLEncoding.DecodeString(params.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tag: %w", err)
	}

	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := aesGCM.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
