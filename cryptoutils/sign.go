package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
)

// HashByName returns the hash constructor for a named hash algorithm.
// Supported names are SHA256, SHA384 and SHA512.
func HashByName(name string) (func() hash.Hash, error) {
	switch name {
	case "SHA256":
		return sha256.New, nil
	case "SHA384":
		return sha512.New384, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
}

// VerifyECC verifies an ASN.1 DER encoded ECDSA signature over message
// using the named hash algorithm. Returns an error for both an unusable
// hash algorithm and an invalid signature.
func VerifyECC(message, signature []byte, pub *ecdsa.PublicKey, hashAlgorithm string) error {
	newHash, err := HashByName(hashAlgorithm)
	if err != nil {
		return err
	}
	h := newHash()
	h.Write(message)
	if !ecdsa.VerifyASN1(pub, h.Sum(nil), signature) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// SignECC signs message with the given key using the named hash algorithm
// and returns an ASN.1 DER encoded signature. The server itself only
// verifies; signing is used by client implementations and tests.
func SignECC(message []byte, priv *ecdsa.PrivateKey, hashAlgorithm string) ([]byte, error) {
	newHash, err := HashByName(hashAlgorithm)
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write(message)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, h.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}
