package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// CurveByName returns the elliptic curve for a named key algorithm.
// Supported names follow the SEC 2 naming used on the wire: secp256r1,
// secp384r1 and secp521r1.
func CurveByName(name string) (elliptic.Curve, error) {
	switch name {
	case "secp256r1":
		return elliptic.P256(), nil
	case "secp384r1":
		return elliptic.P384(), nil
	case "secp521r1":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported key algorithm: %s", name)
	}
}

// GenerateECDSAKeypair generates a new ECDSA key pair on the named curve.
func GenerateECDSAKeypair(keyAlgorithm string) (*ecdsa.PrivateKey, error) {
	curve, err := CurveByName(keyAlgorithm)
	if err != nil {
		return nil, err
	}
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return key, nil
}

// EncodePublicKey serializes an ECDSA public key as base64url-encoded PKIX
// DER. This is the representation exchanged with clients and stored in the
// container info.
func EncodePublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(der), nil
}

// DecodePublicKey parses a base64url PKIX DER encoded ECDSA public key.
func DecodePublicKey(encoded string) (*ecdsa.PublicKey, error) {
	der, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	keyAny, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := keyAny.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an ECDSA public key")
	}
	return pub, nil
}

// EncodePrivateKey serializes an ECDSA private key as base64url-encoded
// SEC 1 DER. Private keys are never stored in this form without an
// additional at-rest encryption layer.
func EncodePrivateKey(priv *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(der), nil
}

// DecodePrivateKey parses a base64url SEC 1 DER encoded ECDSA private key.
func DecodePrivateKey(encoded string) (*ecdsa.PrivateKey, error) {
	der, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	priv, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return priv, nil
}

// RandomHex returns n random bytes as a hex string.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
