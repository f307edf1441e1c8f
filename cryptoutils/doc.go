// Package cryptoutils provides the cryptographic primitives for container
// registration and synchronization.
//
// # Signing Keys
//
// ECC key pairs are generated by named curve (secp256r1, secp384r1,
// secp521r1) and serialized as base64url-encoded DER for transport and for
// the container info store. Signature verification is ECDSA over a
// configurable hash algorithm (SHA256, SHA384, SHA512).
//
// # End-to-End Encryption
//
// Synchronization payloads are encrypted with an ephemeral X25519 key
// exchange followed by AES-GCM. No key material is persisted; a fresh
// server key pair is generated per call.
//
// # At-Rest Encryption
//
// PasswordCipher reversibly encrypts secrets that must be stored
// server-side (the server's private key, passphrase responses bound to a
// challenge). The cipher key is derived from a service secret with
// Argon2id.
package cryptoutils
