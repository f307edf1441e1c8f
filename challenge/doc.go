// Package challenge implements the single-use challenge engine behind
// container registration and synchronization.
//
// A challenge is a random nonce recorded against a container serial
// together with a timestamp, a validity window and JSON-encoded context
// (scope, optional passphrase ciphertext, protocol type tag). A client
// proves possession of its private key by signing the canonical challenge
// message; verification consumes the challenge so a captured signature can
// never validate twice.
//
// Expired challenges are garbage collected lazily during verification;
// there is no background reaper.
package challenge
