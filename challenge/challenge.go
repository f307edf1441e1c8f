package challenge

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mfahub/container-backend/cryptoutils"
	"github.com/mfahub/container-backend/interfaces"
)

// TimestampLayout is the canonical timestamp format used in challenge
// messages and registration URLs. Timestamps are always rendered in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000000+00:00"

// nonceBytes is the entropy of a challenge nonce before hex encoding.
const nonceBytes = 20

// Data is the protocol context stored with a challenge. PassphraseResponse
// holds the at-rest encrypted passphrase; during verification the decrypted
// passphrase is folded into the signed message.
type Data struct {
	Scope              string `json:"scope"`
	Type               string `json:"type"`
	PassphrasePrompt   string `json:"passphrase_prompt,omitempty"`
	PassphraseResponse string `json:"passphrase_response,omitempty"`
	PassphraseAD       bool   `json:"passphrase_ad,omitempty"`
}

// Issued describes a freshly created challenge.
type Issued struct {
	TransactionID string
	Nonce         string
	TimeStamp     string
}

// VerifyRequest carries everything needed to verify a signed challenge
// response for one container.
type VerifyRequest struct {
	Serial        string
	Signature     []byte
	PublicKey     *ecdsa.PublicKey
	Scope         string
	TransactionID string
	HashAlgorithm string

	// Optional message components, appended in this order when present.
	DeviceBrand string
	DeviceModel string
	Key         string
	Container   string
}

// VerifyResult reports the verification outcome. On failure HashAlgorithm
// reflects the last algorithm attempted, for diagnostics.
type VerifyResult struct {
	Valid         bool
	HashAlgorithm string
}

// Manager creates and verifies challenges against a ChallengeStore.
type Manager struct {
	store     interfaces.ChallengeStore
	passwords *cryptoutils.PasswordCipher
	log       *slog.Logger
	now       func() time.Time
}

// NewManager creates a challenge manager. The password cipher is used to
// decrypt passphrase responses bound to a challenge.
func NewManager(store interfaces.ChallengeStore, passwords *cryptoutils.PasswordCipher, log *slog.Logger) *Manager {
	return &Manager{store: store, passwords: passwords, log: log, now: time.Now}
}

// WithClock returns a manager that uses the provided clock. Used by tests
// to exercise expiry behavior.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	return &Manager{store: m.store, passwords: m.passwords, log: m.log, now: now}
}

// Create records a new challenge for a container serial. The validity is
// given in minutes and persisted in seconds; zero persists as the no-expiry
// sentinel 0, which is deliberate and must not be normalized.
func (m *Manager) Create(ctx context.Context, serial string, validityMinutes int, data Data) (Issued, error) {
	nonce, err := cryptoutils.RandomHex(nonceBytes)
	if err != nil {
		return Issued{}, err
	}

	data.Type = "container"
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return Issued{}, fmt.Errorf("failed to serialize challenge data: %w", err)
	}

	ch := &interfaces.Challenge{
		TransactionID: uuid.NewString(),
		Serial:        serial,
		Nonce:         nonce,
		Data:          string(dataJSON),
		Timestamp:     m.now().UTC(),
		ValidityTime:  validityMinutes * 60,
	}
	if err := m.store.Create(ctx, ch); err != nil {
		return Issued{}, fmt.Errorf("failed to store challenge: %w", err)
	}

	return Issued{
		TransactionID: ch.TransactionID,
		Nonce:         ch.Nonce,
		TimeStamp:     ch.Timestamp.Format(TimestampLayout),
	}, nil
}

// DeleteAll removes every outstanding challenge for a serial. Called before
// issuing a new registration challenge so only the new one is live.
func (m *Manager) DeleteAll(ctx context.Context, serial string) error {
	return m.store.DeleteBySerial(ctx, serial)
}

// Verify checks the signature against every live challenge of the
// container, first valid match wins. Expired challenges encountered on the
// way are deleted. A signature mismatch on one challenge is not fatal since
// several challenges may be live concurrently; verification continues with
// the next candidate. The matching challenge is deleted before reporting
// success.
func (m *Manager) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	res := VerifyResult{Valid: false, HashAlgorithm: req.HashAlgorithm}

	challenges, err := m.store.BySerial(ctx, req.Serial, req.TransactionID)
	if err != nil {
		return res, fmt.Errorf("failed to load challenges: %w", err)
	}

	now := m.now()
	for _, ch := range challenges {
		if !ch.IsValid(now) {
			// Lazy garbage collection is the only sweep mechanism.
			if err := m.store.Delete(ctx, ch.TransactionID); err != nil {
				m.log.Warn("Failed to delete expired challenge", "transactionID", ch.TransactionID, "err", err)
			}
			continue
		}

		var data Data
		if err := json.Unmarshal([]byte(ch.Data), &data); err != nil {
			m.log.Warn("Challenge carries malformed data", "transactionID", ch.TransactionID, "err", err)
			continue
		}

		// The scope binds a challenge to one endpoint. A mismatch means
		// this is not the right challenge, not an error.
		if data.Scope != req.Scope {
			m.log.Debug("Scope does not match challenge scope",
				slog.String("scope", req.Scope), slog.String("challengeScope", data.Scope))
			continue
		}

		message, err := m.buildMessage(ch, data, req)
		if err != nil {
			return res, err
		}

		if err := cryptoutils.VerifyECC([]byte(message), req.Signature, req.PublicKey, req.HashAlgorithm); err != nil {
			m.log.Debug("Signature did not verify against challenge",
				slog.String("transactionID", ch.TransactionID),
				slog.String("hashAlgorithm", req.HashAlgorithm))
			continue
		}

		// Valid response: the challenge is single-use.
		if err := m.store.Delete(ctx, ch.TransactionID); err != nil {
			return res, fmt.Errorf("failed to consume challenge: %w", err)
		}
		res.Valid = true
		return res, nil
	}

	return res, nil
}

// buildMessage reconstructs the canonical signed message: the fixed
// components nonce, timestamp, serial and scope, then each optional
// component appended only if present, all separated by "|".
func (m *Manager) buildMessage(ch *interfaces.Challenge, data Data, req VerifyRequest) (string, error) {
	parts := []string{ch.Nonce, ch.Timestamp.UTC().Format(TimestampLayout), req.Serial, data.Scope}
	if req.DeviceBrand != "" {
		parts = append(parts, req.DeviceBrand)
	}
	if req.DeviceModel != "" {
		parts = append(parts, req.DeviceModel)
	}
	if data.PassphraseResponse != "" {
		passphrase, err := m.passwords.Decrypt(data.PassphraseResponse)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt challenge passphrase: %w", err)
		}
		parts = append(parts, passphrase)
	}
	if req.Key != "" {
		parts = append(parts, req.Key)
	}
	if req.Container != "" {
		parts = append(parts, req.Container)
	}
	return strings.Join(parts, "|"), nil
}
