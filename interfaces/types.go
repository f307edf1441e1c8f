package interfaces

import (
	"time"
)

// Registration lifecycle values stored under InfoRegistrationState.
const (
	RegistrationStateClientWait = "client_wait"
	RegistrationStateRegistered = "registered"
	RegistrationStateRollover   = "rollover"
)

// Container info keys used by the registration and synchronization protocol.
// All values are strings; boolean-ish values are the literal strings "True"
// and "False" and are compared by equality, never parsed.
const (
	InfoRegistrationState   = "registration_state"
	InfoPublicKeyContainer  = "public_key_container"
	InfoPublicKeyServer     = "public_key_server"
	InfoPrivateKeyServer    = "private_key_server"
	InfoDevice              = "device"
	InfoInitialSynchronized = "initial_synchronized"
	InfoServerURL           = "server_url"
	InfoChallengeTTL        = "challenge_ttl"
	InfoKeyAlgorithm        = "key_algorithm"
	InfoHashAlgorithm       = "hash_algorithm"

	// Rollover keeps the previous registration usable until the device
	// completes the new one, so its parameters live under separate keys.
	InfoRolloverServerURL    = "rollover_server_url"
	InfoRolloverChallengeTTL = "rollover_challenge_ttl"
)

// Container lifecycle states.
const (
	StateActive   = "active"
	StateDisabled = "disabled"
	StateLost     = "lost"
	StateDamaged  = "damaged"
)

// ContainerOwner is one owner row of a container. Policy allows at most one
// owner per container.
type ContainerOwner struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Resolver string `json:"resolver"`
	Realm    string `json:"realm"`
}

// User identifies a user in a resolver and realm.
type User struct {
	UserID   string
	Login    string
	Resolver string
	Realm    string
}

// Realm is a shared realm reference resolved by name.
type Realm struct {
	Name    string
	Default bool
}

// Template is a container template reference. A template may only be
// assigned to containers of its declared type.
type Template struct {
	Name          string
	ContainerType string
}

// ContainerRecord is the persisted state of a container. The record is the
// unit of persistence: every public container mutation writes the whole
// record back in one Put.
type ContainerRecord struct {
	Serial      string            `json:"serial"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	LastSeen    *time.Time        `json:"last_seen,omitempty"`
	LastUpdated *time.Time        `json:"last_updated,omitempty"`
	Template    string            `json:"template,omitempty"`
	Realms      []string          `json:"realms,omitempty"`
	Owners      []ContainerOwner  `json:"owners,omitempty"`
	States      []string          `json:"states,omitempty"`
	Info        map[string]string `json:"info,omitempty"`
	Tokens      []string          `json:"tokens,omitempty"`
}

// Challenge is an ephemeral single-use challenge recorded against a
// container serial. Data carries JSON-encoded protocol context (scope,
// passphrase ciphertext, protocol type tag).
type Challenge struct {
	TransactionID string    `json:"transaction_id"`
	Serial        string    `json:"serial"`
	Nonce         string    `json:"nonce"`
	Data          string    `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
	ValidityTime  int       `json:"validity_time"`
}

// IsValid reports whether the challenge has not yet expired at the given
// time. A zero ValidityTime means the challenge never expires.
func (c *Challenge) IsValid(now time.Time) bool {
	if c.ValidityTime == 0 {
		return true
	}
	return now.Before(c.Timestamp.Add(time.Duration(c.ValidityTime) * time.Second))
}
