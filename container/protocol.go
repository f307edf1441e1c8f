package container

import (
	"github.com/mfahub/container-backend/cryptoutils"
)

// InitRegistrationParams configures a registration offer for a container.
type InitRegistrationParams struct {
	// ServerURL is the base URL of this server as reachable by the client.
	ServerURL string
	// Scope is the endpoint the client contacts to finalize the
	// registration. The issued challenge is bound to it.
	Scope string
	// RegistrationTTL is the validity of the registration link in minutes.
	RegistrationTTL int
	// SSLVerify tells the client whether to verify the server certificate.
	SSLVerify bool
	// Issuer names the issuing system inside the registration URL.
	Issuer string
	// Rollover re-registers an already registered container: the previous
	// key pair stays usable until the device completes the new pairing and
	// its first synchronization.
	Rollover bool

	// PassphraseAD selects the directory-password prompt default.
	PassphraseAD bool
	// PassphrasePrompt is displayed to the user in the app.
	PassphrasePrompt string
	// PassphraseResponse is the expected passphrase; it is encrypted at
	// rest and implicitly verified through the signed challenge message.
	PassphraseResponse string
	// ExtraData is appended to the registration URL as extra parameters.
	ExtraData map[string]string
}

// ContainerURL is the scannable registration link.
type ContainerURL struct {
	Description string `json:"description"`
	Value       string `json:"value"`
	Img         string `json:"img"`
}

// RegistrationData is returned by InitRegistration.
type RegistrationData struct {
	ContainerURL     ContainerURL `json:"container_url"`
	Nonce            string       `json:"nonce"`
	TimeStamp        string       `json:"time_stamp"`
	KeyAlgorithm     string       `json:"key_algorithm"`
	HashAlgorithm    string       `json:"hash_algorithm"`
	SSLVerify        bool         `json:"ssl_verify"`
	TTL              int          `json:"ttl"`
	PassphrasePrompt string       `json:"passphrase_prompt"`
	ServerURL        string       `json:"server_url"`
}

// FinalizeRegistrationParams is the signed registration response of the
// device.
type FinalizeRegistrationParams struct {
	// Signature is base64url encoded.
	Signature string `json:"signature"`
	// PublicClientKey is the device's signing public key, base64url DER.
	PublicClientKey string `json:"public_client_key"`
	Scope           string `json:"scope"`
	DeviceBrand     string `json:"device_brand,omitempty"`
	DeviceModel     string `json:"device_model,omitempty"`
	// InitialTokenTransfer grants a one-time bulk token import from the
	// client on the first synchronization. Resolved by the policy layer.
	InitialTokenTransfer bool `json:"-"`
}

// FinalizeRegistrationResult carries the server's public key back to the
// device.
type FinalizeRegistrationResult struct {
	PublicServerKey string `json:"public_server_key"`
}

// ChallengeData describes an issued challenge to the client.
type ChallengeData struct {
	TransactionID string `json:"transaction_id"`
	Nonce         string `json:"nonce"`
	TimeStamp     string `json:"time_stamp"`
	// EncKeyAlgorithm is the negotiated key-exchange algorithm so the
	// client can pick a compatible curve, not the signing algorithm.
	EncKeyAlgorithm string `json:"enc_key_algorithm,omitempty"`
}

// CheckChallengeResponseParams is a signed synchronization or action
// request.
type CheckChallengeResponseParams struct {
	// Signature is base64url encoded.
	Signature string `json:"signature"`
	// PublicEncKeyClient is the client's ephemeral key-exchange public
	// key, bound into the signed message when present.
	PublicEncKeyClient string `json:"public_enc_key_client,omitempty"`
	// ContainerDictClient is the serialized client container view, bound
	// into the signed message when present.
	ContainerDictClient string `json:"container_dict_client,omitempty"`
	Scope               string `json:"scope"`
	DeviceBrand         string `json:"device_brand,omitempty"`
	DeviceModel         string `json:"device_model,omitempty"`
}

// EncryptDictParams configures payload encryption for one client.
type EncryptDictParams struct {
	// PublicEncKeyClient is the client's key-exchange public key,
	// base64url encoded raw bytes.
	PublicEncKeyClient string `json:"public_enc_key_client"`
}

// EncryptedPayload is an end-to-end encrypted server payload plus the
// parameters the client needs to decrypt it. The server key pair is
// ephemeral; no key material is persisted.
type EncryptedPayload struct {
	EncryptionAlgorithm string                       `json:"encryption_algorithm"`
	EncryptionParams    cryptoutils.EncryptionParams `json:"encryption_params"`
	ContainerDictServer string                       `json:"container_dict_server"`
	PublicServerKey     string                       `json:"public_server_key"`
}
