package container

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/mfahub/container-backend/challenge"
	"github.com/mfahub/container-backend/cryptoutils"
	"github.com/mfahub/container-backend/imgutil"
	"github.com/mfahub/container-backend/interfaces"
)

// SmartphoneType is the type tag of the smartphone container.
const SmartphoneType = "smartphone"

// Option keys of the smartphone container type.
const (
	OptionKeyAlgorithm        = interfaces.InfoKeyAlgorithm
	OptionHashAlgorithm       = interfaces.InfoHashAlgorithm
	OptionEncryptKeyAlgorithm = "encrypt_key_algorithm"
	OptionEncryptAlgorithm    = "encrypt_algorithm"
	OptionEncryptMode         = "encrypt_mode"
)

// DefaultIssuer is the issuer name embedded in registration URLs when the
// caller does not override it. Kept stable for authenticator app
// compatibility.
const DefaultIssuer = "privacyIDEA"

// registrationInfoKeys are the info keys TerminateRegistration clears.
var registrationInfoKeys = []string{
	interfaces.InfoPublicKeyContainer,
	interfaces.InfoPublicKeyServer,
	interfaces.InfoPrivateKeyServer,
	interfaces.InfoDevice,
	interfaces.InfoServerURL,
	interfaces.InfoRegistrationState,
	interfaces.InfoChallengeTTL,
	interfaces.InfoInitialSynchronized,
}

// hiddenSmartphoneTokenInfo are token info sub-keys never echoed to a
// device during synchronization.
var hiddenSmartphoneTokenInfo = []string{"private_key_server", "private_key_server.type"}

// Smartphone is a container representing a phone running an authenticator
// app. It implements the cryptographic pairing and synchronization
// protocol on top of the base container.
type Smartphone struct {
	*Base
}

func init() {
	Register(&Descriptor{
		Type:        SmartphoneType,
		Prefix:      "SMPH",
		Description: "A smartphone that uses an authenticator app.",
		SupportedTokenTypes: []string{
			"daypassword", "hotp", "push", "sms", "totp",
		},
		// First value is the default.
		Options: map[string][]string{
			OptionKeyAlgorithm:        {"secp384r1", "secp256r1", "secp521r1"},
			OptionHashAlgorithm:       {"SHA256", "SHA384", "SHA512"},
			OptionEncryptKeyAlgorithm: {"x25519"},
			OptionEncryptAlgorithm:    {"AES"},
			OptionEncryptMode:         {"GCM"},
		},
		StateTypes: defaultStateTypes(),
		New: func(record *interfaces.ContainerRecord, deps Deps) TokenContainer {
			return &Smartphone{Base: NewBase(record, deps, mustDescriptor(SmartphoneType))}
		},
	})
}

// quote percent-encodes one URL component the way authenticator clients
// expect, with spaces as %20.
func quote(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// boolString renders a bool as the literal strings used on the wire and in
// the info store.
func boolString(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

// registrationURLParams feed the registration URL builder.
type registrationURLParams struct {
	Nonce         string
	TimeStamp     string
	ServerURL     string
	Serial        string
	KeyAlgorithm  string
	HashAlgorithm string
	Passphrase    string
	Issuer        string
	TTL           int
	SSLVerify     bool
	ExtraData     map[string]string
}

// createContainerRegistrationURL builds the pia:// URL a device scans to
// bind itself to a container. Parameter presence and order are fixed for
// client compatibility.
func createContainerRegistrationURL(p registrationURLParams) string {
	var extra strings.Builder
	keys := make([]string, 0, len(p.ExtraData))
	for key := range p.ExtraData {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		extra.WriteString(fmt.Sprintf("&%s=%s", quote(key), quote(p.ExtraData[key])))
	}

	return fmt.Sprintf(
		"pia://container/%s?issuer=%s&ttl=%d&nonce=%s&time=%s&url=%s&serial=%s&key_algorithm=%s&hash_algorithm=%s&ssl_verify=%s&passphrase=%s%s",
		quote(p.Serial), quote(p.Issuer), p.TTL, quote(p.Nonce), quote(p.TimeStamp), p.ServerURL, p.Serial,
		quote(p.KeyAlgorithm), quote(p.HashAlgorithm), quote(boolString(p.SSLVerify)), quote(p.Passphrase),
		extra.String())
}

// InitRegistration issues a registration offer: it invalidates outstanding
// challenges, mints a new scope- and TTL-bound challenge, resolves the
// algorithm defaults, and renders the registration URL as a QR code. The
// registration state advances to client_wait.
func (s *Smartphone) InitRegistration(ctx context.Context, p InitRegistrationParams) (*RegistrationData, error) {
	passphrasePrompt := p.PassphrasePrompt
	if p.PassphraseAD && passphrasePrompt == "" {
		passphrasePrompt = "Please enter your AD passphrase."
	}
	passphraseResponse := ""
	if p.PassphraseResponse != "" {
		encrypted, err := s.deps.Passwords.Encrypt(p.PassphraseResponse)
		if err != nil {
			return nil, err
		}
		passphraseResponse = encrypted
	}
	issuer := p.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	// Only the newly issued challenge may be live.
	if err := s.deps.Challenges.DeleteAll(ctx, s.Serial()); err != nil {
		return nil, err
	}
	issued, err := s.deps.Challenges.Create(ctx, s.Serial(), p.RegistrationTTL, challenge.Data{
		Scope:              p.Scope,
		PassphrasePrompt:   passphrasePrompt,
		PassphraseResponse: passphraseResponse,
		PassphraseAD:       p.PassphraseAD,
	})
	if err != nil {
		return nil, err
	}

	// Resolve and persist the per-type algorithm defaults.
	options := map[string]string{}
	optionKeys := make([]string, 0, len(s.desc.Options))
	for key := range s.desc.Options {
		optionKeys = append(optionKeys, key)
	}
	sort.Strings(optionKeys)
	for _, key := range optionKeys {
		value, err := s.SetDefaultOption(ctx, key)
		if err != nil {
			return nil, err
		}
		if value != "" {
			options[key] = value
		}
	}
	keyAlgorithm := options[OptionKeyAlgorithm]
	hashAlgorithm := options[OptionHashAlgorithm]

	qrURL := createContainerRegistrationURL(registrationURLParams{
		Nonce:         issued.Nonce,
		TimeStamp:     issued.TimeStamp,
		ServerURL:     p.ServerURL,
		Serial:        s.Serial(),
		KeyAlgorithm:  keyAlgorithm,
		HashAlgorithm: hashAlgorithm,
		Passphrase:    passphrasePrompt,
		Issuer:        issuer,
		TTL:           p.RegistrationTTL,
		SSLVerify:     p.SSLVerify,
		ExtraData:     p.ExtraData,
	})
	qrImg, err := imgutil.CreateImg(qrURL)
	if err != nil {
		return nil, err
	}

	if p.Rollover {
		// The previous registration stays valid until the device finishes
		// the new pairing, so the new parameters live under rollover keys.
		if err := s.AddInfo(ctx, interfaces.InfoRegistrationState, interfaces.RegistrationStateRollover); err != nil {
			return nil, err
		}
		if err := s.AddInfo(ctx, interfaces.InfoRolloverServerURL, p.ServerURL); err != nil {
			return nil, err
		}
		if err := s.AddInfo(ctx, interfaces.InfoRolloverChallengeTTL, strconv.Itoa(p.RegistrationTTL)); err != nil {
			return nil, err
		}
	} else {
		if err := s.AddInfo(ctx, interfaces.InfoRegistrationState, interfaces.RegistrationStateClientWait); err != nil {
			return nil, err
		}
		if err := s.AddInfo(ctx, interfaces.InfoServerURL, p.ServerURL); err != nil {
			return nil, err
		}
		if err := s.AddInfo(ctx, interfaces.InfoChallengeTTL, strconv.Itoa(p.RegistrationTTL)); err != nil {
			return nil, err
		}
	}

	return &RegistrationData{
		ContainerURL: ContainerURL{
			Description: "URL for container registration",
			Value:       qrURL,
			Img:         qrImg,
		},
		Nonce:            issued.Nonce,
		TimeStamp:        issued.TimeStamp,
		KeyAlgorithm:     keyAlgorithm,
		HashAlgorithm:    hashAlgorithm,
		SSLVerify:        p.SSLVerify,
		TTL:              p.RegistrationTTL,
		PassphrasePrompt: passphrasePrompt,
		ServerURL:        p.ServerURL,
	}, nil
}

// FinalizeRegistration verifies the device's signed registration response
// and completes the pairing: it persists both public keys and the server's
// encrypted private key, records the device metadata, and advances the
// registration state. Verification failures raise ErrInvalidChallenge
// without detail about which part failed.
func (s *Smartphone) FinalizeRegistration(ctx context.Context, p FinalizeRegistrationParams) (*FinalizeRegistrationResult, error) {
	signature, err := base64.URLEncoding.DecodeString(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature encoding", interfaces.ErrParameter)
	}
	clientPub, err := cryptoutils.DecodePublicKey(p.PublicClientKey)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed client public key", interfaces.ErrParameter)
	}

	valid, err := s.ValidateChallenge(ctx, signature, clientPub, ValidateChallengeParams{
		Scope:       p.Scope,
		DeviceBrand: p.DeviceBrand,
		DeviceModel: p.DeviceModel,
	})
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, interfaces.ErrInvalidChallenge
	}

	keyAlgorithm := s.record.Info[OptionKeyAlgorithm]
	if keyAlgorithm == "" {
		keyAlgorithm = "secp384r1"
	}
	serverKey, err := cryptoutils.GenerateECDSAKeypair(keyAlgorithm)
	if err != nil {
		return nil, err
	}
	publicKeyServer, err := cryptoutils.EncodePublicKey(&serverKey.PublicKey)
	if err != nil {
		return nil, err
	}
	privateKeyServer, err := cryptoutils.EncodePrivateKey(serverKey)
	if err != nil {
		return nil, err
	}
	encryptedPrivateKey, err := s.deps.Passwords.Encrypt(privateKeyServer)
	if err != nil {
		return nil, err
	}

	if err := s.AddInfo(ctx, interfaces.InfoPublicKeyContainer, p.PublicClientKey); err != nil {
		return nil, err
	}
	if err := s.AddInfo(ctx, interfaces.InfoPublicKeyServer, publicKeyServer); err != nil {
		return nil, err
	}
	if err := s.AddInfo(ctx, interfaces.InfoPrivateKeyServer, encryptedPrivateKey); err != nil {
		return nil, err
	}

	device := p.DeviceBrand
	if p.DeviceModel != "" {
		if device != "" {
			device += " "
		}
		device += p.DeviceModel
	}
	if device != "" {
		if err := s.AddInfo(ctx, interfaces.InfoDevice, device); err != nil {
			return nil, err
		}
	} else {
		// Might be a rollover from a device that sends no metadata; drop
		// the stale entry.
		if _, err := s.DeleteInfo(ctx, interfaces.InfoDevice); err != nil {
			return nil, err
		}
	}

	// A rollover stays in its state until the first synchronization
	// completes the re-provisioning.
	if s.record.Info[interfaces.InfoRegistrationState] != interfaces.RegistrationStateRollover {
		if err := s.AddInfo(ctx, interfaces.InfoRegistrationState, interfaces.RegistrationStateRegistered); err != nil {
			return nil, err
		}
	}

	if p.InitialTokenTransfer {
		if err := s.AddInfo(ctx, interfaces.InfoInitialSynchronized, "False"); err != nil {
			return nil, err
		}
	}

	return &FinalizeRegistrationResult{PublicServerKey: publicKeyServer}, nil
}

// TerminateRegistration unpairs the device: all registration and
// synchronization info keys are removed and outstanding challenges are
// dropped. Idempotent; terminating an unregistered container is not an
// error.
func (s *Smartphone) TerminateRegistration(ctx context.Context) error {
	for _, key := range registrationInfoKeys {
		if _, err := s.DeleteInfo(ctx, key); err != nil {
			return err
		}
	}
	return s.deps.Challenges.DeleteAll(ctx, s.Serial())
}

// CreateChallenge issues a challenge bound to the given scope and exposes
// the negotiated key-exchange algorithm so the client can select a
// compatible curve.
func (s *Smartphone) CreateChallenge(ctx context.Context, scope string, validityMinutes int, data challenge.Data) (*ChallengeData, error) {
	data.Scope = scope
	issued, err := s.deps.Challenges.Create(ctx, s.Serial(), validityMinutes, data)
	if err != nil {
		return nil, err
	}
	return &ChallengeData{
		TransactionID:   issued.TransactionID,
		Nonce:           issued.Nonce,
		TimeStamp:       issued.TimeStamp,
		EncKeyAlgorithm: s.record.Info[OptionEncryptKeyAlgorithm],
	}, nil
}

// CheckChallengeResponse verifies a signed synchronization or action
// request against the registered device key. A container without a
// registered public key fails with ErrNotRegistered; a bad signature fails
// with ErrInvalidChallenge so callers can distinguish "never paired" from
// "bad signature".
func (s *Smartphone) CheckChallengeResponse(ctx context.Context, p CheckChallengeResponseParams) (bool, error) {
	publicKeyContainer, ok := s.record.Info[interfaces.InfoPublicKeyContainer]
	if !ok || publicKeyContainer == "" {
		return false, fmt.Errorf("%w: the container is not registered or was unregistered", interfaces.ErrNotRegistered)
	}
	signature, err := base64.URLEncoding.DecodeString(p.Signature)
	if err != nil {
		return false, fmt.Errorf("%w: malformed signature encoding", interfaces.ErrParameter)
	}
	clientPub, err := cryptoutils.DecodePublicKey(publicKeyContainer)
	if err != nil {
		return false, err
	}

	valid, err := s.ValidateChallenge(ctx, signature, clientPub, ValidateChallengeParams{
		Scope:       p.Scope,
		Key:         p.PublicEncKeyClient,
		Container:   p.ContainerDictClient,
		DeviceBrand: p.DeviceBrand,
		DeviceModel: p.DeviceModel,
	})
	if err != nil {
		return false, err
	}
	if !valid {
		return false, interfaces.ErrInvalidChallenge
	}
	return true, nil
}

// EncryptDict encrypts an arbitrary payload for the client: an ephemeral
// X25519 exchange against the client's public key derives a session key
// used for AES-GCM. The server's ephemeral public key and the cipher
// parameters are returned alongside the ciphertext.
func (s *Smartphone) EncryptDict(ctx context.Context, payload any, p EncryptDictParams) (*EncryptedPayload, error) {
	encryptAlgorithm := s.record.Info[OptionEncryptAlgorithm]
	if encryptAlgorithm == "" {
		encryptAlgorithm = "AES"
	}
	encryptMode := s.record.Info[OptionEncryptMode]
	if encryptMode == "" {
		encryptMode = "GCM"
	}
	if encryptAlgorithm != "AES" || encryptMode != "GCM" {
		return nil, fmt.Errorf("%w: unsupported encryption %s/%s", interfaces.ErrParameter, encryptAlgorithm, encryptMode)
	}

	clientPub, err := cryptoutils.DecodeX25519PublicKey(p.PublicEncKeyClient)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed client encryption key", interfaces.ErrParameter)
	}
	serverKey, err := cryptoutils.GenerateX25519Keypair()
	if err != nil {
		return nil, err
	}
	sessionKey, err := cryptoutils.SessionKey(serverKey, clientPub)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	ciphertext, params, err := cryptoutils.EncryptAESGCM(plaintext, sessionKey)
	if err != nil {
		return nil, err
	}

	return &EncryptedPayload{
		EncryptionAlgorithm: encryptAlgorithm,
		EncryptionParams:    params,
		ContainerDictServer: ciphertext,
		PublicServerKey:     cryptoutils.EncodeX25519PublicKey(serverKey.PublicKey()),
	}, nil
}

// FinalizeRollover completes a rollover after the first successful
// synchronization of the newly paired device: the rollover parameters
// are promoted to the live keys and the registration state returns to
// registered. A no-op outside the rollover state.
func (s *Smartphone) FinalizeRollover(ctx context.Context) error {
	if s.record.Info[interfaces.InfoRegistrationState] != interfaces.RegistrationStateRollover {
		return nil
	}
	if serverURL, ok := s.record.Info[interfaces.InfoRolloverServerURL]; ok {
		if err := s.AddInfo(ctx, interfaces.InfoServerURL, serverURL); err != nil {
			return err
		}
	}
	if ttl, ok := s.record.Info[interfaces.InfoRolloverChallengeTTL]; ok {
		if err := s.AddInfo(ctx, interfaces.InfoChallengeTTL, ttl); err != nil {
			return err
		}
	}
	for _, key := range []string{interfaces.InfoRolloverServerURL, interfaces.InfoRolloverChallengeTTL} {
		if _, err := s.DeleteInfo(ctx, key); err != nil {
			return err
		}
	}
	return s.AddInfo(ctx, interfaces.InfoRegistrationState, interfaces.RegistrationStateRegistered)
}

// SynchronizeContainerDetails reconciles the token sets and folds the live
// container attributes into the echoed payload. The device never sees
// private key material of the tokens.
func (s *Smartphone) SynchronizeContainerDetails(ctx context.Context, client SyncInput, initialTransferAllowed bool) (*SyncResult, error) {
	return s.synchronize(ctx, client, initialTransferAllowed, syncOptions{
		containerEcho:   s.AsDict(false, true, nil),
		fullTokenDetail: true,
		hiddenTokenInfo: hiddenSmartphoneTokenInfo,
	})
}
