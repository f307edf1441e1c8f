package container

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfahub/container-backend/challenge"
	"github.com/mfahub/container-backend/cryptoutils"
	"github.com/mfahub/container-backend/interfaces"
)

const (
	testServerURL = "https://pi.example.com"
	testRegScope  = testServerURL + "/container/register/finalize"
	testSyncScope = testServerURL + "/container/synchronize"
)

// signChallenge signs the canonical challenge message the way a device
// does and returns the base64url signature.
func signChallenge(t *testing.T, key *ecdsa.PrivateKey, hashAlgorithm string, parts ...string) string {
	t.Helper()
	signature, err := cryptoutils.SignECC([]byte(strings.Join(parts, "|")), key, hashAlgorithm)
	require.NoError(t, err)
	return base64.URLEncoding.EncodeToString(signature)
}

// registerSmartphone walks a container through the full registration
// handshake and returns the device's signing key.
func registerSmartphone(t *testing.T, cont TokenContainer, initialTokenTransfer bool) *ecdsa.PrivateKey {
	t.Helper()
	ctx := context.Background()

	data, err := cont.InitRegistration(ctx, InitRegistrationParams{
		ServerURL:       testServerURL,
		Scope:           testRegScope,
		RegistrationTTL: 10,
		SSLVerify:       true,
	})
	require.NoError(t, err)

	clientKey, err := cryptoutils.GenerateECDSAKeypair(data.KeyAlgorithm)
	require.NoError(t, err)
	clientPub, err := cryptoutils.EncodePublicKey(&clientKey.PublicKey)
	require.NoError(t, err)

	_, err = cont.FinalizeRegistration(ctx, FinalizeRegistrationParams{
		Signature:            signChallenge(t, clientKey, data.HashAlgorithm, data.Nonce, data.TimeStamp, cont.Serial(), testRegScope),
		PublicClientKey:      clientPub,
		Scope:                testRegScope,
		InitialTokenTransfer: initialTokenTransfer,
	})
	require.NoError(t, err)
	return clientKey
}

func TestRegistrationRoundtrip(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)

	data, err := cont.InitRegistration(ctx, InitRegistrationParams{
		ServerURL:       testServerURL,
		Scope:           testRegScope,
		RegistrationTTL: 10,
		SSLVerify:       true,
	})
	require.NoError(t, err)

	// The offer carries the negotiated defaults and the scannable URL.
	assert.Equal(t, "secp384r1", data.KeyAlgorithm)
	assert.Equal(t, "SHA256", data.HashAlgorithm)
	assert.True(t, strings.HasPrefix(data.ContainerURL.Value, "pia://container/"+cont.Serial()))
	assert.True(t, strings.HasPrefix(data.ContainerURL.Img, "data:image/png;base64,"))
	assert.Equal(t, interfaces.RegistrationStateClientWait, cont.Info()[interfaces.InfoRegistrationState])
	assert.Equal(t, testServerURL, cont.Info()[interfaces.InfoServerURL])
	assert.Equal(t, "10", cont.Info()[interfaces.InfoChallengeTTL])

	clientKey, err := cryptoutils.GenerateECDSAKeypair(data.KeyAlgorithm)
	require.NoError(t, err)
	clientPub, err := cryptoutils.EncodePublicKey(&clientKey.PublicKey)
	require.NoError(t, err)

	result, err := cont.FinalizeRegistration(ctx, FinalizeRegistrationParams{
		Signature:       signChallenge(t, clientKey, data.HashAlgorithm, data.Nonce, data.TimeStamp, cont.Serial(), testRegScope),
		PublicClientKey: clientPub,
		Scope:           testRegScope,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.PublicServerKey)

	info := cont.Info()
	assert.Equal(t, interfaces.RegistrationStateRegistered, info[interfaces.InfoRegistrationState])
	assert.Equal(t, clientPub, info[interfaces.InfoPublicKeyContainer])
	// No device metadata was sent, so none is recorded.
	assert.NotContains(t, info, interfaces.InfoDevice)

	// The registration challenge is consumed; replaying the signature
	// fails.
	_, err = cont.FinalizeRegistration(ctx, FinalizeRegistrationParams{
		Signature:       signChallenge(t, clientKey, data.HashAlgorithm, data.Nonce, data.TimeStamp, cont.Serial(), testRegScope),
		PublicClientKey: clientPub,
		Scope:           testRegScope,
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidChallenge)
}

func TestRegistrationWithDeviceMetadata(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)

	data, err := cont.InitRegistration(ctx, InitRegistrationParams{
		ServerURL:       testServerURL,
		Scope:           testRegScope,
		RegistrationTTL: 10,
	})
	require.NoError(t, err)

	clientKey, err := cryptoutils.GenerateECDSAKeypair(data.KeyAlgorithm)
	require.NoError(t, err)
	clientPub, err := cryptoutils.EncodePublicKey(&clientKey.PublicKey)
	require.NoError(t, err)

	result, err := cont.FinalizeRegistration(ctx, FinalizeRegistrationParams{
		Signature: signChallenge(t, clientKey, data.HashAlgorithm,
			data.Nonce, data.TimeStamp, cont.Serial(), testRegScope, "Google", "Pixel 9"),
		PublicClientKey: clientPub,
		Scope:           testRegScope,
		DeviceBrand:     "Google",
		DeviceModel:     "Pixel 9",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.PublicServerKey)

	info := cont.Info()
	assert.Equal(t, interfaces.RegistrationStateRegistered, info[interfaces.InfoRegistrationState])
	assert.Equal(t, clientPub, info[interfaces.InfoPublicKeyContainer])
	assert.Equal(t, result.PublicServerKey, info[interfaces.InfoPublicKeyServer])
	assert.Equal(t, "Google Pixel 9", info[interfaces.InfoDevice])

	// The server private key is stored encrypted and matches the
	// advertised public key.
	decrypted, err := deps.Passwords.Decrypt(info[interfaces.InfoPrivateKeyServer])
	require.NoError(t, err)
	serverKey, err := cryptoutils.DecodePrivateKey(decrypted)
	require.NoError(t, err)
	encodedPub, err := cryptoutils.EncodePublicKey(&serverKey.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, result.PublicServerKey, encodedPub)
}

func TestFinalizeRegistrationBadSignature(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)

	data, err := cont.InitRegistration(ctx, InitRegistrationParams{
		ServerURL:       testServerURL,
		Scope:           testRegScope,
		RegistrationTTL: 10,
	})
	require.NoError(t, err)

	clientKey, err := cryptoutils.GenerateECDSAKeypair(data.KeyAlgorithm)
	require.NoError(t, err)
	clientPub, err := cryptoutils.EncodePublicKey(&clientKey.PublicKey)
	require.NoError(t, err)

	// Signature over a wrong nonce fails with the generic challenge error.
	_, err = cont.FinalizeRegistration(ctx, FinalizeRegistrationParams{
		Signature:       signChallenge(t, clientKey, data.HashAlgorithm, "ffff", data.TimeStamp, cont.Serial(), testRegScope),
		PublicClientKey: clientPub,
		Scope:           testRegScope,
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidChallenge)
	assert.NotEqual(t, interfaces.RegistrationStateRegistered, cont.Info()[interfaces.InfoRegistrationState])

	// Malformed inputs are parameter errors, not challenge errors.
	_, err = cont.FinalizeRegistration(ctx, FinalizeRegistrationParams{
		Signature:       "%%%not-base64%%%",
		PublicClientKey: clientPub,
		Scope:           testRegScope,
	})
	assert.ErrorIs(t, err, interfaces.ErrParameter)
}

func TestCheckChallengeResponse(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)

	// Before registration the error distinguishes "never paired".
	_, err = cont.CheckChallengeResponse(ctx, CheckChallengeResponseParams{Scope: testSyncScope})
	assert.ErrorIs(t, err, interfaces.ErrNotRegistered)

	clientKey := registerSmartphone(t, cont, false)

	data, err := cont.CreateChallenge(ctx, testSyncScope, 2, challenge.Data{})
	require.NoError(t, err)
	assert.Equal(t, "x25519", data.EncKeyAlgorithm)

	valid, err := cont.CheckChallengeResponse(ctx, CheckChallengeResponseParams{
		Signature: signChallenge(t, clientKey, "SHA256", data.Nonce, data.TimeStamp, cont.Serial(), testSyncScope),
		Scope:     testSyncScope,
	})
	require.NoError(t, err)
	assert.True(t, valid)

	// A tampered signature fails with the challenge error.
	data, err = cont.CreateChallenge(ctx, testSyncScope, 2, challenge.Data{})
	require.NoError(t, err)
	wrongKey, err := cryptoutils.GenerateECDSAKeypair("secp384r1")
	require.NoError(t, err)
	_, err = cont.CheckChallengeResponse(ctx, CheckChallengeResponseParams{
		Signature: signChallenge(t, wrongKey, "SHA256", data.Nonce, data.TimeStamp, cont.Serial(), testSyncScope),
		Scope:     testSyncScope,
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidChallenge)
}

func TestCheckChallengeResponseBindsClientPayload(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)
	clientKey := registerSmartphone(t, cont, false)

	encKey, err := cryptoutils.GenerateX25519Keypair()
	require.NoError(t, err)
	encPub := cryptoutils.EncodeX25519PublicKey(encKey.PublicKey())
	containerDict := `{"tokens":[]}`

	data, err := cont.CreateChallenge(ctx, testSyncScope, 2, challenge.Data{})
	require.NoError(t, err)

	// The exchange key and client payload are folded into the signed
	// message after the fixed components.
	valid, err := cont.CheckChallengeResponse(ctx, CheckChallengeResponseParams{
		Signature: signChallenge(t, clientKey, "SHA256",
			data.Nonce, data.TimeStamp, cont.Serial(), testSyncScope, encPub, containerDict),
		PublicEncKeyClient:  encPub,
		ContainerDictClient: containerDict,
		Scope:               testSyncScope,
	})
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTerminateRegistration(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)
	registerSmartphone(t, cont, true)

	require.NotEmpty(t, cont.Info()[interfaces.InfoPublicKeyContainer])

	require.NoError(t, cont.TerminateRegistration(ctx))
	info := cont.Info()
	for _, key := range registrationInfoKeys {
		assert.NotContains(t, info, key)
	}
	// The algorithm options survive termination.
	assert.Equal(t, "secp384r1", info[OptionKeyAlgorithm])

	// Terminating again is a no-op.
	assert.NoError(t, cont.TerminateRegistration(ctx))
}

func TestEncryptDictRoundtrip(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)
	registerSmartphone(t, cont, false)

	clientEncKey, err := cryptoutils.GenerateX25519Keypair()
	require.NoError(t, err)

	payload := map[string]any{"tokens": map[string]any{"add": []string{"TOTP0001"}}}
	encrypted, err := cont.EncryptDict(ctx, payload, EncryptDictParams{
		PublicEncKeyClient: cryptoutils.EncodeX25519PublicKey(clientEncKey.PublicKey()),
	})
	require.NoError(t, err)
	assert.Equal(t, "AES", encrypted.EncryptionAlgorithm)
	assert.Equal(t, "GCM", encrypted.EncryptionParams.Mode)

	// The client derives the same session key from the server's ephemeral
	// public key and decrypts.
	serverPub, err := cryptoutils.DecodeX25519PublicKey(encrypted.PublicServerKey)
	require.NoError(t, err)
	sessionKey, err := cryptoutils.SessionKey(clientEncKey, serverPub)
	require.NoError(t, err)
	plaintext, err := cryptoutils.DecryptAESGCM(encrypted.ContainerDictServer, sessionKey, encrypted.EncryptionParams)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(plaintext, &decoded))
	assert.Contains(t, decoded, "tokens")

	// A malformed client key is a parameter error.
	_, err = cont.EncryptDict(ctx, payload, EncryptDictParams{PublicEncKeyClient: "nope"})
	assert.ErrorIs(t, err, interfaces.ErrParameter)
}

func TestRegistrationURLFormat(t *testing.T) {
	url := createContainerRegistrationURL(registrationURLParams{
		Nonce:         "abcdef",
		TimeStamp:     "2025-01-01T00:00:00.000000+00:00",
		ServerURL:     testServerURL,
		Serial:        "SMPH00000001",
		KeyAlgorithm:  "secp384r1",
		HashAlgorithm: "SHA256",
		Passphrase:    "Enter code",
		Issuer:        DefaultIssuer,
		TTL:           10,
		SSLVerify:     true,
		ExtraData:     map[string]string{"b": "2", "a": "1"},
	})

	assert.Equal(t,
		"pia://container/SMPH00000001?issuer=privacyIDEA&ttl=10&nonce=abcdef"+
			"&time=2025-01-01T00%3A00%3A00.000000%2B00%3A00"+
			"&url=https://pi.example.com&serial=SMPH00000001"+
			"&key_algorithm=secp384r1&hash_algorithm=SHA256"+
			"&ssl_verify=True&passphrase=Enter%20code&a=1&b=2",
		url)
}

func TestRolloverLifecycle(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)
	registerSmartphone(t, cont, false)

	// Initiating a rollover keeps the live registration parameters and
	// stages the new ones under the rollover keys.
	data, err := cont.InitRegistration(ctx, InitRegistrationParams{
		ServerURL:       "https://new.example.com",
		Scope:           testRegScope,
		RegistrationTTL: 5,
		Rollover:        true,
	})
	require.NoError(t, err)

	info := cont.Info()
	assert.Equal(t, interfaces.RegistrationStateRollover, info[interfaces.InfoRegistrationState])
	assert.Equal(t, testServerURL, info[interfaces.InfoServerURL])
	assert.Equal(t, "https://new.example.com", info[interfaces.InfoRolloverServerURL])
	assert.Equal(t, "5", info[interfaces.InfoRolloverChallengeTTL])

	// The new device finalizes; the rollover state survives until the
	// first synchronization.
	newKey, err := cryptoutils.GenerateECDSAKeypair(data.KeyAlgorithm)
	require.NoError(t, err)
	newPub, err := cryptoutils.EncodePublicKey(&newKey.PublicKey)
	require.NoError(t, err)
	_, err = cont.FinalizeRegistration(ctx, FinalizeRegistrationParams{
		Signature:       signChallenge(t, newKey, data.HashAlgorithm, data.Nonce, data.TimeStamp, cont.Serial(), testRegScope),
		PublicClientKey: newPub,
		Scope:           testRegScope,
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.RegistrationStateRollover, cont.Info()[interfaces.InfoRegistrationState])

	// Completing the rollover promotes the staged parameters.
	phone, ok := cont.(*Smartphone)
	require.True(t, ok)
	require.NoError(t, phone.FinalizeRollover(ctx))

	info = cont.Info()
	assert.Equal(t, interfaces.RegistrationStateRegistered, info[interfaces.InfoRegistrationState])
	assert.Equal(t, "https://new.example.com", info[interfaces.InfoServerURL])
	assert.Equal(t, "5", info[interfaces.InfoChallengeTTL])
	assert.NotContains(t, info, interfaces.InfoRolloverServerURL)
	assert.NotContains(t, info, interfaces.InfoRolloverChallengeTTL)

	// Outside the rollover state the promotion is a no-op.
	require.NoError(t, phone.FinalizeRollover(ctx))
}
