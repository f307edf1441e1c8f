package container

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfahub/container-backend/challenge"
	"github.com/mfahub/container-backend/cryptoutils"
	"github.com/mfahub/container-backend/interfaces"
	"github.com/mfahub/container-backend/storage"
	"github.com/mfahub/container-backend/tokens"
)

func testDeps(t *testing.T, tokenService interfaces.TokenService) Deps {
	t.Helper()
	passwords, err := cryptoutils.NewPasswordCipher([]byte("test-secret"))
	require.NoError(t, err)
	if tokenService == nil {
		tokenService = tokens.NewMemoryTokenService()
	}
	log := slog.Default()
	return Deps{
		Backend:    storage.NewMemoryBackend(),
		Challenges: challenge.NewManager(storage.NewMemoryChallengeStore(), passwords, log),
		Realms: storage.NewMemoryRealmStore(
			interfaces.Realm{Name: "realm1", Default: true},
			interfaces.Realm{Name: "realm2"},
		),
		Templates: storage.NewMemoryTemplateStore(
			interfaces.Template{Name: "phone-default", ContainerType: SmartphoneType},
			interfaces.Template{Name: "generic-default", ContainerType: GenericType},
		),
		Tokens:    tokenService,
		Passwords: passwords,
		Log:       log,
	}
}

func TestCreateContainer(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)

	cont, err := CreateContainer(ctx, deps, GenericType, "my container")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cont.Serial(), "CONT"))
	assert.Len(t, cont.Serial(), 12)
	assert.Equal(t, "my container", cont.Description())
	assert.Equal(t, []string{interfaces.StateActive}, cont.States())

	// The record is persisted and loads back as the concrete type.
	loaded, err := GetBySerial(ctx, deps, cont.Serial())
	require.NoError(t, err)
	assert.IsType(t, &Generic{}, loaded)

	phone, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(phone.Serial(), "SMPH"))

	_, err = CreateContainer(ctx, deps, "yubikey", "")
	assert.ErrorIs(t, err, interfaces.ErrParameter)

	_, err = GetBySerial(ctx, deps, "CONT00000000")
	assert.ErrorIs(t, err, interfaces.ErrContainerNotFound)
}

func TestSetStatesExclusion(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, GenericType, "")
	require.NoError(t, err)

	// Mutually exclusive states are rejected before any mutation.
	_, err = cont.SetStates(ctx, []string{interfaces.StateActive, interfaces.StateDisabled})
	assert.ErrorIs(t, err, interfaces.ErrParameter)
	assert.Equal(t, []string{interfaces.StateActive}, cont.States())

	result, err := cont.SetStates(ctx, []string{interfaces.StateDisabled, interfaces.StateLost})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{interfaces.StateDisabled: true, interfaces.StateLost: true}, result)
	assert.ElementsMatch(t, []string{interfaces.StateDisabled, interfaces.StateLost}, cont.States())

	// Unsupported names are skipped per item, not fatal.
	result, err = cont.SetStates(ctx, []string{interfaces.StateActive, "frozen"})
	require.NoError(t, err)
	assert.True(t, result[interfaces.StateActive])
	assert.False(t, result["frozen"])
	assert.Equal(t, []string{interfaces.StateActive}, cont.States())
}

func TestAddStatesRemovesExcluded(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, GenericType, "")
	require.NoError(t, err)

	_, err = cont.SetStates(ctx, []string{interfaces.StateActive, interfaces.StateLost})
	require.NoError(t, err)

	// Disabled excludes active: adding it removes active but keeps lost.
	result, err := cont.AddStates(ctx, []string{interfaces.StateDisabled})
	require.NoError(t, err)
	assert.True(t, result[interfaces.StateDisabled])
	assert.ElementsMatch(t, []string{interfaces.StateLost, interfaces.StateDisabled}, cont.States())

	// A contradictory add list fails before any mutation.
	_, err = cont.AddStates(ctx, []string{interfaces.StateActive, interfaces.StateDisabled})
	assert.ErrorIs(t, err, interfaces.ErrParameter)
	assert.ElementsMatch(t, []string{interfaces.StateLost, interfaces.StateDisabled}, cont.States())

	// Adding an already present state is idempotent.
	_, err = cont.AddStates(ctx, []string{interfaces.StateDisabled})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{interfaces.StateLost, interfaces.StateDisabled}, cont.States())
}

func TestAddRemoveToken(t *testing.T) {
	ctx := context.Background()
	service := tokens.NewMemoryTokenService(
		&tokens.MemoryToken{TokenSerial: "TOTP0001", TokenType: "totp"},
		&tokens.MemoryToken{TokenSerial: "EMAIL0001", TokenType: "email"},
	)
	deps := testDeps(t, service)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)

	totp, err := service.GetToken(ctx, "TOTP0001")
	require.NoError(t, err)
	added, err := cont.AddToken(ctx, totp)
	require.NoError(t, err)
	assert.True(t, added)

	// Adding the same token again is not an error.
	added, err = cont.AddToken(ctx, totp)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"TOTP0001"}, cont.TokenSerials())

	// The smartphone type does not support email tokens.
	email, err := service.GetToken(ctx, "EMAIL0001")
	require.NoError(t, err)
	_, err = cont.AddToken(ctx, email)
	assert.ErrorIs(t, err, interfaces.ErrParameter)

	// Removing a token that does not exist anywhere is an error.
	_, err = cont.RemoveToken(ctx, "HOTP9999")
	assert.ErrorIs(t, err, interfaces.ErrResourceNotFound)

	// Removing an existing token that is not a member is not.
	removed, err := cont.RemoveToken(ctx, "EMAIL0001")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = cont.RemoveToken(ctx, "TOTP0001")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, cont.TokenSerials())

	// The token itself survives removal.
	_, err = service.GetToken(ctx, "TOTP0001")
	assert.NoError(t, err)
}

func TestAddUserSingleOwner(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, GenericType, "")
	require.NoError(t, err)

	alice := interfaces.User{UserID: "u1", Login: "alice", Resolver: "ldap", Realm: "realm1"}
	added, err := cont.AddUser(ctx, alice)
	require.NoError(t, err)
	assert.True(t, added)
	// The owner's realm is added to the container realms.
	assert.Equal(t, []string{"realm1"}, cont.Realms())

	// A second owner is refused and the first stays assigned.
	bob := interfaces.User{UserID: "u2", Login: "bob", Resolver: "ldap", Realm: "realm2"}
	_, err = cont.AddUser(ctx, bob)
	assert.ErrorIs(t, err, interfaces.ErrTokenAdmin)
	require.Len(t, cont.Users(), 1)
	assert.Equal(t, "alice", cont.Users()[0].Login)

	removed, err := cont.RemoveUser(ctx, alice)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, cont.Users())

	removed, err = cont.RemoveUser(ctx, alice)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSetRealms(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, GenericType, "")
	require.NoError(t, err)

	result, err := cont.SetRealms(ctx, []string{"realm1", "atlantis"}, false)
	require.NoError(t, err)
	assert.True(t, result["deleted"])
	assert.True(t, result["realm1"])
	// Unknown realms are reported false, not an error.
	assert.False(t, result["atlantis"])
	assert.Equal(t, []string{"realm1"}, cont.Realms())

	// Add mode keeps existing assignments.
	result, err = cont.SetRealms(ctx, []string{"realm2"}, true)
	require.NoError(t, err)
	assert.False(t, result["deleted"])
	assert.True(t, result["realm2"])
	assert.ElementsMatch(t, []string{"realm1", "realm2"}, cont.Realms())

	// Replacing with a list that drops an owner's realm force-retains it.
	_, err = cont.AddUser(ctx, interfaces.User{UserID: "u1", Login: "alice", Resolver: "ldap", Realm: "realm1"})
	require.NoError(t, err)
	result, err = cont.SetRealms(ctx, []string{"realm2"}, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"realm1", "realm2"}, cont.Realms())
}

func TestInfoOperations(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)

	require.NoError(t, cont.SetInfo(ctx, map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, cont.AddInfo(ctx, "c", "3"))
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, cont.Info())

	result, err := cont.DeleteInfo(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true}, result)

	// Deleting an absent key reports nothing and is not an error.
	result, err = cont.DeleteInfo(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, result)

	// Empty key clears everything.
	result, err = cont.DeleteInfo(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"b": true, "c": true}, result)
	assert.Empty(t, cont.Info())
}

func TestOptionHandling(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)

	// The default is the first declared value and gets persisted.
	value, err := cont.SetDefaultOption(ctx, OptionKeyAlgorithm)
	require.NoError(t, err)
	assert.Equal(t, "secp384r1", value)
	assert.Equal(t, "secp384r1", cont.Info()[OptionKeyAlgorithm])

	// A stored value wins over the default.
	require.NoError(t, cont.AddOptions(ctx, map[string]string{OptionKeyAlgorithm: "secp521r1"}))
	value, err = cont.SetDefaultOption(ctx, OptionKeyAlgorithm)
	require.NoError(t, err)
	assert.Equal(t, "secp521r1", value)

	// Values outside the allowed set and unknown keys are ignored.
	require.NoError(t, cont.AddOptions(ctx, map[string]string{
		OptionKeyAlgorithm: "secp256k1",
		"favorite_color":   "blue",
	}))
	assert.Equal(t, "secp521r1", cont.Info()[OptionKeyAlgorithm])
	_, ok := cont.Info()["favorite_color"]
	assert.False(t, ok)

	// Keys the type does not declare resolve to the empty string.
	value, err = cont.SetDefaultOption(ctx, "favorite_color")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestSetTemplate(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)

	require.NoError(t, cont.SetTemplate(ctx, "phone-default"))
	assert.Equal(t, "phone-default", cont.Template())

	// A template of another container type is ignored.
	require.NoError(t, cont.SetTemplate(ctx, "generic-default"))
	assert.Equal(t, "phone-default", cont.Template())

	// So is an unknown template.
	require.NoError(t, cont.SetTemplate(ctx, "nope"))
	assert.Equal(t, "phone-default", cont.Template())
}

func TestAsDictRedaction(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)

	require.NoError(t, cont.SetInfo(ctx, map[string]string{
		interfaces.InfoPublicKeyContainer:   "clientkey",
		interfaces.InfoPublicKeyServer:      "serverkey",
		interfaces.InfoRolloverServerURL:    "https://new.example.com",
		interfaces.InfoRolloverChallengeTTL: "10",
		interfaces.InfoDevice:               "Google Pixel 9",
	}))

	details := cont.AsDict(true, true, []string{interfaces.InfoDevice})
	assert.NotContains(t, details.Info, interfaces.InfoPublicKeyContainer)
	assert.NotContains(t, details.Info, interfaces.InfoRolloverServerURL)
	assert.NotContains(t, details.Info, interfaces.InfoRolloverChallengeTTL)
	assert.NotContains(t, details.Info, interfaces.InfoDevice)
	// The server public key is not in the hidden set.
	assert.Equal(t, "serverkey", details.Info[interfaces.InfoPublicKeyServer])
	require.NotNil(t, details.Tokens)

	// Non-public serialization keeps everything.
	full := cont.AsDict(false, false, nil)
	assert.Equal(t, "clientkey", full.Info[interfaces.InfoPublicKeyContainer])
	assert.Nil(t, full.Tokens)
}

func TestDeleteCascadesChallenges(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, SmartphoneType, "")
	require.NoError(t, err)

	_, err = cont.CreateChallenge(ctx, "https://pi.example.com/container/synchronize", 2, challenge.Data{})
	require.NoError(t, err)

	require.NoError(t, cont.Delete(ctx))
	_, err = GetBySerial(ctx, deps, cont.Serial())
	assert.ErrorIs(t, err, interfaces.ErrContainerNotFound)
}

func TestGenericDoesNotSupportRegistration(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t, nil)
	cont, err := CreateContainer(ctx, deps, GenericType, "")
	require.NoError(t, err)

	_, err = cont.InitRegistration(ctx, InitRegistrationParams{})
	assert.ErrorIs(t, err, interfaces.ErrNotImplemented)
	_, err = cont.FinalizeRegistration(ctx, FinalizeRegistrationParams{})
	assert.ErrorIs(t, err, interfaces.ErrNotImplemented)
	assert.ErrorIs(t, cont.TerminateRegistration(ctx), interfaces.ErrNotImplemented)
	_, err = cont.CheckChallengeResponse(ctx, CheckChallengeResponseParams{})
	assert.ErrorIs(t, err, interfaces.ErrNotImplemented)
	_, err = cont.EncryptDict(ctx, nil, EncryptDictParams{})
	assert.ErrorIs(t, err, interfaces.ErrNotImplemented)
}

func TestRegistryTypes(t *testing.T) {
	assert.Equal(t, []string{GenericType, SmartphoneType}, Types())

	desc, err := DescriptorFor(SmartphoneType)
	require.NoError(t, err)
	assert.Equal(t, "SMPH", desc.Prefix)
	assert.Contains(t, desc.SupportedTokenTypes, "totp")
}
