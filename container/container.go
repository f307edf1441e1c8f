package container

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mfahub/container-backend/challenge"
	"github.com/mfahub/container-backend/interfaces"
)

// publicInfoHiddenKeys are info keys redacted from serializations intended
// for clients or admin UIs.
var publicInfoHiddenKeys = []string{
	interfaces.InfoPublicKeyContainer,
	interfaces.InfoRolloverServerURL,
	interfaces.InfoRolloverChallengeTTL,
}

// TokenContainer is the polymorphic container entity. The base type
// implements the shared state model; concrete types supply the
// registration protocol operations.
type TokenContainer interface {
	Serial() string
	Type() string
	Description() string
	SetDescription(ctx context.Context, description string) error
	Descriptor() *Descriptor

	LastAuthentication() *time.Time
	LastSynchronization() *time.Time
	UpdateLastAuthentication(ctx context.Context) error
	ResetLastAuthentication(ctx context.Context) error
	UpdateLastSynchronization(ctx context.Context) error
	ResetLastSynchronization(ctx context.Context) error

	Realms() []string
	SetRealms(ctx context.Context, realms []string, add bool) (map[string]bool, error)

	TokenSerials() []string
	AddToken(ctx context.Context, token interfaces.Token) (bool, error)
	RemoveToken(ctx context.Context, serial string) (bool, error)

	Users() []interfaces.User
	AddUser(ctx context.Context, user interfaces.User) (bool, error)
	RemoveUser(ctx context.Context, user interfaces.User) (bool, error)

	States() []string
	SetStates(ctx context.Context, states []string) (map[string]bool, error)
	AddStates(ctx context.Context, states []string) (map[string]bool, error)

	Info() map[string]string
	SetInfo(ctx context.Context, info map[string]string) error
	AddInfo(ctx context.Context, key, value string) error
	DeleteInfo(ctx context.Context, key string) (map[string]bool, error)
	SetDefaultOption(ctx context.Context, key string) (string, error)
	AddOptions(ctx context.Context, options map[string]string) error

	Template() string
	SetTemplate(ctx context.Context, name string) error

	Delete(ctx context.Context) error

	ValidateChallenge(ctx context.Context, signature []byte, publicKey *ecdsa.PublicKey, params ValidateChallengeParams) (bool, error)
	AsDict(includeTokens, publicInfo bool, additionalHideInfo []string) Details
	SynchronizeContainerDetails(ctx context.Context, client SyncInput, initialTransferAllowed bool) (*SyncResult, error)

	// Registration protocol extension points. The base type fails these
	// with interfaces.ErrNotImplemented.
	InitRegistration(ctx context.Context, params InitRegistrationParams) (*RegistrationData, error)
	FinalizeRegistration(ctx context.Context, params FinalizeRegistrationParams) (*FinalizeRegistrationResult, error)
	TerminateRegistration(ctx context.Context) error
	CreateChallenge(ctx context.Context, scope string, validityMinutes int, data challenge.Data) (*ChallengeData, error)
	CheckChallengeResponse(ctx context.Context, params CheckChallengeResponseParams) (bool, error)
	EncryptDict(ctx context.Context, payload any, params EncryptDictParams) (*EncryptedPayload, error)
}

// RolloverFinalizer is implemented by container types that support key
// rollover. Callers invoke it after the first successful synchronization
// of a rolled-over container.
type RolloverFinalizer interface {
	FinalizeRollover(ctx context.Context) error
}

// ValidateChallengeParams are the optional components bound into the
// signed challenge message.
type ValidateChallengeParams struct {
	Scope         string
	TransactionID string
	Key           string
	Container     string
	DeviceBrand   string
	DeviceModel   string
}

// UserInfo is the response-facing shape of a container owner.
type UserInfo struct {
	UserName     string `json:"user_name"`
	UserRealm    string `json:"user_realm"`
	UserResolver string `json:"user_resolver"`
	UserID       string `json:"user_id"`
}

// Details is the response-facing serialization of a container.
type Details struct {
	Type                string            `json:"type"`
	Serial              string            `json:"serial"`
	Description         string            `json:"description"`
	LastAuthentication  *string           `json:"last_authentication"`
	LastSynchronization *string           `json:"last_synchronization"`
	States              []string          `json:"states"`
	Info                map[string]string `json:"info"`
	Template            string            `json:"template"`
	Realms              []string          `json:"realms"`
	Users               []UserInfo        `json:"users"`
	Tokens              *[]string         `json:"tokens,omitempty"`
}

// Base implements the container state model shared by all types.
type Base struct {
	record *interfaces.ContainerRecord
	deps   Deps
	desc   *Descriptor
	log    *slog.Logger
}

// NewBase wraps a record for the given descriptor.
func NewBase(record *interfaces.ContainerRecord, deps Deps, desc *Descriptor) *Base {
	if record.Info == nil {
		record.Info = map[string]string{}
	}
	return &Base{
		record: record,
		deps:   deps,
		desc:   desc,
		log:    deps.Log.With(slog.String("serial", record.Serial)),
	}
}

func (b *Base) Serial() string          { return b.record.Serial }
func (b *Base) Type() string            { return b.record.Type }
func (b *Base) Description() string     { return b.record.Description }
func (b *Base) Descriptor() *Descriptor { return b.desc }
func (b *Base) Template() string        { return b.record.Template }

// save persists the whole record; it is the single atomicity unit of every
// public mutation.
func (b *Base) save(ctx context.Context) error {
	return b.deps.Backend.Put(ctx, b.record)
}

func (b *Base) SetDescription(ctx context.Context, description string) error {
	b.record.Description = description
	return b.save(ctx)
}

// LastAuthentication returns when a token of this container was last used
// successfully for authentication, or nil.
func (b *Base) LastAuthentication() *time.Time { return b.record.LastSeen }

// LastSynchronization returns when the container last completed a
// synchronization, or nil.
func (b *Base) LastSynchronization() *time.Time { return b.record.LastUpdated }

func (b *Base) UpdateLastAuthentication(ctx context.Context) error {
	now := time.Now().UTC()
	b.record.LastSeen = &now
	return b.save(ctx)
}

func (b *Base) ResetLastAuthentication(ctx context.Context) error {
	b.record.LastSeen = nil
	return b.save(ctx)
}

func (b *Base) UpdateLastSynchronization(ctx context.Context) error {
	now := time.Now().UTC()
	b.record.LastUpdated = &now
	return b.save(ctx)
}

func (b *Base) ResetLastSynchronization(ctx context.Context) error {
	b.record.LastUpdated = nil
	return b.save(ctx)
}

func (b *Base) Realms() []string {
	return slices.Clone(b.record.Realms)
}

// userRealms returns the realms of the owners assigned to the container.
func (b *Base) userRealms() []string {
	realms := make([]string, 0, len(b.record.Owners))
	for _, owner := range b.record.Owners {
		realms = append(realms, owner.Realm)
	}
	return realms
}

// SetRealms replaces (or, with add, augments) the realm assignment. Realms
// of assigned owners are force-retained on replacement. The result maps
// each realm name to whether it was newly assigned; the "deleted" entry
// reports whether existing assignments were removed first. Unknown realm
// names map to false with a warning, they are not an error.
func (b *Base) SetRealms(ctx context.Context, realms []string, add bool) (map[string]bool, error) {
	result := map[string]bool{}

	if !add {
		b.record.Realms = nil
		result["deleted"] = true

		// Realms of assigned users must survive a replacement.
		for _, userRealm := range b.userRealms() {
			if !slices.Contains(realms, userRealm) {
				realms = append(realms, userRealm)
				b.log.Warn("Realm can not be removed from container because a user from this realm is assigned",
					slog.String("realm", userRealm))
			}
		}
	} else {
		result["deleted"] = false
	}

	for _, realm := range realms {
		if realm == "" {
			continue
		}
		if _, err := b.deps.Realms.GetRealm(ctx, realm); err != nil {
			if errors.Is(err, interfaces.ErrResourceNotFound) {
				result[realm] = false
				b.log.Warn("Realm does not exist", slog.String("realm", realm))
				continue
			}
			return nil, err
		}
		if slices.Contains(b.record.Realms, realm) {
			b.log.Info("Realm is already assigned to container", slog.String("realm", realm))
			result[realm] = false
			continue
		}
		b.record.Realms = append(b.record.Realms, realm)
		result[realm] = true
	}

	if err := b.save(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func (b *Base) TokenSerials() []string {
	return slices.Clone(b.record.Tokens)
}

// AddToken adds a token to the container. Fails with ErrParameter if the
// token type is not supported by this container type; returns false
// without error if the token is already a member.
func (b *Base) AddToken(ctx context.Context, token interfaces.Token) (bool, error) {
	if !slices.Contains(b.desc.SupportedTokenTypes, token.Type()) {
		return false, fmt.Errorf("%w: token type %s not supported for container type %s, supported types are %v",
			interfaces.ErrParameter, token.Type(), b.Type(), b.desc.SupportedTokenTypes)
	}
	if slices.Contains(b.record.Tokens, token.Serial()) {
		return false, nil
	}
	b.record.Tokens = append(b.record.Tokens, token.Serial())
	if err := b.save(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveToken removes a token from the container. The token itself is a
// shared reference and survives. Fails with ErrResourceNotFound if no such
// token exists at all; returns false without error if the token exists but
// is not a member.
func (b *Base) RemoveToken(ctx context.Context, serial string) (bool, error) {
	if _, err := b.deps.Tokens.GetToken(ctx, serial); err != nil {
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			return false, fmt.Errorf("%w: token with serial %s does not exist", interfaces.ErrResourceNotFound, serial)
		}
		return false, err
	}
	idx := slices.Index(b.record.Tokens, serial)
	if idx < 0 {
		b.log.Info("Token not found in container", slog.String("tokenSerial", serial))
		return false, nil
	}
	b.record.Tokens = slices.Delete(b.record.Tokens, idx, idx+1)
	if err := b.save(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Base) Users() []interfaces.User {
	users := make([]interfaces.User, 0, len(b.record.Owners))
	for _, owner := range b.record.Owners {
		users = append(users, interfaces.User{
			UserID:   owner.UserID,
			Login:    owner.UserName,
			Resolver: owner.Resolver,
			Realm:    owner.Realm,
		})
	}
	return users
}

// AddUser assigns an owner. A container has at most one owner; assigning a
// second one fails with ErrTokenAdmin. The owner's realm is added to the
// container realms.
func (b *Base) AddUser(ctx context.Context, user interfaces.User) (bool, error) {
	if len(b.record.Owners) > 0 {
		b.log.Info("Container already has an owner")
		return false, fmt.Errorf("%w: this container is already assigned to another user", interfaces.ErrTokenAdmin)
	}
	b.record.Owners = append(b.record.Owners, interfaces.ContainerOwner{
		UserID:   user.UserID,
		UserName: user.Login,
		Resolver: user.Resolver,
		Realm:    user.Realm,
	})
	if user.Realm != "" && !slices.Contains(b.record.Realms, user.Realm) {
		b.record.Realms = append(b.record.Realms, user.Realm)
	}
	if err := b.save(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveUser removes a matching owner row. Returns whether one existed.
func (b *Base) RemoveUser(ctx context.Context, user interfaces.User) (bool, error) {
	before := len(b.record.Owners)
	b.record.Owners = slices.DeleteFunc(b.record.Owners, func(owner interfaces.ContainerOwner) bool {
		return owner.UserID == user.UserID && owner.Resolver == user.Resolver
	})
	if len(b.record.Owners) == before {
		return false, nil
	}
	if err := b.save(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Base) Info() map[string]string {
	info := make(map[string]string, len(b.record.Info))
	for k, v := range b.record.Info {
		info[k] = v
	}
	return info
}

// SetInfo replaces the whole info map.
func (b *Base) SetInfo(ctx context.Context, info map[string]string) error {
	b.record.Info = map[string]string{}
	for k, v := range info {
		b.record.Info[k] = v
	}
	return b.save(ctx)
}

// AddInfo sets a single info key.
func (b *Base) AddInfo(ctx context.Context, key, value string) error {
	b.record.Info[key] = value
	return b.save(ctx)
}

// DeleteInfo deletes one info key, or all keys if key is empty. The result
// maps each deleted key to true; deleting an absent key is not an error.
func (b *Base) DeleteInfo(ctx context.Context, key string) (map[string]bool, error) {
	result := map[string]bool{}
	if key == "" {
		for k := range b.record.Info {
			result[k] = true
		}
		b.record.Info = map[string]string{}
	} else if _, ok := b.record.Info[key]; ok {
		delete(b.record.Info, key)
		result[key] = true
	}
	if len(result) == 0 {
		b.log.Debug("Container has no matching info", slog.String("key", key))
	}
	if err := b.save(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// SetDefaultOption resolves the effective value for a type-scoped option
// key: an already stored value wins, otherwise the type's default is
// persisted and returned. Returns the empty string for keys the type does
// not declare.
func (b *Base) SetDefaultOption(ctx context.Context, key string) (string, error) {
	allowed, ok := b.desc.Options[key]
	if !ok || len(allowed) == 0 {
		return "", nil
	}
	if value := b.record.Info[key]; value != "" {
		return value, nil
	}
	value := allowed[0]
	if err := b.AddInfo(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}

// AddOptions persists explicit option values. Values outside the finite
// allowed set and unknown keys are logged and ignored.
func (b *Base) AddOptions(ctx context.Context, options map[string]string) error {
	changed := false
	for key, value := range options {
		allowed, ok := b.desc.Options[key]
		if !ok {
			b.log.Debug("Option key not found for container type", slog.String("key", key))
			continue
		}
		if !slices.Contains(allowed, value) {
			b.log.Debug("Value not supported for option key",
				slog.String("key", key), slog.String("value", value))
			continue
		}
		b.record.Info[key] = value
		changed = true
	}
	if !changed {
		return nil
	}
	return b.save(ctx)
}

// SetTemplate assigns a template by name. Templates of a different
// container type are ignored with a log line, matching the tolerant
// behavior of the other assignment operations.
func (b *Base) SetTemplate(ctx context.Context, name string) error {
	template, err := b.deps.Templates.GetTemplate(ctx, name)
	if err != nil {
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			b.log.Info("Template does not exist", slog.String("template", name))
			return nil
		}
		return err
	}
	if template.ContainerType != b.Type() {
		b.log.Info("Template is not compatible with container type",
			slog.String("template", name), slog.String("containerType", b.Type()))
		return nil
	}
	b.record.Template = name
	return b.save(ctx)
}

// Delete removes the container record and cascades to its challenges.
// Tokens are shared references and survive.
func (b *Base) Delete(ctx context.Context) error {
	if err := b.deps.Challenges.DeleteAll(ctx, b.Serial()); err != nil {
		return err
	}
	return b.deps.Backend.Delete(ctx, b.Serial())
}

// ValidateChallenge verifies a signed challenge response against all live
// challenges of this container using the negotiated hash algorithm.
func (b *Base) ValidateChallenge(ctx context.Context, signature []byte, publicKey *ecdsa.PublicKey, params ValidateChallengeParams) (bool, error) {
	hashAlgorithm := b.record.Info[interfaces.InfoHashAlgorithm]
	if hashAlgorithm == "" {
		hashAlgorithm = "SHA256"
	}
	res, err := b.deps.Challenges.Verify(ctx, challenge.VerifyRequest{
		Serial:        b.Serial(),
		Signature:     signature,
		PublicKey:     publicKey,
		Scope:         params.Scope,
		TransactionID: params.TransactionID,
		HashAlgorithm: hashAlgorithm,
		DeviceBrand:   params.DeviceBrand,
		DeviceModel:   params.DeviceModel,
		Key:           params.Key,
		Container:     params.Container,
	})
	if err != nil {
		return false, err
	}
	return res.Valid, nil
}

// AsDict serializes the full container state. With publicInfo, a fixed set
// of sensitive info keys is redacted in addition to any caller-supplied
// list.
func (b *Base) AsDict(includeTokens, publicInfo bool, additionalHideInfo []string) Details {
	details := Details{
		Type:        b.Type(),
		Serial:      b.Serial(),
		Description: b.Description(),
		States:      b.States(),
		Template:    b.Template(),
		Realms:      b.Realms(),
		Users:       []UserInfo{},
	}
	if last := b.LastAuthentication(); last != nil {
		formatted := last.UTC().Format(challenge.TimestampLayout)
		details.LastAuthentication = &formatted
	}
	if last := b.LastSynchronization(); last != nil {
		formatted := last.UTC().Format(challenge.TimestampLayout)
		details.LastSynchronization = &formatted
	}

	var hidden []string
	if publicInfo {
		hidden = append(hidden, publicInfoHiddenKeys...)
	}
	hidden = append(hidden, additionalHideInfo...)
	info := b.Info()
	for _, key := range hidden {
		delete(info, key)
	}
	details.Info = info

	for _, user := range b.Users() {
		details.Users = append(details.Users, UserInfo{
			UserName:     user.Login,
			UserRealm:    user.Realm,
			UserResolver: user.Resolver,
			UserID:       user.UserID,
		})
	}

	if includeTokens {
		tokens := b.TokenSerials()
		details.Tokens = &tokens
	}
	return details
}

// Registration protocol defaults: the base type does not support device
// pairing. These fail loudly so callers can detect unsupported protocol
// usage instead of silently no-opping.

func (b *Base) InitRegistration(ctx context.Context, params InitRegistrationParams) (*RegistrationData, error) {
	return nil, fmt.Errorf("registration: %w", interfaces.ErrNotImplemented)
}

func (b *Base) FinalizeRegistration(ctx context.Context, params FinalizeRegistrationParams) (*FinalizeRegistrationResult, error) {
	return nil, fmt.Errorf("registration: %w", interfaces.ErrNotImplemented)
}

func (b *Base) TerminateRegistration(ctx context.Context) error {
	return fmt.Errorf("registration: %w", interfaces.ErrNotImplemented)
}

func (b *Base) CreateChallenge(ctx context.Context, scope string, validityMinutes int, data challenge.Data) (*ChallengeData, error) {
	return nil, fmt.Errorf("challenge creation: %w", interfaces.ErrNotImplemented)
}

func (b *Base) CheckChallengeResponse(ctx context.Context, params CheckChallengeResponseParams) (bool, error) {
	return false, fmt.Errorf("challenge response check: %w", interfaces.ErrNotImplemented)
}

func (b *Base) EncryptDict(ctx context.Context, payload any, params EncryptDictParams) (*EncryptedPayload, error) {
	return nil, fmt.Errorf("encryption: %w", interfaces.ErrNotImplemented)
}
