package container

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mfahub/container-backend/challenge"
	"github.com/mfahub/container-backend/cryptoutils"
	"github.com/mfahub/container-backend/interfaces"
)

// Deps bundles the collaborators a container operates against. The domain
// core performs no I/O besides these.
type Deps struct {
	Backend    interfaces.ContainerBackend
	Challenges *challenge.Manager
	Realms     interfaces.RealmStore
	Templates  interfaces.TemplateStore
	Tokens     interfaces.TokenService
	Passwords  *cryptoutils.PasswordCipher
	Log        *slog.Logger
}

// Descriptor is the immutable per-type configuration of a container type.
// Descriptors are registered once at init time and never mutated.
type Descriptor struct {
	// Type is the polymorphic type tag, e.g. "generic" or "smartphone".
	Type string
	// Prefix is the serial prefix for new containers of this type.
	Prefix string
	// Description is a human readable description of the type.
	Description string
	// SupportedTokenTypes lists the token types this container may hold,
	// sorted.
	SupportedTokenTypes []string
	// Options maps option keys to their finite allowed values; the first
	// value is the default.
	Options map[string][]string
	// StateTypes maps each supported state to the states it excludes.
	StateTypes map[string][]string
	// New constructs a container of this type around an existing record.
	New func(record *interfaces.ContainerRecord, deps Deps) TokenContainer
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Descriptor{}
)

// Register adds a container type descriptor. Registering a duplicate type
// panics; types are wired at init time.
func Register(desc *Descriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[desc.Type]; ok {
		panic(fmt.Sprintf("container type %q registered twice", desc.Type))
	}
	registry[desc.Type] = desc
}

// DescriptorFor returns the descriptor for a container type tag.
func DescriptorFor(containerType string) (*Descriptor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	desc, ok := registry[containerType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported container type %s", interfaces.ErrParameter, containerType)
	}
	return desc, nil
}

// Types returns the registered container type tags, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New wraps an existing record in its concrete container type.
func New(record *interfaces.ContainerRecord, deps Deps) (TokenContainer, error) {
	desc, err := DescriptorFor(record.Type)
	if err != nil {
		return nil, err
	}
	return desc.New(record, deps), nil
}

// GetBySerial loads a container from the backend and wraps it in its
// concrete type.
func GetBySerial(ctx context.Context, deps Deps, serial string) (TokenContainer, error) {
	record, err := deps.Backend.Get(ctx, serial)
	if err != nil {
		return nil, err
	}
	return New(record, deps)
}

// CreateContainer creates and persists a new container of the given type
// with a generated serial.
func CreateContainer(ctx context.Context, deps Deps, containerType, description string) (TokenContainer, error) {
	desc, err := DescriptorFor(containerType)
	if err != nil {
		return nil, err
	}

	record := &interfaces.ContainerRecord{
		Serial:      newSerial(desc.Prefix),
		Type:        containerType,
		Description: description,
		States:      []string{interfaces.StateActive},
		Info:        map[string]string{},
	}
	if err := deps.Backend.Put(ctx, record); err != nil {
		return nil, err
	}
	return desc.New(record, deps), nil
}

// newSerial builds a serial from the type prefix and a random suffix.
func newSerial(prefix string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return prefix + suffix
}
