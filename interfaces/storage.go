package interfaces

import "context"

// ContainerBackend provides keyed persistence for container records.
//
// Put replaces the stored record for its serial. Implementations must apply
// each Put atomically; concurrent Puts for the same serial resolve as
// last-write-wins. Get returns ErrContainerNotFound for unknown serials.
type ContainerBackend interface {
	Get(ctx context.Context, serial string) (*ContainerRecord, error)
	Put(ctx context.Context, record *ContainerRecord) error
	Delete(ctx context.Context, serial string) error
	List(ctx context.Context) ([]*ContainerRecord, error)
	// LocationURI returns the URI identifying this backend instance.
	LocationURI() string
}

// ChallengeStore persists ephemeral challenges keyed by container serial.
//
// Delete must be idempotent. Implementations should make Delete atomic with
// respect to concurrent lookups so a consumed challenge cannot validate
// twice; where a backend cannot guarantee that, the limitation must be
// documented rather than papered over.
type ChallengeStore interface {
	Create(ctx context.Context, challenge *Challenge) error
	// BySerial returns all challenges for a serial, oldest first. If
	// transactionID is non-empty only challenges with that transaction id
	// are returned.
	BySerial(ctx context.Context, serial, transactionID string) ([]*Challenge, error)
	Delete(ctx context.Context, transactionID string) error
	DeleteBySerial(ctx context.Context, serial string) error
}

// RealmStore resolves realm names to realm records. GetRealm returns
// ErrResourceNotFound for unknown names.
type RealmStore interface {
	GetRealm(ctx context.Context, name string) (*Realm, error)
}

// TemplateStore resolves template names. GetTemplate returns
// ErrResourceNotFound for unknown names.
type TemplateStore interface {
	GetTemplate(ctx context.Context, name string) (*Template, error)
}
