// Package interfaces defines the core types and collaborator contracts for
// the token container backend, separating interface definitions from
// implementations.
//
// The package provides the contracts between the container domain core and
// its external collaborators:
//
// # Storage Contracts
//
// ContainerBackend: Keyed persistence for container records. Each public
// container mutation maps to a single Put, which the backend must apply
// atomically.
//
// ChallengeStore: Persistence for ephemeral registration and synchronization
// challenges, keyed by container serial.
//
// RealmStore, TemplateStore: Name lookups for shared realm and template
// references.
//
// # Token Contracts
//
// TokenService: Access to the token layer - lookup by serial, filtering by
// type, OTP-based serial resolution, and detail serialization. Token
// enrollment itself is out of scope.
//
// # Error Taxonomy
//
// Sentinel errors (ErrParameter, ErrResourceNotFound, ErrTokenAdmin,
// ErrNotRegistered, ErrInvalidChallenge, ErrNotImplemented) classify
// failures across package boundaries. Callers match with errors.Is.
package interfaces
