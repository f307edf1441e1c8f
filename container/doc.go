// Package container implements the token container domain core: the
// polymorphic container entity, its lifecycle states and info store, the
// registration and synchronization protocol operations, and the
// reconciliation of client- and server-side token sets.
//
// # Container Types
//
// Concrete container behavior is selected through a type registry of
// immutable descriptors. Each descriptor declares the type tag, serial
// prefix, supported token types, the per-type option table (first allowed
// value is the default) and the state exclusion map, plus a constructor.
// The generic type holds any token; the smartphone type adds the
// cryptographic device binding protocol.
//
// # Persistence
//
// A container wraps one interfaces.ContainerRecord. Every public mutation
// rewrites the record through a single ContainerBackend.Put, which is the
// atomicity unit; mutations are not sequenced across calls. Concurrent
// writers resolve last-write-wins, including two concurrent registration
// finalizations - the second server key pair overwrites the first.
package container
