// Package storage provides persistence backends for container records.
//
// Backends implement interfaces.ContainerBackend over different stores:
//
//   - MemoryBackend: in-process maps, used in tests and single-node setups
//   - FileBackend: one JSON document per container on the local filesystem
//   - VaultBackend: HashiCorp Vault KV v2
//   - S3Backend: Amazon S3 or compatible object storage
//
// BackendFactory creates backends from location URIs such as
// file:///var/lib/containers or vault://vault.example.com:8200/secret/containers.
//
// Every backend applies one Put atomically at the level its store allows:
// a rename on the filesystem, a single KV write on Vault, a single object
// put on S3. Concurrent writers resolve last-write-wins; the domain layer
// documents this instead of hiding it.
//
// The package also provides in-memory implementations of the challenge,
// realm and template stores. Challenges are deliberately kept in memory:
// they are ephemeral, bounded by registration cadence, and the in-process
// mutex makes consume-once atomic, which a remote KV store cannot
// guarantee without transactions.
package storage
