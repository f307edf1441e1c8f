package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/mfahub/container-backend/interfaces"
)

// VaultBackend stores container records in HashiCorp Vault using the KV
// v2 API. Container info regularly carries key material, so a secret
// store is a natural home for the records.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault storage backend.
//
// Parameters:
//   - address: Vault server address, e.g. https://vault.example.com:8200
//   - mountPath: KV v2 mount, e.g. "secret"
//   - dataPath: path within the mount, e.g. "containers"
//   - token: Vault token; falls back to the VAULT_TOKEN environment
//     variable when empty
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// recordPath returns the KV v2 data path for a serial.
func (b *VaultBackend) recordPath(serial string) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, serial)
}

func (b *VaultBackend) Get(ctx context.Context, serial string) (*interfaces.ContainerRecord, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.recordPath(serial))
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("serial", serial), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrContainerNotFound
	}

	// KV v2 wraps the payload in a "data" field.
	inner, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response for %s", serial)
	}
	encoded, ok := inner["record"].(string)
	if !ok {
		return nil, interfaces.ErrContainerNotFound
	}

	var record interfaces.ContainerRecord
	if err := json.Unmarshal([]byte(encoded), &record); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", serial, err)
	}
	return &record, nil
}

func (b *VaultBackend) Put(ctx context.Context, record *interfaces.ContainerRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	payload := map[string]any{"data": map[string]any{"record": string(encoded)}}
	if _, err := b.client.Logical().WriteWithContext(ctx, b.recordPath(record.Serial), payload); err != nil {
		b.log.Error("Failed to write to Vault", slog.String("serial", record.Serial), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *VaultBackend) Delete(ctx context.Context, serial string) error {
	// Delete metadata to drop all versions of the record.
	path := fmt.Sprintf("%s/metadata/%s/%s", b.mountPath, b.dataPath, serial)
	if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *VaultBackend) List(ctx context.Context) ([]*interfaces.ContainerRecord, error) {
	path := fmt.Sprintf("%s/metadata/%s", b.mountPath, b.dataPath)
	secret, err := b.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	keys, ok := secret.Data["keys"].([]any)
	if !ok {
		return nil, nil
	}

	records := make([]*interfaces.ContainerRecord, 0, len(keys))
	for _, key := range keys {
		serial, ok := key.(string)
		if !ok {
			continue
		}
		record, err := b.Get(ctx, serial)
		if err != nil {
			b.log.Warn("Skipping unreadable container record",
				slog.String("serial", serial), "err", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (b *VaultBackend) LocationURI() string { return b.locationURI }
