package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mfahub/container-backend/interfaces"
)

// FileBackend stores one JSON document per container on the local
// filesystem. Writes go through a temp file plus rename so a Put is
// atomic on POSIX filesystems.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file storage backend rooted at baseDir,
// creating the directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (b *FileBackend) recordPath(serial string) string {
	return filepath.Join(b.baseDir, serial+".json")
}

func (b *FileBackend) Get(ctx context.Context, serial string) (*interfaces.ContainerRecord, error) {
	data, err := os.ReadFile(b.recordPath(serial))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, interfaces.ErrContainerNotFound
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	var record interfaces.ContainerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", serial, err)
	}
	return &record, nil
}

func (b *FileBackend) Put(ctx context.Context, record *interfaces.ContainerRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	path := b.recordPath(record.Serial)
	tmp, err := os.CreateTemp(b.baseDir, record.Serial+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace record: %w", err)
	}

	b.log.Debug("Stored container record",
		slog.String("serial", record.Serial), slog.Int("size", len(data)))
	return nil
}

func (b *FileBackend) Delete(ctx context.Context, serial string) error {
	if err := os.Remove(b.recordPath(serial)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (b *FileBackend) List(ctx context.Context) ([]*interfaces.ContainerRecord, error) {
	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	serials := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		serials = append(serials, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(serials)

	records := make([]*interfaces.ContainerRecord, 0, len(serials))
	for _, serial := range serials {
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

func (b *FileBackend) LocationURI() string { return b.locationURI }
