package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/mfahub/container-backend/interfaces"
)

// cloneRecord returns a deep copy so callers and the store never alias the
// same record.
func cloneRecord(record *interfaces.ContainerRecord) *interfaces.ContainerRecord {
	clone := *record
	clone.Realms = append([]string(nil), record.Realms...)
	clone.Owners = append([]interfaces.ContainerOwner(nil), record.Owners...)
	clone.States = append([]string(nil), record.States...)
	clone.Tokens = append([]string(nil), record.Tokens...)
	if record.Info != nil {
		clone.Info = make(map[string]string, len(record.Info))
		for k, v := range record.Info {
			clone.Info[k] = v
		}
	}
	if record.LastSeen != nil {
		t := *record.LastSeen
		clone.LastSeen = &t
	}
	if record.LastUpdated != nil {
		t := *record.LastUpdated
		clone.LastUpdated = &t
	}
	return &clone
}

// MemoryBackend is an in-process container record store.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*interfaces.ContainerRecord
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: map[string]*interfaces.ContainerRecord{}}
}

func (b *MemoryBackend) Get(ctx context.Context, serial string) (*interfaces.ContainerRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	record, ok := b.records[serial]
	if !ok {
		return nil, interfaces.ErrContainerNotFound
	}
	return cloneRecord(record), nil
}

func (b *MemoryBackend) Put(ctx context.Context, record *interfaces.ContainerRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[record.Serial] = cloneRecord(record)
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, serial string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, serial)
	return nil
}

func (b *MemoryBackend) List(ctx context.Context) ([]*interfaces.ContainerRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	serials := make([]string, 0, len(b.records))
	for serial := range b.records {
		serials = append(serials, serial)
	}
	sort.Strings(serials)
	records := make([]*interfaces.ContainerRecord, 0, len(serials))
	for _, serial := range serials {
		records = append(records, cloneRecord(b.records[serial]))
	}
	return records, nil
}

func (b *MemoryBackend) LocationURI() string { return "memory://" }

// MemoryChallengeStore keeps challenges in process. Creation order is
// preserved per serial; Delete under the store mutex makes consuming a
// challenge atomic, so a replayed signature cannot validate twice.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges []*interfaces.Challenge
}

// NewMemoryChallengeStore creates an empty challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{}
}

func (s *MemoryChallengeStore) Create(ctx context.Context, challenge *interfaces.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *challenge
	s.challenges = append(s.challenges, &clone)
	return nil
}

func (s *MemoryChallengeStore) BySerial(ctx context.Context, serial, transactionID string) ([]*interfaces.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*interfaces.Challenge
	for _, ch := range s.challenges {
		if ch.Serial != serial {
			continue
		}
		if transactionID != "" && ch.TransactionID != transactionID {
			continue
		}
		clone := *ch
		result = append(result, &clone)
	}
	return result, nil
}

func (s *MemoryChallengeStore) Delete(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ch := range s.challenges {
		if ch.TransactionID == transactionID {
			s.challenges = append(s.challenges[:i], s.challenges[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryChallengeStore) DeleteBySerial(ctx context.Context, serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.challenges[:0]
	for _, ch := range s.challenges {
		if ch.Serial != serial {
			kept = append(kept, ch)
		}
	}
	s.challenges = kept
	return nil
}

// MemoryRealmStore resolves realm names from a fixed set.
type MemoryRealmStore struct {
	mu     sync.RWMutex
	realms map[string]*interfaces.Realm
}

// NewMemoryRealmStore creates a realm store with the given realms.
func NewMemoryRealmStore(realms ...interfaces.Realm) *MemoryRealmStore {
	store := &MemoryRealmStore{realms: map[string]*interfaces.Realm{}}
	for _, realm := range realms {
		r := realm
		store.realms[realm.Name] = &r
	}
	return store
}

// AddRealm registers another realm.
func (s *MemoryRealmStore) AddRealm(realm interfaces.Realm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := realm
	s.realms[realm.Name] = &r
}

func (s *MemoryRealmStore) GetRealm(ctx context.Context, name string) (*interfaces.Realm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	realm, ok := s.realms[name]
	if !ok {
		return nil, interfaces.ErrResourceNotFound
	}
	r := *realm
	return &r, nil
}

// MemoryTemplateStore resolves template names from a fixed set.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*interfaces.Template
}

// NewMemoryTemplateStore creates a template store with the given templates.
func NewMemoryTemplateStore(templates ...interfaces.Template) *MemoryTemplateStore {
	store := &MemoryTemplateStore{templates: map[string]*interfaces.Template{}}
	for _, template := range templates {
		t := template
		store.templates[template.Name] = &t
	}
	return store
}

func (s *MemoryTemplateStore) GetTemplate(ctx context.Context, name string) (*interfaces.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	template, ok := s.templates[name]
	if !ok {
		return nil, interfaces.ErrResourceNotFound
	}
	t := *template
	return &t, nil
}
