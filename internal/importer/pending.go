package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrPendingNotFound is returned for unknown, expired or already resolved
// pending imports.
var ErrPendingNotFound = errors.New("pending import not found")

// PendingImport is a classified upload waiting for the user's decision.
type PendingImport struct {
	ID             string          `json:"id"`
	Tenant         string          `json:"tenant"`
	Entity         string          `json:"entity"`
	FileName       string          `json:"fileName"`
	UploadedBy     string          `json:"uploadedBy,omitempty"`
	RowsRead       int             `json:"rowsRead"`
	RowsSkipped    int             `json:"rowsSkipped"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	Classification *Classification `json:"classification"`
}

// PendingStore keeps pending imports until they are resolved or expire.
// Take removes the import, so each one is resolved at most once.
type PendingStore interface {
	Save(ctx context.Context, p *PendingImport) error
	Get(ctx context.Context, tenant, entity, id string) (*PendingImport, error)
	Take(ctx context.Context, tenant, entity, id string) (*PendingImport, error)
}

func pendingKey(tenant, entity, id string) string {
	return "import:pending:" + tenant + ":" + entity + ":" + id
}

// MemoryPendingStore is a process-local PendingStore.
type MemoryPendingStore struct {
	mu    sync.Mutex
	items map[string]*PendingImport
	now   func() time.Time
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{items: make(map[string]*PendingImport), now: time.Now}
}

func (s *MemoryPendingStore) Save(_ context.Context, p *PendingImport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.items[pendingKey(p.Tenant, p.Entity, p.ID)] = p
	return nil
}

func (s *MemoryPendingStore) Get(_ context.Context, tenant, entity, id string) (*PendingImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	p, ok := s.items[pendingKey(tenant, entity, id)]
	if !ok {
		return nil, ErrPendingNotFound
	}
	return p, nil
}

func (s *MemoryPendingStore) Take(_ context.Context, tenant, entity, id string) (*PendingImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	key := pendingKey(tenant, entity, id)
	p, ok := s.items[key]
	if !ok {
		return nil, ErrPendingNotFound
	}
	delete(s.items, key)
	return p, nil
}

// Len returns the number of live pending imports.
func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.items)
}

// sweep drops expired entries. Callers hold mu.
func (s *MemoryPendingStore) sweep() {
	now := s.now()
	for k, p := range s.items {
		if !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt) {
			delete(s.items, k)
		}
	}
}

// KV is the subset of the redis client used by RedisPendingStore.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetDel(ctx context.Context, key string) ([]byte, bool, error)
}

// RedisPendingStore shares pending imports between server replicas. Entries
// expire through the redis TTL.
type RedisPendingStore struct {
	kv  KV
	now func() time.Time
}

func NewRedisPendingStore(kv KV) *RedisPendingStore {
	return &RedisPendingStore{kv: kv, now: time.Now}
}

func (s *RedisPendingStore) Save(ctx context.Context, p *PendingImport) error {
	ttl := p.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("pending import %s already expired", p.ID)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending import: %w", err)
	}
	if err := s.kv.Set(ctx, pendingKey(p.Tenant, p.Entity, p.ID), data, ttl); err != nil {
		return fmt.Errorf("save pending import: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Get(ctx context.Context, tenant, entity, id string) (*PendingImport, error) {
	data, ok, err := s.kv.Get(ctx, pendingKey(tenant, entity, id))
	return decodePending(data, ok, err)
}

func (s *RedisPendingStore) Take(ctx context.Context, tenant, entity, id string) (*PendingImport, error) {
	data, ok, err := s.kv.GetDel(ctx, pendingKey(tenant, entity, id))
	return decodePending(data, ok, err)
}

func decodePending(data []byte, ok bool, err error) (*PendingImport, error) {
	if err != nil {
		return nil, fmt.Errorf("load pending import: %w", err)
	}
	if !ok {
		return nil, ErrPendingNotFound
	}
	var p PendingImport
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pending import: %w", err)
	}
	return &p, nil
}

// normalize restores semantic field types after a JSON round trip.
func (p *PendingImport) normalize(schema Schema) {
	if p.Classification == nil {
		p.Classification = &Classification{}
	}
	for _, r := range p.Classification.NewRecords {
		schema.Normalize(r.Fields)
	}
	for _, d := range p.Classification.Duplicates {
		if d.MappedRecord == nil {
			d.MappedRecord = &MappedRecord{Fields: map[string]any{}}
		}
		schema.Normalize(d.Fields)
	}
}
