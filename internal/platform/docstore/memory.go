package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryDoc struct {
	doc Document
	seq int64
}

// MemoryStore is a thread-safe, in-memory Store for tests and development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]*memoryDoc // tenant/collection -> id -> doc
	seq  int64
	now  func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]*memoryDoc),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func bucketKey(ctx context.Context, collection string) string {
	return tenantOf(ctx) + "/" + collection
}

func (s *MemoryStore) List(ctx context.Context, collection string) ([]*Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.docs[bucketKey(ctx, collection)]
	items := make([]*memoryDoc, 0, len(bucket))
	for _, d := range bucket {
		items = append(items, d)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })

	out := make([]*Document, 0, len(items))
	for _, d := range items {
		out = append(out, cloneDoc(&d.doc))
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[bucketKey(ctx, collection)][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(&d.doc), nil
}

func (s *MemoryStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := checkCollection(collection); err != nil {
		return "", err
	}
	body, err := encodeData(data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey(ctx, collection)
	if s.docs[key] == nil {
		s.docs[key] = make(map[string]*memoryDoc)
	}
	now := s.now()
	s.seq++
	id := uuid.New().String()
	s.docs[key][id] = &memoryDoc{
		doc: Document{
			Meta:       Meta{ID: id, CreatedAt: now, UpdatedAt: now},
			Collection: collection,
			Data:       body,
		},
		seq: s.seq,
	}
	return id, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	if err := checkCollection(collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[bucketKey(ctx, collection)][id]
	if !ok {
		return ErrNotFound
	}
	body, err := mergeData(d.doc.Data, patch)
	if err != nil {
		return err
	}
	d.doc.Data = body
	d.doc.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, collection, id, field string, values ...string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[bucketKey(ctx, collection)][id]
	if !ok {
		return ErrNotFound
	}
	body, err := appendData(d.doc.Data, field, values)
	if err != nil {
		return err
	}
	d.doc.Data = body
	d.doc.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.docs[bucketKey(ctx, collection)]
	if _, ok := bucket[id]; !ok {
		return ErrNotFound
	}
	delete(bucket, id)
	return nil
}

// Invalidate is a no-op: the memory store has no cached views.
func (s *MemoryStore) Invalidate(context.Context, string) error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

func cloneDoc(d *Document) *Document {
	out := *d
	out.Data = append(json.RawMessage(nil), d.Data...)
	return &out
}
