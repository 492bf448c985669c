package docstore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Cache is the byte cache CachedStore keeps collection snapshots in.
// cache.Client (redis) implements it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

// CachedStore serves List from a cached snapshot of the whole collection.
// Snapshots are stored per collection generation. Writes go straight to
// the wrapped store and then bump the generation, as does Invalidate after
// a bulk commit, so a List that read the store before a write can only
// cache its result under a generation nobody reads any more. Old
// generations expire with the ttl. Cache failures degrade to reads from
// the wrapped store.
type CachedStore struct {
	Store
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedStore(inner Store, cache Cache, ttl time.Duration, logger zerolog.Logger) *CachedStore {
	return &CachedStore{Store: inner, cache: cache, ttl: ttl, logger: logger}
}

func generationKey(ctx context.Context, collection string) string {
	return "docstore:gen:" + tenantOf(ctx) + ":" + collection
}

func snapshotKey(ctx context.Context, collection string, gen int64) string {
	return "docstore:" + tenantOf(ctx) + ":" + collection + ":" + strconv.FormatInt(gen, 10)
}

// generation returns the current snapshot generation; a missing counter is
// generation 0.
func (s *CachedStore) generation(ctx context.Context, collection string) (int64, error) {
	raw, ok, err := s.cache.Get(ctx, generationKey(ctx, collection))
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func (s *CachedStore) List(ctx context.Context, collection string) ([]*Document, error) {
	gen, err := s.generation(ctx, collection)
	if err != nil {
		s.logger.Warn().Err(err).Str("collection", collection).Msg("collection cache read failed")
		return s.Store.List(ctx, collection)
	}
	key := snapshotKey(ctx, collection, gen)

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("collection cache read failed")
	} else if ok {
		var docs []*Document
		if err := json.Unmarshal(raw, &docs); err == nil {
			return docs, nil
		}
		s.logger.Warn().Str("key", key).Msg("discarding undecodable collection snapshot")
	}

	docs, err := s.Store.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(docs); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("collection cache write failed")
		}
	}
	return docs, nil
}

func (s *CachedStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id, err := s.Store.Create(ctx, collection, data)
	s.bump(ctx, collection)
	return id, err
}

func (s *CachedStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	err := s.Store.Update(ctx, collection, id, patch)
	s.bump(ctx, collection)
	return err
}

func (s *CachedStore) Append(ctx context.Context, collection, id, field string, values ...string) error {
	err := s.Store.Append(ctx, collection, id, field, values...)
	s.bump(ctx, collection)
	return err
}

func (s *CachedStore) Delete(ctx context.Context, collection, id string) error {
	err := s.Store.Delete(ctx, collection, id)
	s.bump(ctx, collection)
	return err
}

// Invalidate retires the cached snapshot so the next List refetches.
func (s *CachedStore) Invalidate(ctx context.Context, collection string) error {
	if _, err := s.cache.Incr(ctx, generationKey(ctx, collection)); err != nil {
		return err
	}
	return s.Store.Invalidate(ctx, collection)
}

func (s *CachedStore) bump(ctx context.Context, collection string) {
	if _, err := s.cache.Incr(ctx, generationKey(ctx, collection)); err != nil {
		s.logger.Warn().Err(err).Str("collection", collection).Msg("collection cache invalidation failed")
	}
}
