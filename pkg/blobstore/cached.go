package blobstore

import (
	"context"

	"github.com/proofpulse/evidence-ledger/pkg/cache"
)

// CachedStore serves repeated Gets from an LRU cache. Blobs are written
// once and never modified, so entries are never stale.
type CachedStore struct {
	Store
	cache *cache.LRUCache
}

// cachedPresignStore keeps the Presigner capability of the wrapped store
// visible through the cache.
type cachedPresignStore struct {
	*CachedStore
	Presigner
}

// NewCachedStore wraps s. A nil cache returns s unchanged. The result
// implements Presigner exactly when s does.
func NewCachedStore(s Store, c *cache.LRUCache) Store {
	if c == nil {
		return s
	}
	cs := &CachedStore{Store: s, cache: c}
	if p, ok := s.(Presigner); ok {
		return &cachedPresignStore{CachedStore: cs, Presigner: p}
	}
	return cs
}

func (s *CachedStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.Store.Put(ctx, key, data); err != nil {
		return err
	}
	s.cache.Set(key, data)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}
	data, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, data)
	return data, nil
}

func (s *CachedStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, ok := s.cache.Get(key); ok {
		return true, nil
	}
	return s.Store.Exists(ctx, key)
}
