// Package memory provides an in-process storage.Cache backed by
// github.com/hashicorp/golang-lru/v2, bounding memory with LRU eviction and
// honoring per-item TTLs.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mcpstream/streamcore/storage"
)

const cleanupInterval = 5 * time.Minute

// Cache implements storage.Cache in process memory.
type Cache struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.Item]
	stop  chan struct{}
	once  sync.Once
}

// New creates a memory cache holding at most maxItems entries.
func New(maxItems int) (*Cache, error) {
	c, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("create LRU cache: %w", err)
	}
	m := &Cache{cache: c, stop: make(chan struct{})}
	go m.cleanupExpired()
	return m, nil
}

func (m *Cache) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := &storage.Options{}
	for _, opt := range opts {
		opt(options)
	}
	cacheKey := buildKey(options.SessionID, key)

	m.mu.RLock()
	item, exists := m.cache.Get(cacheKey)
	m.mu.RUnlock()
	if !exists {
		return nil, nil
	}
	if item.IsExpired() {
		m.mu.Lock()
		m.cache.Remove(cacheKey)
		m.mu.Unlock()
		return nil, nil
	}
	return item, nil
}

func (m *Cache) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := &storage.Options{}
	for _, opt := range opts {
		opt(options)
	}

	now := time.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	m.mu.Lock()
	m.cache.Add(buildKey(options.SessionID, key), item)
	m.mu.Unlock()
	return nil
}

func (m *Cache) Delete(ctx context.Context, opts ...storage.Option) error {
	options := &storage.Options{}
	for _, opt := range opts {
		opt(options)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if options.Key != nil {
		m.cache.Remove(buildKey(options.SessionID, *options.Key))
		return nil
	}
	prefix := scopePrefix(options.SessionID)
	for _, key := range m.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.cache.Remove(key)
		}
	}
	return nil
}

// Close stops the cleanup goroutine and discards all entries.
func (m *Cache) Close() error {
	m.once.Do(func() { close(m.stop) })
	m.mu.Lock()
	m.cache.Purge()
	m.mu.Unlock()
	return nil
}

func buildKey(sessionID, key string) string {
	return scopePrefix(sessionID) + "key:" + key
}

func scopePrefix(sessionID string) string {
	if sessionID == "" {
		return "global:"
	}
	return "session:" + sessionID + ":"
}

// cleanupExpired periodically evicts items whose TTL elapsed without a read.
func (m *Cache) cleanupExpired() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for _, key := range m.cache.Keys() {
				if item, exists := m.cache.Peek(key); exists {
					if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
						m.cache.Remove(key)
					}
				}
			}
			m.mu.Unlock()
		}
	}
}

var _ storage.Cache = (*Cache)(nil)
