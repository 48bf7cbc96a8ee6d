package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache — кеш в памяти процесса с TTL.
// Используется, когда Redis не настроен, и в тестах.
type MemoryCache struct {
	mu          sync.Mutex
	items       map[string]memoryItem
	invalidator CacheInvalidator
	stats       stats
	now         func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero — без истечения
}

// NewMemoryCache создаёт кеш в памяти; invalidator может быть nil.
func NewMemoryCache(invalidator CacheInvalidator) *MemoryCache {
	return &MemoryCache{
		items:       make(map[string]memoryItem),
		invalidator: invalidator,
		now:         time.Now,
	}
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.requests++
	item, ok := m.items[key]
	if ok && !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		ok = false
	}
	if !ok {
		m.stats.misses++
		return nil, ErrCacheMiss
	}
	m.stats.hits++
	return append([]byte(nil), item.value...), nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Invalidate(ctx context.Context, key string) error {
	if err := m.Delete(ctx, key); err != nil {
		return err
	}
	if m.invalidator != nil {
		return m.invalidator.PublishInvalidation(ctx, key)
	}
	return nil
}

// Close закрывает invalidator, если он задан.
func (m *MemoryCache) Close() error {
	if m.invalidator != nil {
		return m.invalidator.Close()
	}
	return nil
}

func (m *MemoryCache) GetMetrics() CacheMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.snapshot()
}
