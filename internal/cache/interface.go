package cache

import (
	"context"
	"errors"
	"time"
)

// Cache — горячий кеш сгенерированных карт высот.
// Ключ — отпечаток параметров генерации, значение — закодированная запись.
//
// Использование:
//
//	c := NewMemoryCache()
//	err = c.Set(ctx, params.Fingerprint(basis), data, 10*time.Minute)
//	data, err := c.Get(ctx, key) // ErrCacheMiss при промахе
type Cache interface {
	// Get возвращает ErrCacheMiss, если ключа нет.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение; TTL = 0 означает отсутствие истечения.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ локально.
	Delete(ctx context.Context, key string) error

	// Invalidate удаляет ключ и рассылает уведомление другим узлам.
	Invalidate(ctx context.Context, key string) error

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает снимок метрик кеша.
	GetMetrics() CacheMetrics
}

// CacheInvalidator управляет инвалидацией кеша через Pub/Sub.
type CacheInvalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации кеша.
type InvalidationHandler func(key string) error

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`

	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig содержит конфигурацию Redis кеша.
type CacheConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	DefaultTTL    time.Duration
	PoolSize      int
	PoolTimeout   time.Duration
}

// ErrCacheMiss — ключ не найден в кеше.
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// stats — общий счётчик попаданий для реализаций.
type stats struct {
	requests     int64
	hits         int64
	misses       int64
	latencySum   int64 // в наносекундах
	latencyCount int64
}

func (s *stats) snapshot() CacheMetrics {
	m := CacheMetrics{
		TotalRequests: s.requests,
		CacheHits:     s.hits,
		CacheMisses:   s.misses,
		LastUpdate:    time.Now(),
	}
	if s.requests > 0 {
		m.HitRatio = float64(s.hits) / float64(s.requests)
	}
	if s.latencyCount > 0 {
		m.AvgLatencyMs = float64(s.latencySum) / float64(s.latencyCount) / 1e6
	}
	return m
}
