package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/terrainforge/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisCache реализует Cache поверх Redis.
// При наличии invalidator'а удаления рассылаются другим узлам через NATS.
type RedisCache struct {
	client      *redis.Client
	config      *CacheConfig
	invalidator CacheInvalidator

	mu    sync.Mutex
	stats stats
}

// NewRedisCache создаёт Redis кеш и проверяет соединение.
//
// Параметры:
//
//	config - конфигурация Redis
//	invalidator - опциональный invalidator для Pub/Sub (может быть nil)
func NewRedisCache(config *CacheConfig, invalidator CacheInvalidator) (*RedisCache, error) {
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.PoolTimeout == 0 {
		config.PoolTimeout = 30 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.PoolSize,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := &RedisCache{
		client:      rdb,
		config:      config,
		invalidator: invalidator,
	}

	if invalidator != nil {
		// Чужие инвалидации удаляют ключ локально, без повторной рассылки.
		err := invalidator.SubscribeInvalidations(context.Background(), func(key string) error {
			return c.Delete(context.Background(), key)
		})
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to subscribe to invalidations: %w", err)
		}
	}

	logging.Info("Redis cache initialized: %s (ttl=%s)", config.RedisURL, config.DefaultTTL)
	return c, nil
}

// Get получает значение по ключу.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := r.client.Get(ctx, key).Bytes()
	r.record(start, err == nil)

	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set сохраняет значение; ttl = 0 заменяется DefaultTTL.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.config.DefaultTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Invalidate удаляет ключ и уведомляет остальные узлы.
func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := r.Delete(ctx, key); err != nil {
		return err
	}
	if r.invalidator != nil {
		return r.invalidator.PublishInvalidation(ctx, key)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (r *RedisCache) Close() error {
	if r.invalidator != nil {
		if err := r.invalidator.Close(); err != nil {
			logging.Warn("Ошибка закрытия invalidator: %v", err)
		}
	}
	return r.client.Close()
}

// GetMetrics возвращает метрики кеша.
func (r *RedisCache) GetMetrics() CacheMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats.snapshot()
}

func (r *RedisCache) record(start time.Time, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.requests++
	if hit {
		r.stats.hits++
	} else {
		r.stats.misses++
	}
	r.stats.latencySum += int64(time.Since(start))
	r.stats.latencyCount++
}
