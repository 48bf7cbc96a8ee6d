// Package app собирает компоненты сервиса по конфигурации: хранилище,
// кеш, шину событий и генератор.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/annel0/terrainforge/internal/cache"
	"github.com/annel0/terrainforge/internal/command"
	"github.com/annel0/terrainforge/internal/config"
	"github.com/annel0/terrainforge/internal/eventbus"
	"github.com/annel0/terrainforge/internal/logging"
	"github.com/annel0/terrainforge/internal/noise"
	"github.com/annel0/terrainforge/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// App владеет долгоживущими компонентами сервиса.
type App struct {
	Config    *config.Config
	Store     storage.Store
	Cache     cache.Cache
	Bus       eventbus.EventBus
	Generator *command.Generator
	NodeID    string

	busMetrics *eventbus.MetricsExporter
	listener   eventbus.Subscription
}

// New открывает хранилище, кеш и шину и создаёт генератор.
// Метрики регистрируются в reg (nil — дефолтный регистр).
func New(cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	basis, err := noise.ParseBasisKind(cfg.Terrain.NoiseBasis)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, NodeID: uuid.NewString()}

	a.Store, err = storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия хранилища: %w", err)
	}
	logging.Info("💾 Хранилище карт: %s", backendName(cfg.Storage.Backend))

	a.Bus, err = openBus(cfg.EventBus)
	if err != nil {
		a.Store.Close()
		return nil, err
	}
	a.Cache = openCache(cfg, a.NodeID)

	if a.listener, err = eventbus.StartLoggingListener(a.Bus); err != nil {
		a.Close()
		return nil, err
	}
	a.busMetrics = eventbus.NewMetricsExporter(a.Bus, reg)
	a.busMetrics.Start()

	a.Generator, err = command.NewGenerator(command.Deps{
		Store:   a.Store,
		Cache:   a.Cache,
		Bus:     a.Bus,
		Metrics: command.NewMetrics(reg),
	}, command.Settings{
		Source:     cfg.Telemetry.ServiceName,
		Basis:      basis,
		LegacySeed: cfg.Terrain.LegacySeed,
		Workers:    cfg.Terrain.Workers,
		CacheTTL:   cfg.Cache.TTL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// DefaultInputs возвращает поля команды по умолчанию из конфигурации.
func (a *App) DefaultInputs() command.Inputs {
	return command.InputsFromConfig(a.Config.Terrain)
}

func backendName(b string) string {
	if b == "" {
		return "memory"
	}
	return b
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		logging.Info("📨 Шина событий: in-memory")
		return eventbus.NewMemoryBus(1024), nil
	}
	bus, err := eventbus.NewJetStreamBus(url, cfg.Stream, cfg.RetentionDuration())
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к JetStream: %w", err)
	}
	logging.Info("📨 Шина событий: JetStream %s (stream=%s)", url, cfg.Stream)
	return bus, nil
}

// openCache подключает Redis, если он задан; при недоступности Redis
// сервис продолжает работу с in-memory кешем.
func openCache(cfg *config.Config, nodeID string) cache.Cache {
	var invalidator cache.CacheInvalidator
	if natsURL := cfg.EventBus.GetNATSURL(); natsURL != "" {
		inv, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{NATSURL: natsURL}, nodeID)
		if err != nil {
			logging.Warn("⚠️ NATS-инвалидация кеша недоступна: %v", err)
		} else {
			invalidator = inv
		}
	}

	if redisURL := cfg.Cache.GetRedisURL(); redisURL != "" {
		rc, err := cache.NewRedisCache(&cache.CacheConfig{
			RedisURL:      redisURL,
			RedisPassword: cfg.Cache.RedisPassword,
			RedisDB:       cfg.Cache.RedisDB,
			DefaultTTL:    cfg.Cache.TTL,
		}, invalidator)
		if err == nil {
			logging.Info("⚡ Кеш: Redis %s", redisURL)
			return rc
		}
		logging.Warn("⚠️ Redis недоступен (%v), используется in-memory кеш", err)
	}

	mc := cache.NewMemoryCache(invalidator)
	if invalidator != nil {
		// Другие узлы сбрасывают ключ и в локальном кеше
		err := invalidator.SubscribeInvalidations(context.Background(), func(key string) error {
			return mc.Delete(context.Background(), key)
		})
		if err != nil {
			logging.Warn("⚠️ Подписка на инвалидацию не удалась: %v", err)
		}
	}
	logging.Info("⚡ Кеш: in-memory")
	return mc
}

// Close останавливает компоненты в обратном порядке.
func (a *App) Close() error {
	var errs []error
	if a.busMetrics != nil {
		a.busMetrics.Stop()
	}
	if a.listener != nil {
		a.listener.Unsubscribe()
	}
	if c, ok := a.Bus.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
