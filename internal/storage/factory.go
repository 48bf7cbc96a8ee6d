package storage

import (
	"fmt"

	"github.com/annel0/terrainforge/internal/config"
)

// Open выбирает реализацию Store по конфигурации.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		return NewBadgerStore(cfg.Path)
	case "maria":
		return NewMariaStore(cfg.MariaDSN)
	case "mongo":
		return NewMongoStore(MongoConfig{
			URI:        cfg.MongoURI,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
	default:
		return nil, fmt.Errorf("неизвестный backend хранилища: %q", cfg.Backend)
	}
}
