package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const (
	recordPrefix = "heightmap:"
	// Индекс по времени: created:<unix nano, 20 знаков>:<id> -> id
	createdPrefix = "created:"
)

// BadgerStore хранит карты высот в BadgerDB.
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает (или создает) базу в dataPath/heightmaps.
func NewBadgerStore(dataPath string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataPath, "heightmaps")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных
func (bs *BadgerStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}

	bs.isReady = false
	return bs.db.Close()
}

func createdKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", createdPrefix, t.UnixNano(), id))
}

// Save сохраняет запись и индекс по времени создания в одной транзакции.
func (bs *BadgerStore) Save(ctx context.Context, rec *Record) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("пустая запись")
	}
	if err := validateID(rec.ID); err != nil {
		return err
	}

	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	err = bs.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(recordPrefix+rec.ID), data); err != nil {
			return err
		}
		return txn.Set(createdKey(rec.CreatedAt, rec.ID), []byte(rec.ID))
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Load загружает запись по ID.
func (bs *BadgerStore) Load(ctx context.Context, id string) (*Record, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	return DecodeRecord(data)
}

// Delete удаляет запись и её индекс.
func (bs *BadgerStore) Delete(ctx context.Context, id string) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := bs.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(recordPrefix + id)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(recordPrefix + id)); err != nil {
			return err
		}

		// Ищем ключ индекса, оканчивающийся на :<id>
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(createdPrefix)})
		var idxKey []byte
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			if strings.HasSuffix(string(k), ":"+id) {
				idxKey = it.Item().KeyCopy(nil)
				break
			}
		}
		it.Close()
		if idxKey != nil {
			return txn.Delete(idxKey)
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// List возвращает ID записей, новые первыми.
func (bs *BadgerStore) List(ctx context.Context, limit int) ([]string, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(createdPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода BadgerDB: %w", err)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		rest := strings.TrimPrefix(k, createdPrefix)
		ids[i] = rest[strings.IndexByte(rest, ':')+1:]
	}
	return ids, nil
}
