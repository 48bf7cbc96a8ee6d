package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore реализует Store в памяти.
// Используется по умолчанию и в тестах; данные теряются при перезапуске.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	meta map[string]*Record // без карты, только для сортировки
}

// NewMemoryStore создает хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		meta: make(map[string]*Record),
	}
}

// Save сохраняет запись в закодированном виде, чтобы вызывающий не мог
// изменить хранимую копию.
func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.ID] = data
	s.meta[rec.ID] = &Record{ID: rec.ID, CreatedAt: rec.CreatedAt}
	return nil
}

// Load загружает запись по ID.
func (s *MemoryStore) Load(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return DecodeRecord(data)
}

// Delete удаляет запись; отсутствие записи — ErrNotFound.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.data, id)
	delete(s.meta, id)
	return nil
}

// List возвращает ID, новые первыми.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	recs := make([]*Record, 0, len(s.meta))
	for _, r := range s.meta {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return limitIDs(recs, limit), nil
}

// Close ничего не делает.
func (s *MemoryStore) Close() error { return nil }

func limitIDs(recs []*Record, limit int) []string {
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
