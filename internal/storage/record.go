package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/terrainforge/internal/terrain"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// ErrNotFound — запись с таким ID отсутствует.
var ErrNotFound = errors.New("heightmap record not found")

// Record — сохранённая карта высот вместе с параметрами генерации.
type Record struct {
	ID        string             `json:"id"`
	Basis     string             `json:"basis"`
	CreatedAt time.Time          `json:"created_at"`
	Elapsed   time.Duration      `json:"elapsed_ns"`
	Map       *terrain.HeightMap `json:"map"`
	// Карта построена без учёта сида
	LegacySeed bool `json:"legacy_seed,omitempty"`
}

// NewRecord создаёт запись с новым UUID.
func NewRecord(hm *terrain.HeightMap, basis string, elapsed time.Duration) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Basis:     basis,
		CreatedAt: time.Now().UTC(),
		Elapsed:   elapsed,
		Map:       hm,
	}
}

// Store — хранилище карт высот.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	// Load возвращает ErrNotFound, если записи нет.
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	// List возвращает ID записей, новые первыми.
	List(ctx context.Context, limit int) ([]string, error)
	Close() error
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// EncodeRecord сериализует запись в JSON и сжимает zstd.
func EncodeRecord(rec *Record) ([]byte, error) {
	if rec == nil || rec.Map == nil {
		return nil, fmt.Errorf("пустая запись")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// DecodeRecord распаковывает и десериализует запись.
func DecodeRecord(data []byte) (*Record, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки записи: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации записи: %w", err)
	}
	if rec.Map == nil {
		return nil, fmt.Errorf("запись %s без карты высот", rec.ID)
	}
	return &rec, nil
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("пустой ID записи")
	}
	return nil
}
