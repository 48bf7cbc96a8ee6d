package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/annel0/terrainforge/internal/config"
	"github.com/annel0/terrainforge/internal/terrain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBadgerStore(t *testing.T) (*BadgerStore, string) {
	tempDir, err := os.MkdirTemp("", "heightmap-store-test")
	if err != nil {
		t.Fatalf("Не удалось создать временную директорию: %v", err)
	}

	store, err := NewBadgerStore(tempDir)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("Не удалось создать хранилище: %v", err)
	}
	return store, tempDir
}

func cleanupBadgerStore(store *BadgerStore, tempDir string) {
	if store != nil {
		store.Close()
	}
	if tempDir != "" {
		os.RemoveAll(tempDir)
	}
}

func testRecord(t *testing.T, seed int64, createdAt time.Time) *Record {
	t.Helper()
	p, err := terrain.NewGridParameters(100, 10, 2, 5, seed)
	require.NoError(t, err)
	hm, err := terrain.BuildHeightMap(context.Background(), p)
	require.NoError(t, err)
	rec := NewRecord(hm, "value", 3*time.Millisecond)
	rec.CreatedAt = createdAt
	return rec
}

// storeContract проверяет общее поведение всех реализаций Store.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	older := testRecord(t, 1, base)
	newer := testRecord(t, 2, base.Add(time.Minute))

	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	loaded, err := store.Load(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, loaded.ID)
	assert.Equal(t, "value", loaded.Basis)
	assert.Equal(t, older.Map.Params(), loaded.Map.Params())
	assert.Equal(t, older.Map.Rows(), loaded.Map.Rows())
	assert.True(t, older.CreatedAt.Equal(loaded.CreatedAt))

	ids, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID, older.ID}, ids, "новые записи первыми")

	ids, err = store.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID}, ids)

	require.NoError(t, store.Delete(ctx, older.ID))
	_, err = store.Load(ctx, older.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, older.ID), ErrNotFound)

	ids, err = store.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID}, ids)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestBadgerStore(t *testing.T) {
	store, tempDir := setupBadgerStore(t)
	defer cleanupBadgerStore(store, tempDir)

	storeContract(t, store)
}

func TestBadgerStore_ClosedStore(t *testing.T) {
	store, tempDir := setupBadgerStore(t)
	defer cleanupBadgerStore(nil, tempDir)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "повторное закрытие не должно падать")

	err := store.Save(context.Background(), testRecord(t, 1, time.Now()))
	assert.Error(t, err)
}

func TestMemoryStore_RejectsEmptyRecord(t *testing.T) {
	store := NewMemoryStore()
	assert.Error(t, store.Save(context.Background(), nil))
	assert.Error(t, store.Save(context.Background(), &Record{}))
}

func TestRecordCodec(t *testing.T) {
	rec := testRecord(t, 42, time.Now().UTC())
	rec.LegacySeed = true

	data, err := EncodeRecord(rec)
	require.NoError(t, err)

	decoded, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, decoded.ID)
	assert.Equal(t, rec.Elapsed, decoded.Elapsed)
	assert.True(t, decoded.LegacySeed)
	assert.Equal(t, rec.Map.Rows(), decoded.Map.Rows())

	_, err = DecodeRecord([]byte("not zstd"))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	store, err := Open(config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = Open(config.StorageConfig{Backend: "badger", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(config.StorageConfig{Backend: "sqlite"})
	assert.Error(t, err)
}
