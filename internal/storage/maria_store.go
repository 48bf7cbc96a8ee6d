package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaStore реализует Store для MariaDB/MySQL.
// Карта хранится сжатым блобом в таблице terrain_heightmaps.
type MariaStore struct {
	db *sql.DB
}

// NewMariaStore подключается к базе и создает таблицу, если её нет.
//
// Параметры:
//
//	dsn - строка подключения (user:pass@tcp(host:port)/dbname?parseTime=true)
func NewMariaStore(dsn string) (*MariaStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	store := &MariaStore{db: db}
	if err := store.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return store, nil
}

func (s *MariaStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS terrain_heightmaps (
			id         VARCHAR(36)  PRIMARY KEY,
			resolution INT          NOT NULL,
			seed       BIGINT       NOT NULL,
			payload    LONGBLOB     NOT NULL,
			created_at DATETIME(6)  NOT NULL,
			INDEX idx_created_at (created_at)
		) ENGINE=InnoDB
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы terrain_heightmaps: %w", err)
	}
	return nil
}

// Save сохраняет запись (INSERT ... ON DUPLICATE KEY UPDATE).
func (s *MariaStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("пустая запись")
	}
	args, err := mariaRowArgs(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO terrain_heightmaps (id, resolution, seed, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			resolution = VALUES(resolution),
			seed = VALUES(seed),
			payload = VALUES(payload)
	`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ошибка сохранения карты %s: %w", rec.ID, err)
	}
	return nil
}

// mariaRowArgs возвращает значения колонок в порядке INSERT:
// id, resolution, seed, payload, created_at.
func mariaRowArgs(rec *Record) ([]any, error) {
	if err := validateID(rec.ID); err != nil {
		return nil, err
	}
	data, err := EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	params := rec.Map.Params()
	return []any{rec.ID, params.Resolution, params.Seed, data, rec.CreatedAt}, nil
}

// Load загружает запись по ID.
func (s *MariaStore) Load(ctx context.Context, id string) (*Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM terrain_heightmaps WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки карты %s: %w", id, err)
	}
	return DecodeRecord(data)
}

// Delete удаляет запись.
func (s *MariaStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM terrain_heightmaps WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления карты %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка удаления карты %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List возвращает ID, новые первыми.
func (s *MariaStore) List(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM terrain_heightmaps ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка карт: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка чтения ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close закрывает соединение с базой.
func (s *MariaStore) Close() error {
	return s.db.Close()
}
