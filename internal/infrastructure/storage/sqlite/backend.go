// Package sqlite keeps location records in a single SQLite table. It has no
// push notifications; the change detector polls its revision column.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/logger"
	"geomonitor/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS location_records (
	device_id  TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	revision   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

type Backend struct {
	db *sql.DB
}

// Open opens the database file at path, creating its directory and schema.
func Open(ctx context.Context, path string) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("SQLite location store opened", zap.String("path", path))
	return &Backend{db: db}, nil
}

func (b *Backend) Load(ctx context.Context, id domain.DeviceID) (*domain.LocationRecord, error) {
	var document string
	err := b.db.QueryRowContext(ctx,
		`SELECT document FROM location_records WHERE device_id = ?`, string(id),
	).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}
	return domain.DecodeRecord([]byte(document), id)
}

func (b *Backend) Save(ctx context.Context, record *domain.LocationRecord) error {
	data, err := domain.EncodeRecord(record)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO location_records (device_id, document, revision, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			document   = excluded.document,
			revision   = location_records.revision + 1,
			updated_at = excluded.updated_at`,
		string(record.DeviceID), string(data), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write record %s: %w", record.DeviceID, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context) ([]*domain.LocationRecord, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT device_id, document FROM location_records`)
	if err != nil {
		return nil, fmt.Errorf("query location records: %w", err)
	}
	defer rows.Close()

	var records []*domain.LocationRecord
	for rows.Next() {
		var id, document string
		if err := rows.Scan(&id, &document); err != nil {
			return nil, fmt.Errorf("scan location record: %w", err)
		}
		record, err := domain.DecodeRecord([]byte(document), domain.DeviceID(id))
		if err != nil {
			metrics.MalformedRecordsTotal.Inc()
			logger.Warn("Skipping malformed location record",
				zap.String("device_id", id),
				zap.String("operation", "list"),
				zap.Error(err),
			)
			continue
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (b *Backend) Revisions(ctx context.Context) (map[domain.DeviceID]int64, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT device_id, revision FROM location_records`)
	if err != nil {
		return nil, fmt.Errorf("query location revisions: %w", err)
	}
	defer rows.Close()

	revisions := make(map[domain.DeviceID]int64)
	for rows.Next() {
		var (
			id       string
			revision int64
		)
		if err := rows.Scan(&id, &revision); err != nil {
			return nil, fmt.Errorf("scan location revision: %w", err)
		}
		revisions[domain.DeviceID(id)] = revision
	}
	return revisions, rows.Err()
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *Backend) Close() error {
	return b.db.Close()
}
