// Package badger stores location records in an embedded BadgerDB under the
// "loc/" key prefix and pushes change notifications via badger's Subscribe.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"go.uber.org/zap"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/logger"
	"geomonitor/internal/metrics"
)

const keyPrefix = "loc/"

type Backend struct {
	db *badger.DB
}

// Config holds BadgerDB options exposed to the application.
type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

// Open opens (or creates) the database.
func Open(cfg Config) (*Backend, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logger.Info("Badger location store opened",
		zap.String("path", cfg.Path),
		zap.Bool("in_memory", cfg.InMemory),
		zap.Bool("sync_writes", cfg.SyncWrites),
	)
	return &Backend{db: db}, nil
}

func recordKey(id domain.DeviceID) []byte {
	return []byte(keyPrefix + string(id))
}

func idFromKey(key []byte) domain.DeviceID {
	return domain.DeviceID(key[len(keyPrefix):])
}

func (b *Backend) Load(_ context.Context, id domain.DeviceID) (*domain.LocationRecord, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}
	return domain.DecodeRecord(data, id)
}

func (b *Backend) Save(_ context.Context, record *domain.LocationRecord) error {
	data, err := domain.EncodeRecord(record)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(recordKey(record.DeviceID), data))
	})
	if err != nil {
		return fmt.Errorf("write record %s: %w", record.DeviceID, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context) ([]*domain.LocationRecord, error) {
	var records []*domain.LocationRecord

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			id := idFromKey(item.KeyCopy(nil))

			var record *domain.LocationRecord
			err := item.Value(func(val []byte) error {
				var decodeErr error
				record, decodeErr = domain.DecodeRecord(val, id)
				return decodeErr
			})
			if err != nil {
				metrics.MalformedRecordsTotal.Inc()
				logger.Warn("Skipping malformed location record",
					zap.String("device_id", id.String()),
					zap.String("operation", "list"),
					zap.Error(err),
				)
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate location records: %w", err)
	}
	return records, nil
}

// Revisions uses badger's commit version of each key.
func (b *Backend) Revisions(_ context.Context) (map[domain.DeviceID]int64, error) {
	revisions := make(map[domain.DeviceID]int64)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			revisions[idFromKey(item.KeyCopy(nil))] = int64(item.Version())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate location revisions: %w", err)
	}
	return revisions, nil
}

// Watch subscribes to writes under the record prefix.
func (b *Backend) Watch(ctx context.Context, notify func()) error {
	matches := []pb.Match{{Prefix: []byte(keyPrefix)}}
	err := b.db.Subscribe(ctx, func(_ *badger.KVList) error {
		notify()
		return nil
	}, matches)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("subscription ended")
	}
	return fmt.Errorf("%w: %v", domain.ErrWatchUnavailable, err)
}

func (b *Backend) Ping(_ context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger database closed")
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
