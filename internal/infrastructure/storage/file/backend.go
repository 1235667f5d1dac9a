// Package file stores each device's record as <id>.json in one directory.
// Writes go to a hidden temp file that is fsynced and renamed over the target,
// so readers never observe a partial document.
package file

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/logger"
	"geomonitor/internal/metrics"
)

const recordExt = ".json"

type Backend struct {
	dir string
}

// Open creates dir when missing.
func Open(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
	}
	return &Backend{dir: dir}, nil
}

// Dir returns the storage directory.
func (b *Backend) Dir() string {
	return b.dir
}

func (b *Backend) path(id domain.DeviceID) string {
	return filepath.Join(b.dir, string(id)+recordExt)
}

func (b *Backend) Load(_ context.Context, id domain.DeviceID) (*domain.LocationRecord, error) {
	data, err := os.ReadFile(b.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}
	return domain.DecodeRecord(data, id)
}

func (b *Backend) Save(_ context.Context, record *domain.LocationRecord) error {
	data, err := domain.EncodeRecord(record)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, "."+string(record.DeviceID)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path(record.DeviceID)); err != nil {
		cleanup()
		return fmt.Errorf("publish record %s: %w", record.DeviceID, err)
	}
	return nil
}

// recordFiles lists the record file names, skipping hidden temp files.
func (b *Backend) recordFiles() ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read storage directory %s: %w", b.dir, err)
	}
	files := entries[:0]
	for _, e := range entries {
		if isRecordName(e.Name()) && !e.IsDir() {
			files = append(files, e)
		}
	}
	return files, nil
}

func isRecordName(name string) bool {
	return strings.HasSuffix(name, recordExt) && !strings.HasPrefix(name, ".")
}

func idFromName(name string) domain.DeviceID {
	return domain.DeviceID(strings.TrimSuffix(name, recordExt))
}

func (b *Backend) List(ctx context.Context) ([]*domain.LocationRecord, error) {
	files, err := b.recordFiles()
	if err != nil {
		return nil, err
	}

	records := make([]*domain.LocationRecord, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := idFromName(f.Name())
		record, err := b.Load(ctx, id)
		switch {
		case err == nil:
			records = append(records, record)
		case errors.Is(err, domain.ErrNotFound):
			// removed between listing and reading
		case errors.Is(err, domain.ErrMalformedRecord):
			metrics.MalformedRecordsTotal.Inc()
			logger.Warn("Skipping malformed location record",
				zap.String("device_id", id.String()),
				zap.String("operation", "list"),
				zap.Error(err),
			)
		default:
			logger.Warn("Skipping unreadable location record",
				zap.String("device_id", id.String()),
				zap.String("operation", "list"),
				zap.Error(err),
			)
		}
	}
	return records, nil
}

func (b *Backend) Revisions(_ context.Context) (map[domain.DeviceID]int64, error) {
	files, err := b.recordFiles()
	if err != nil {
		return nil, err
	}

	revisions := make(map[domain.DeviceID]int64, len(files))
	for _, f := range files {
		info, err := f.Info()
		if err != nil {
			continue
		}
		revisions[idFromName(f.Name())] = revisionOf(info)
	}
	return revisions, nil
}

// revisionOf folds mtime, size and inode together. Every Save renames a new
// file into place, so the inode changes even when two writes share an mtime
// tick.
func revisionOf(info fs.FileInfo) int64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(info.ModTime().UnixNano()))
	binary.LittleEndian.PutUint64(buf[8:], uint64(info.Size()))
	binary.LittleEndian.PutUint64(buf[16:], inode(info))

	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}

// Watch reports create, write, remove and rename events on record files.
// Temp-file churn is ignored; the rename that publishes a record shows up as
// a create of <id>.json.
func (b *Backend) Watch(ctx context.Context, notify func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWatchUnavailable, err)
	}
	defer watcher.Close()

	if err := watcher.Add(b.dir); err != nil {
		return fmt.Errorf("%w: watch %s: %v", domain.ErrWatchUnavailable, b.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("%w: event channel closed", domain.ErrWatchUnavailable)
			}
			if !isRecordName(filepath.Base(event.Name)) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				notify()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("%w: error channel closed", domain.ErrWatchUnavailable)
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost; one signal covers them
				notify()
				continue
			}
			return fmt.Errorf("%w: %v", domain.ErrWatchUnavailable, err)
		}
	}
}

func (b *Backend) Ping(_ context.Context) error {
	info, err := os.Stat(b.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", b.dir)
	}
	return nil
}

func (b *Backend) Close() error {
	return nil
}
