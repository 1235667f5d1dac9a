package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	domain "geomonitor/internal/domain/location"
	"geomonitor/internal/infrastructure/storage/storagetest"
)

func open(t *testing.T) domain.Backend {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return b
}

func TestBackend(t *testing.T) {
	storagetest.RunBackendTests(t, open)
	storagetest.RunNotifierTests(t, open)
}

func TestOpenCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "locations")
	b, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b.Dir() != dir {
		t.Errorf("Dir() = %q", b.Dir())
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	b, _ := Open(dir)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := b.Save(ctx, storagetest.Record("dev", float64(i), 0)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "dev.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory holds %v, want only dev.json", names)
	}
}

func TestSaveWritesIndentedDocument(t *testing.T) {
	dir := t.TempDir()
	b, _ := Open(dir)
	if err := b.Save(context.Background(), storagetest.Record("dev", 1, 2)); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "dev.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n    \"device_id\": \"dev\"") {
		t.Errorf("document not 4-space indented:\n%s", data)
	}
}

func TestMalformedRecords(t *testing.T) {
	dir := t.TempDir()
	b, _ := Open(dir)
	ctx := context.Background()

	if err := b.Save(ctx, storagetest.Record("good", 1, 2)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	// hidden temp files and foreign files are not records
	_ = os.WriteFile(filepath.Join(dir, ".good.123.tmp"), []byte("{"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644)

	if _, err := b.Load(ctx, "bad"); !errors.Is(err, domain.ErrMalformedRecord) {
		t.Errorf("Load(bad) err = %v, want ErrMalformedRecord", err)
	}

	records, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].DeviceID != "good" {
		t.Errorf("List = %v, want only good", records)
	}

	revisions, err := b.Revisions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(revisions) != 2 {
		t.Errorf("Revisions = %v, want good and bad", revisions)
	}
}

func TestLoadUsesFileNameWhenIDMissing(t *testing.T) {
	dir := t.TempDir()
	b, _ := Open(dir)
	doc := `{"latitude": 1, "longitude": 2, "history": [{"lat": 1, "lon": 2, "ts": "2024-01-01 00:00:00"}, {"ts": "x"}]}`
	if err := os.WriteFile(filepath.Join(dir, "legacy.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	record, err := b.Load(context.Background(), "legacy")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if record.DeviceID != "legacy" {
		t.Errorf("DeviceID = %q", record.DeviceID)
	}
	if len(record.History) != 1 {
		t.Errorf("points without coordinates should be dropped: %+v", record.History)
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	b, _ := Open(dir)
	if err := os.Remove(dir); err != nil {
		t.Fatal(err)
	}

	err := b.Watch(context.Background(), func() {})
	if !errors.Is(err, domain.ErrWatchUnavailable) {
		t.Errorf("Watch err = %v, want ErrWatchUnavailable", err)
	}
	if err := b.Ping(context.Background()); err == nil {
		t.Error("Ping should fail without the directory")
	}
}

func TestRevisionChangesWithinOneMtimeTick(t *testing.T) {
	dir := t.TempDir()
	b, _ := Open(dir)
	ctx := context.Background()
	path := filepath.Join(dir, "dev.json")
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	revision := func() int64 {
		t.Helper()
		if err := os.Chtimes(path, tick, tick); err != nil {
			t.Fatal(err)
		}
		revisions, err := b.Revisions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		return revisions["dev"]
	}

	if err := b.Save(ctx, storagetest.Record("dev", 1, 1)); err != nil {
		t.Fatal(err)
	}
	first := revision()
	if err := b.Save(ctx, storagetest.Record("dev", 1, 1, 2, 2)); err != nil {
		t.Fatal(err)
	}
	second := revision()

	if first == second {
		t.Errorf("rewrite with identical mtime kept revision %d", first)
	}
}
