package storage

import (
	"bytes"
	"os"
	"testing"

	"github.com/dgraph-io/badger/v4"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "chessplay-storage-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	opts := badger.DefaultOptions(tmpDir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("badger.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &Storage{db: db}
}

func TestDefaultEngineSettings(t *testing.T) {
	settings := DefaultEngineSettings()
	if settings.HashMB != 64 {
		t.Errorf("expected default HashMB 64, got %d", settings.HashMB)
	}
	if settings.Threads != 1 {
		t.Errorf("expected default Threads 1, got %d", settings.Threads)
	}
	if settings.SyzygyProbeDepth != 1 {
		t.Errorf("expected default SyzygyProbeDepth 1, got %d", settings.SyzygyProbeDepth)
	}
}

func TestSaveLoadSettings(t *testing.T) {
	s := openTestStorage(t)

	want := &EngineSettings{
		HashMB:           256,
		Threads:          4,
		SyzygyPath:       "/tmp/syzygy",
		SyzygyProbeDepth: 2,
		OwnBook:          true,
		BookFile:         "book.bin",
	}
	if err := s.SaveSettings(want); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	got, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if *got != *want {
		t.Errorf("LoadSettings = %+v, want %+v", got, want)
	}
}

func TestLoadSettingsDefaultsWhenEmpty(t *testing.T) {
	s := openTestStorage(t)

	got, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if got.HashMB != DefaultEngineSettings().HashMB {
		t.Errorf("expected defaults when nothing saved, got %+v", got)
	}
}

func TestSaveLoadTT(t *testing.T) {
	s := openTestStorage(t)

	snapshot := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := s.SaveTT(bytes.NewReader(snapshot)); err != nil {
		t.Fatalf("SaveTT failed: %v", err)
	}

	r, ok, err := s.LoadTT()
	if err != nil {
		t.Fatalf("LoadTT failed: %v", err)
	}
	if !ok {
		t.Fatal("expected LoadTT to find a saved snapshot")
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("reading snapshot failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), snapshot) {
		t.Errorf("LoadTT = %v, want %v", buf.Bytes(), snapshot)
	}
}

func TestLoadTTMissing(t *testing.T) {
	s := openTestStorage(t)

	_, ok, err := s.LoadTT()
	if err != nil {
		t.Fatalf("LoadTT failed: %v", err)
	}
	if ok {
		t.Error("expected ok=false when no TT snapshot was ever saved")
	}
}

func TestDataPaths(t *testing.T) {
	dataDir, err := GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir failed: %v", err)
	}
	if dataDir == "" {
		t.Error("GetDataDir returned empty path")
	}
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		t.Errorf("data directory was not created: %s", dataDir)
	}
}
