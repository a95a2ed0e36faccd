package storage

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/dgraph-io/badger/v4"
)

// Storage keys
const (
	keySettings = "settings"
	keyTTBlob   = "tt_snapshot"
)

// EngineSettings mirrors the UCI options a session wants to survive a
// restart: hash size, thread count, and tablebase/book paths.
type EngineSettings struct {
	HashMB           int    `json:"hash_mb"`
	Threads          int    `json:"threads"`
	SyzygyPath       string `json:"syzygy_path"`
	SyzygyProbeDepth int    `json:"syzygy_probe_depth"`
	OwnBook          bool   `json:"own_book"`
	BookFile         string `json:"book_file"`
}

// DefaultEngineSettings returns the engine's out-of-the-box configuration.
func DefaultEngineSettings() *EngineSettings {
	return &EngineSettings{
		HashMB:           64,
		Threads:          1,
		SyzygyProbeDepth: 1,
	}
}

// Storage wraps BadgerDB for persistent engine configuration and a
// transposition-table snapshot. The tablebase probe cache is kept
// separately, by tablebase.PersistentCachedProber.
type Storage struct {
	db *badger.DB
}

// NewStorage opens (creating if absent) the engine's on-disk database.
func NewStorage() (*Storage, error) {
	dbDir, err := GetDatabaseDir()
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveSettings persists the engine's current UCI option values.
func (s *Storage) SaveSettings(settings *EngineSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keySettings), data)
	})
}

// LoadSettings loads previously saved settings, or defaults if none exist.
func (s *Storage) LoadSettings() (*EngineSettings, error) {
	settings := DefaultEngineSettings()

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySettings))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, settings)
		})
	})

	return settings, err
}

// SaveTT persists a transposition-table snapshot written by
// engine.TranspositionTable.Save, so a long-lived analysis session can
// resume warm after a restart.
func (s *Storage) SaveTT(snapshot io.Reader) error {
	data, err := io.ReadAll(snapshot)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyTTBlob), data)
	})
}

// LoadTT returns a reader over the last saved TT snapshot, for
// engine.TranspositionTable.Load. ok is false if nothing was ever saved.
func (s *Storage) LoadTT() (r io.Reader, ok bool, err error) {
	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyTTBlob))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		data, err = item.ValueCopy(nil)
		return err
	})
	if !ok || err != nil {
		return nil, ok, err
	}
	return bytes.NewReader(data), true, nil
}

