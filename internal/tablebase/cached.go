package tablebase

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/hailam/chessplay/internal/board"
)

// CachedProber wraps another prober with a bounded in-memory cache.
// This reduces API calls for frequently probed positions. When the cache is
// full, about half of its entries are dropped, in map iteration order,
// before a new result is stored.
type CachedProber struct {
	inner     Prober
	cache     map[uint64]ProbeResult
	mu        sync.RWMutex
	maxSize   int
	hits      uint64
	misses    uint64
}

// NewCachedProber creates a cached prober wrapping the given prober.
func NewCachedProber(inner Prober, cacheSize int) *CachedProber {
	return &CachedProber{
		inner:   inner,
		cache:   make(map[uint64]ProbeResult, cacheSize),
		maxSize: cacheSize,
	}
}

// NewCachedLichessProber creates a cached Lichess prober with default cache size.
func NewCachedLichessProber() *CachedProber {
	return NewCachedProber(NewLichessProber(), 100000)
}

func (cp *CachedProber) Probe(pos *board.Position) ProbeResult {
	// Check cache first
	cp.mu.RLock()
	if result, ok := cp.cache[pos.Hash]; ok {
		cp.mu.RUnlock()
		cp.mu.Lock()
		cp.hits++
		cp.mu.Unlock()
		return result
	}
	cp.mu.RUnlock()

	// Cache miss - probe underlying
	result := cp.inner.Probe(pos)

	// Store in cache
	cp.mu.Lock()
	cp.misses++
	if len(cp.cache) >= cp.maxSize {
		// Simple eviction: clear half the cache
		i := 0
		for k := range cp.cache {
			if i >= cp.maxSize/2 {
				break
			}
			delete(cp.cache, k)
			i++
		}
	}
	cp.cache[pos.Hash] = result
	cp.mu.Unlock()

	return result
}

func (cp *CachedProber) ProbeRoot(pos *board.Position) RootResult {
	// Root probing is not cached (needs move info)
	return cp.inner.ProbeRoot(pos)
}

func (cp *CachedProber) MaxPieces() int {
	return cp.inner.MaxPieces()
}

func (cp *CachedProber) Available() bool {
	return cp.inner.Available()
}

// HitRate returns the cache hit rate as a percentage.
func (cp *CachedProber) HitRate() float64 {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	total := cp.hits + cp.misses
	if total == 0 {
		return 0
	}
	return float64(cp.hits) / float64(total) * 100
}

// CacheSize returns the current number of cached entries.
func (cp *CachedProber) CacheSize() int {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return len(cp.cache)
}

// Clear clears the cache.
func (cp *CachedProber) Clear() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.cache = make(map[uint64]ProbeResult, cp.maxSize)
	cp.hits = 0
	cp.misses = 0
}

// PersistentCachedProber wraps another prober with a BadgerDB-backed cache,
// so a position probed in one UCI session (typically against an online
// tablebase) doesn't need a second network round-trip in the next.
type PersistentCachedProber struct {
	inner Prober
	db    *badger.DB

	hits   uint64
	misses uint64
	mu     sync.Mutex
}

// NewPersistentCachedProber opens/creates a BadgerDB at dbDir and wraps inner
// with a durable probe cache.
func NewPersistentCachedProber(inner Prober, dbDir string) (*PersistentCachedProber, error) {
	opts := badger.DefaultOptions(dbDir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &PersistentCachedProber{inner: inner, db: db}, nil
}

func (pp *PersistentCachedProber) Close() error { return pp.db.Close() }

func (pp *PersistentCachedProber) Probe(pos *board.Position) ProbeResult {
	key := probeDBKey(pos.Hash)

	var cached ProbeResult
	found := false
	_ = pp.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cached)
		})
	})

	pp.mu.Lock()
	if found {
		pp.hits++
	} else {
		pp.misses++
	}
	pp.mu.Unlock()

	if found {
		return cached
	}

	result := pp.inner.Probe(pos)
	if data, err := json.Marshal(result); err == nil {
		_ = pp.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, data)
		})
	}
	return result
}

func (pp *PersistentCachedProber) ProbeRoot(pos *board.Position) RootResult {
	return pp.inner.ProbeRoot(pos)
}

func (pp *PersistentCachedProber) MaxPieces() int { return pp.inner.MaxPieces() }
func (pp *PersistentCachedProber) Available() bool { return pp.inner.Available() }

// HitRate returns the cache hit rate as a percentage.
func (pp *PersistentCachedProber) HitRate() float64 {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	total := pp.hits + pp.misses
	if total == 0 {
		return 0
	}
	return float64(pp.hits) / float64(total) * 100
}

func probeDBKey(hash uint64) []byte {
	buf := make([]byte, 6+8)
	copy(buf[:6], "probe:")
	binary.BigEndian.PutUint64(buf[6:], hash)
	return buf
}
