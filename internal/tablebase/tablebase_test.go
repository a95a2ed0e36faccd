package tablebase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hailam/chessplay/internal/board"
)

func TestNoopProber(t *testing.T) {
	prober := NoopProber{}

	if prober.Available() {
		t.Error("NoopProber should not be available")
	}

	if prober.MaxPieces() != 0 {
		t.Errorf("NoopProber MaxPieces should be 0, got %d", prober.MaxPieces())
	}

	pos := board.NewPosition()
	result := prober.Probe(pos)
	if result.Found {
		t.Error("NoopProber should not find anything")
	}

	rootResult := prober.ProbeRoot(pos)
	if rootResult.Found {
		t.Error("NoopProber ProbeRoot should not find anything")
	}
}

func TestCountPieces(t *testing.T) {
	pos := board.NewPosition()
	count := CountPieces(pos)

	// Starting position has 32 pieces
	if count != 32 {
		t.Errorf("Starting position should have 32 pieces, got %d", count)
	}
}

func TestWDLToScore(t *testing.T) {
	tests := []struct {
		wdl      WDL
		ply      int
		positive bool // Should score be positive (winning)?
	}{
		{WDLWin, 0, true},
		{WDLWin, 10, true},
		{WDLCursedWin, 0, true},
		{WDLDraw, 0, false},
		{WDLBlessedLoss, 0, false},
		{WDLLoss, 0, false},
	}

	for _, tc := range tests {
		score := WDLToScore(tc.wdl, tc.ply)
		isPositive := score > 0

		if tc.positive && !isPositive {
			t.Errorf("WDL %d at ply %d should give positive score, got %d", tc.wdl, tc.ply, score)
		}
		if !tc.positive && tc.wdl != WDLDraw && isPositive {
			t.Errorf("WDL %d at ply %d should give non-positive score, got %d", tc.wdl, tc.ply, score)
		}
	}
}

// countingProber records how many times Probe was actually invoked, so
// tests can tell a cache hit from a fresh lookup.
type countingProber struct {
	calls int
}

func (cp *countingProber) Probe(pos *board.Position) ProbeResult {
	cp.calls++
	return ProbeResult{Found: true, WDL: WDLWin, DTZ: 5}
}
func (cp *countingProber) ProbeRoot(pos *board.Position) RootResult { return RootResult{Found: false} }
func (cp *countingProber) MaxPieces() int                          { return 6 }
func (cp *countingProber) Available() bool                         { return true }

func TestMmapFileValidatesMagic(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "chessplay-syzygy-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	goodPath := filepath.Join(tmpDir, "good.rtbw")
	if err := os.WriteFile(goodPath, append(append([]byte{}, wdlMagic[:]...), 0, 0, 0, 0), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	mf, err := mmapFile(goodPath)
	if err != nil {
		t.Fatalf("mmapFile failed: %v", err)
	}
	defer mf.close()
	if !mf.magicValid(wdlMagic) {
		t.Error("expected valid WDL magic")
	}
	if mf.magicValid(dtzMagic) {
		t.Error("WDL file should not match DTZ magic")
	}

	badPath := filepath.Join(tmpDir, "bad.rtbw")
	if err := os.WriteFile(badPath, []byte{0, 0, 0, 0}, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	mf2, err := mmapFile(badPath)
	if err != nil {
		t.Fatalf("mmapFile failed: %v", err)
	}
	defer mf2.close()
	if mf2.magicValid(wdlMagic) {
		t.Error("expected invalid magic to be rejected")
	}
}

func TestSyzygyProberEnsureMapped(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "chessplay-syzygy-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	material := "KQvK"
	wdlPath := filepath.Join(tmpDir, material+".rtbw")
	if err := os.WriteFile(wdlPath, append(append([]byte{}, wdlMagic[:]...), 0, 0, 0, 0), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	sp := &SyzygyProber{path: tmpDir, mapped: make(map[string]*mappedFile)}
	sp.ensureMapped(material)
	defer sp.Close()

	sp.mu.RLock()
	mf, ok := sp.mapped[material]
	sp.mu.RUnlock()
	if !ok || mf == nil {
		t.Fatal("expected material key to be mapped after ensureMapped")
	}
}

func TestPersistentCachedProber(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "chessplay-tbcache-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	inner := &countingProber{}
	cached, err := NewPersistentCachedProber(inner, tmpDir)
	if err != nil {
		t.Fatalf("NewPersistentCachedProber failed: %v", err)
	}
	defer cached.Close()

	pos := board.NewPosition()

	first := cached.Probe(pos)
	if !first.Found || first.WDL != WDLWin {
		t.Fatalf("unexpected first probe result: %+v", first)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 inner call after first probe, got %d", inner.calls)
	}

	second := cached.Probe(pos)
	if second != first {
		t.Errorf("cached probe mismatch: got %+v, want %+v", second, first)
	}
	if inner.calls != 1 {
		t.Errorf("expected cache hit to avoid a second inner call, got %d calls", inner.calls)
	}

	if rate := cached.HitRate(); rate <= 0 {
		t.Errorf("expected positive hit rate after a cache hit, got %.1f", rate)
	}
}
