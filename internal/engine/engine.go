package engine

import (
	"io"
	"runtime"
	"time"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/book"
	"github.com/hailam/chessplay/internal/tablebase"
)

// MateScore is the UCI-facing mate bound; scores beyond it encode "mate in
// N" rather than a centipawn count.
const MateScore = ValueMate

// SearchLimits is the simplified, non-UCI limit set used by Search and
// SearchMultiPV (depth/time/node caps without a clock).
type SearchLimits struct {
	Depth    int
	Nodes    uint64
	MoveTime time.Duration
	Infinite bool
	MultiPV  int
}

// Difficulty maps a coarse strength knob to concrete SearchLimits, for
// callers that don't want to manage UCI time controls directly.
type Difficulty int

const (
	Easy Difficulty = iota
	Medium
	Hard
)

var DifficultySettings = map[Difficulty]SearchLimits{
	Easy:   {Depth: 6, MoveTime: 500 * time.Millisecond},
	Medium: {Depth: 12, MoveTime: 2 * time.Second},
	Hard:   {MoveTime: 10 * time.Second},
}

// Engine is the top-level search API: it owns the lazy-SMP thread pool, the
// evaluator, and the optional opening book and tablebase prober, and
// translates between the simplified SearchLimits/UCILimits callers use and
// ThreadPool.Search's interface.
type Engine struct {
	pool *ThreadPool
	eval *ClassicalEvaluator

	difficulty Difficulty
	book       *book.Book
	tablebase  tablebase.Prober
	tbConf     tablebase.Config

	rootPosHashes []uint64

	OnInfo func(SearchInfo)
}

// NewEngine creates an engine with the given transposition table size in MB,
// sized to GOMAXPROCS search threads and a classical (non-NNUE) evaluator.
func NewEngine(ttSizeMB int) *Engine {
	eval := NewClassicalEvaluator(4)
	tb := tablebase.Prober(tablebase.NoopProber{})
	tbConf := tablebase.Config{Cardinality: 6, ProbeDepth: 1}

	pool := NewThreadPool(runtime.GOMAXPROCS(0), ttSizeMB, eval, tb)
	pool.SetTBConfig(tbConf)

	e := &Engine{
		pool:       pool,
		eval:       eval,
		difficulty: Medium,
		tablebase:  tb,
		tbConf:     tbConf,
	}
	pool.OnInfo = func(info SearchInfo) {
		if e.OnInfo != nil {
			e.OnInfo(info)
		}
	}
	return e
}

// SetThreads resizes the worker pool (ucioption "Threads").
func (e *Engine) SetThreads(n int) { e.pool.SetThreads(n) }

// ResizeHash resizes the shared transposition table (ucioption "Hash").
func (e *Engine) ResizeHash(mb int) { e.pool.ResizeHash(mb) }

func (e *Engine) SetDifficulty(d Difficulty) { e.difficulty = d }

// LoadBook loads an opening book from a Polyglot file.
func (e *Engine) LoadBook(filename string) error {
	b, err := book.LoadPolyglot(filename)
	if err != nil {
		return err
	}
	e.book = b
	return nil
}

func (e *Engine) SetBook(b *book.Book) { e.book = b }
func (e *Engine) HasBook() bool        { return e.book != nil }

func (e *Engine) SetTablebase(tb tablebase.Prober) {
	e.tablebase = tb
	e.pool.SetTablebase(tb)
}

// EnableLichessTablebase switches tablebase probing to the online Lichess
// endgame API, for positions with no local Syzygy files mounted.
func (e *Engine) EnableLichessTablebase() {
	e.SetTablebase(tablebase.NewLichessProber())
}

func (e *Engine) HasTablebase() bool {
	return e.tablebase != nil && e.tablebase.Available()
}

// SetSyzygyProbeDepth sets the minimum depth at which the search probes the
// tablebase (ucioption "SyzygyProbeDepth").
func (e *Engine) SetSyzygyProbeDepth(depth int) {
	e.tbConf.ProbeDepth = depth
	e.pool.SetTBConfig(e.tbConf)
}

// SetTablebaseCardinality sets the maximum piece count probed during search.
func (e *Engine) SetTablebaseCardinality(n int) {
	e.tbConf.Cardinality = n
	e.pool.SetTBConfig(e.tbConf)
}

// SetPositionHistory sets prior position hashes for repetition detection;
// call before Search/SearchWithLimits/SearchWithUCILimits.
func (e *Engine) SetPositionHistory(hashes []uint64) {
	e.rootPosHashes = append([]uint64(nil), hashes...)
}

// Search finds the best move using the engine's current Difficulty setting.
func (e *Engine) Search(pos *board.Position) board.Move {
	return e.SearchWithLimits(pos, DifficultySettings[e.difficulty])
}

// probeOpeningMove tries the book, then the tablebase, for an instant root
// move before falling back to search.
func (e *Engine) probeOpeningMove(pos *board.Position) (board.Move, bool) {
	if e.book != nil {
		if move, ok := e.book.Probe(pos); ok {
			return move, true
		}
	}
	if e.tablebase != nil && e.tablebase.Available() {
		if tablebase.CountPieces(pos) <= e.tablebase.MaxPieces() {
			result := e.tablebase.ProbeRoot(pos)
			if result.Found && result.Move != board.NoMove {
				return result.Move, true
			}
		}
	}
	return board.NoMove, false
}

// SearchWithLimits finds the best move under a depth/time/node cap (no
// clock-based time management).
func (e *Engine) SearchWithLimits(pos *board.Position, limits SearchLimits) board.Move {
	if move, ok := e.probeOpeningMove(pos); ok {
		return move
	}

	ucilimits := UCILimits{
		Depth:    limits.Depth,
		Nodes:    limits.Nodes,
		MoveTime: limits.MoveTime,
		Infinite: limits.Infinite,
	}
	results := e.pool.Search(pos, ucilimits, e.rootPosHashes, nil, nil, 1)
	if len(results) == 0 {
		legal := pos.GenerateLegalMoves()
		if legal.Len() > 0 {
			return legal.Get(0)
		}
		return board.NoMove
	}
	return results[0].Move
}

// SearchWithUCILimits finds the best move using full UCI clock semantics
// (wtime/btime/winc/binc/movestogo).
func (e *Engine) SearchWithUCILimits(pos *board.Position, limits UCILimits, ply int) board.Move {
	if move, ok := e.probeOpeningMove(pos); ok {
		return move
	}

	results := e.pool.Search(pos, limits, e.rootPosHashes, nil, nil, 1)
	if len(results) == 0 {
		legal := pos.GenerateLegalMoves()
		if legal.Len() > 0 {
			return legal.Get(0)
		}
		return board.NoMove
	}
	return results[0].Move
}

// SearchMultiPV finds the top N principal variations for analysis.
func (e *Engine) SearchMultiPV(pos *board.Position, limits SearchLimits) []SearchResult {
	numPV := limits.MultiPV
	if numPV <= 0 {
		numPV = 1
	}
	ucilimits := UCILimits{
		Depth:    limits.Depth,
		Nodes:    limits.Nodes,
		MoveTime: limits.MoveTime,
		Infinite: limits.Infinite,
	}
	return e.pool.Search(pos, ucilimits, e.rootPosHashes, nil, nil, numPV)
}

// SearchUCI runs a search under full UCI clock semantics (wtime/btime/winc/
// binc/movestogo/ponder), returning numPV principal variations.
func (e *Engine) SearchUCI(pos *board.Position, limits UCILimits, searchMoves, ignoreMoves []board.Move, numPV int) []SearchResult {
	if numPV <= 0 {
		numPV = 1
	}
	if move, ok := e.probeOpeningMove(pos); ok && numPV == 1 && len(searchMoves) == 0 {
		return []SearchResult{{Move: move, PV: []board.Move{move}}}
	}
	return e.pool.Search(pos, limits, e.rootPosHashes, searchMoves, ignoreMoves, numPV)
}

// SaveHash writes the transposition table to w (spec's "Save Hash").
func (e *Engine) SaveHash(w io.Writer) error { return e.pool.tt.Save(w) }

// LoadHash replaces the transposition table's contents from r ("Load Hash").
func (e *Engine) LoadHash(r io.Reader) error { return e.pool.tt.Load(r) }

// Stop signals the in-progress search to return as soon as possible.
func (e *Engine) Stop() { e.pool.Stop() }

// Clear resets the transposition table and per-worker history tables
// (ucinewgame).
func (e *Engine) Clear() {
	e.pool.tt.Clear()
	e.pool.ClearHistories()
	e.eval.Clear()
}

// Perft counts leaf nodes at the given depth, for move-generator debugging.
func (e *Engine) Perft(pos *board.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}
	moves := pos.GenerateLegalMoves()
	if depth == 1 {
		return uint64(moves.Len())
	}
	var nodes uint64
	for i := 0; i < moves.Len(); i++ {
		move := moves.Get(i)
		undo := pos.MakeMove(move)
		nodes += e.Perft(pos, depth-1)
		pos.UnmakeMove(move, undo)
	}
	return nodes
}

// Evaluate returns the static evaluation of a position from the side to
// move's perspective.
func (e *Engine) Evaluate(pos *board.Position) Value {
	return e.eval.Evaluate(pos)
}

// ScoreToString renders a centipawn/mate score the way a human-facing
// analysis display would.
func ScoreToString(score int) string {
	if score > MateScore-100 {
		mateIn := (MateScore - score + 1) / 2
		return "Mate in " + itoa(mateIn)
	}
	if score < -MateScore+100 {
		mateIn := (MateScore + score + 1) / 2
		return "Mated in " + itoa(mateIn)
	}

	sign := ""
	if score < 0 {
		sign = "-"
		score = -score
	}
	pawns := score / 100
	centipawns := score % 100
	return sign + itoa(pawns) + "." + itoa(centipawns)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + itoa(-n)
	}
	s := ""
	for n > 0 {
		s = string('0'+byte(n%10)) + s
		n /= 10
	}
	return s
}
