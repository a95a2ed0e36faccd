package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/tablebase"
)

// SearchInfo is one iteration's worth of reportable progress, handed to the
// UCI layer's "info" line formatter.
type SearchInfo struct {
	Depth    int
	SelDepth int
	MultiPV  int
	Score    Value
	Bound    Bound
	Nodes    uint64
	NPS      uint64
	Time     time.Duration
	HashFull int
	TBHits   uint64
	PV       []board.Move
}

// SearchResult is the engine's final answer for one principal variation.
type SearchResult struct {
	Move  board.Move
	Ponder board.Move
	Score Value
	PV    []board.Move
	Depth int
	Nodes uint64
}

// ThreadPool is the lazy-SMP search supervisor of spec §4.7: it owns the
// shared transposition table, evaluator, and tablebase prober, and spawns
// one Worker per thread, all searching the same root concurrently.
type ThreadPool struct {
	tt   *TranspositionTable
	eval Evaluator
	tb   tablebase.Prober

	workers []*Worker
	stop    atomic.Bool

	moveOverhead time.Duration
	tbConf       tablebase.Config

	OnInfo func(SearchInfo)
}

// NewThreadPool allocates numThreads workers sharing tt/eval/tb.
func NewThreadPool(numThreads, ttSizeMB int, eval Evaluator, tb tablebase.Prober) *ThreadPool {
	if numThreads < 1 {
		numThreads = 1
	}
	pool := &ThreadPool{
		tt:           NewTranspositionTable(ttSizeMB),
		eval:         eval,
		tb:           tb,
		moveOverhead: 10 * time.Millisecond,
		tbConf:       tablebase.Config{Cardinality: 6, ProbeDepth: 1},
	}
	pool.SetThreads(numThreads)
	return pool
}

// SetThreads resizes the worker pool, discarding per-worker history tables
// (spec §5: thread count changes require a fresh ucinewgame-style reset).
func (p *ThreadPool) SetThreads(n int) {
	if n < 1 {
		n = 1
	}
	p.workers = make([]*Worker, n)
	for i := range p.workers {
		p.workers[i] = newWorker(i, p)
		p.workers[i].isMain = i == 0
		p.workers[i].tbConf = p.tbConf
	}
}

func (p *ThreadPool) ResizeHash(mb int) { p.tt.Resize(mb) }

func (p *ThreadPool) SetTablebase(tb tablebase.Prober) {
	p.tb = tb
	for _, w := range p.workers {
		w.tb = tb
	}
}

func (p *ThreadPool) SetTBConfig(c tablebase.Config) {
	p.tbConf = c
	for _, w := range p.workers {
		w.tbConf = c
	}
}

func (p *ThreadPool) ClearHistories() {
	for _, w := range p.workers {
		w.hist.Clear()
	}
}

func (p *ThreadPool) Stop() { p.stop.Store(true) }

func (p *ThreadPool) TotalNodes() uint64 {
	var n uint64
	for _, w := range p.workers {
		n += w.nodes.Load()
	}
	return n
}

func (p *ThreadPool) TotalTBHits() uint64 {
	var n uint64
	for _, w := range p.workers {
		n += w.tbHits.Load()
	}
	return n
}

// Search runs the lazy-SMP iterative-deepening search described in spec
// §4.7: every worker iterates depth 1..maxDepth over the same root, sharing
// the TT; the main worker (index 0) owns the TimeManager and decides when
// to raise the pool-wide stop flag. After all workers return,
// collectResults picks the thread whose root moves are reported.
func (p *ThreadPool) Search(pos *board.Position, limits UCILimits, history []uint64, searchMoves, ignoreMoves []board.Move, multiPV int) []SearchResult {
	p.stop.Store(false)
	p.tt.NewSearch()

	rootMoves := FromLegalMoves(pos, searchMoves, ignoreMoves)
	if len(rootMoves) == 0 {
		return nil
	}
	if multiPV < 1 {
		multiPV = 1
	}
	if multiPV > len(rootMoves) {
		multiPV = len(rootMoves)
	}

	maxDepth := MaxPly - 1
	if limits.Depth > 0 && limits.Depth < maxDepth {
		maxDepth = limits.Depth
	}

	tm := NewTimeManager()
	tm.Init(limits, pos.SideToMove, len(history), p.moveOverhead)

	startTime := time.Now()

	var wg sync.WaitGroup
	for i, w := range p.workers {
		w.pos = pos.Copy()
		w.history = append([]uint64(nil), history...)
		w.rootMoves = make(RootMoves, len(rootMoves))
		for j, rm := range rootMoves {
			cp := *rm
			w.rootMoves[j] = &cp
		}
		w.rootDepth = 0
		w.selDepth = 0
		w.nmpMinPly = 0
		w.nodes.Store(0)
		w.tbHits.Store(0)

		wg.Add(1)
		go func(idx int, worker *Worker) {
			defer wg.Done()
			p.iterate(worker, idx, maxDepth, multiPV, tm, limits, startTime)
		}(i, w)
	}

	wg.Wait()

	return p.collectResults(multiPV)
}

// iterate runs one worker's iterative-deepening loop with aspiration
// windows (spec §4.3's iterative loop + §4.5's abandonment heuristic, main
// worker only).
func (p *ThreadPool) iterate(w *Worker, idx, maxDepth, multiPV int, tm *TimeManager, limits UCILimits, startTime time.Time) {
	prevScore := Value(ValueNone)
	var lastBest board.Move
	stableIters := 0

	for depth := 1; depth <= maxDepth; depth++ {
		if p.stop.Load() {
			return
		}
		w.rootDepth = depth

		for pvIdx := 0; pvIdx < multiPV && pvIdx < len(w.rootMoves); pvIdx++ {
			if p.stop.Load() {
				return
			}
			w.rootMoves[pvIdx:].Sort()

			alpha, beta := Value(-ValueInfinite), Value(ValueInfinite)
			delta := Value(10)
			if depth >= 4 && prevScore != ValueNone {
				alpha = clampValue(prevScore-delta, -ValueInfinite, ValueInfinite)
				beta = clampValue(prevScore+delta, -ValueInfinite, ValueInfinite)
			}
			w.rootDelta = int(beta - alpha)

			var value Value
			for {
				value = w.negamax(alpha, beta, depth, 0, false, board.NoMove, true)
				if p.stop.Load() {
					return
				}
				if value <= alpha {
					beta = (alpha + beta) / 2
					alpha = clampValue(value-delta, -ValueInfinite, ValueInfinite)
				} else if value >= beta {
					beta = clampValue(value+delta, -ValueInfinite, ValueInfinite)
				} else {
					break
				}
				delta += delta/3 + 10
				if alpha <= -ValueInfinite+1 && beta >= ValueInfinite-1 {
					break
				}
			}
			w.rootMoves.Sort()
		}

		if p.stop.Load() {
			return
		}

		best := w.rootMoves[0]
		if w.isMain {
			nodes := p.TotalNodes()
			if p.OnInfo != nil {
				p.OnInfo(SearchInfo{
					Depth:    depth,
					SelDepth: w.selDepth,
					Score:    best.CurValue,
					Nodes:    nodes,
					Time:     time.Since(startTime),
					HashFull: p.tt.HashFull(),
					TBHits:   p.TotalTBHits(),
					PV:       best.PV,
				})
			}

			if limits.Nodes > 0 && nodes >= limits.Nodes {
				p.stop.Store(true)
				return
			}
			if IsMate(best.CurValue) && depth > 4 {
				p.stop.Store(true)
				return
			}
			if !limits.Infinite && limits.Depth == 0 && limits.MoveTime == 0 {
				if best.Move == lastBest {
					stableIters++
				} else {
					stableIters = 0
				}
				lastBest = best.Move

				if tm.PastOptimum() {
					instability := 0.0
					if stableIters < 4 {
						instability = float64(4-stableIters) * 0.05
					}
					evalChange := 0.0
					if prevScore != ValueNone {
						evalChange = float64(best.CurValue-prevScore) / 100
					}
					factor := AbandonmentFactor(evalChange, instability, 1.0, false)
					if tm.ShouldAbandon(factor) {
						p.stop.Store(true)
						return
					}
				}
			}
			if tm.ShouldStop() {
				p.stop.Store(true)
				return
			}
		}

		prevScore = best.CurValue
	}
}

// collectResults picks a best thread by comparing each helper with the
// current pick (starting from the main worker), using their top root move:
// the helper replaces the pick when the pick has no score yet, when the
// pick's score is a loss and the helper's is not, when the helper scores
// higher at no lesser depth (the pick's score not being a loss), or when
// the helper is deeper with no lower score. No vote over PV moves is taken.
// The first multiPV rootMoves of the chosen thread are copied into results.
func (p *ThreadPool) collectResults(multiPV int) []SearchResult {
	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if len(w.rootMoves) == 0 || len(best.rootMoves) == 0 {
			continue
		}
		a, b := w.rootMoves[0], best.rootMoves[0]
		if a.CurValue == -ValueInfinite {
			continue
		}
		switch {
		case b.CurValue == -ValueInfinite:
			best = w
		case IsLoss(b.CurValue) && !IsLoss(a.CurValue):
			best = w
		case !IsLoss(b.CurValue) && a.CurValue > b.CurValue && w.rootDepth >= best.rootDepth:
			best = w
		case w.rootDepth > best.rootDepth && a.CurValue >= b.CurValue:
			best = w
		}
	}

	if len(best.rootMoves) == 0 {
		return nil
	}
	n := multiPV
	if n > len(best.rootMoves) {
		n = len(best.rootMoves)
	}
	out := make([]SearchResult, n)
	for i := 0; i < n; i++ {
		rm := best.rootMoves[i]
		var ponder board.Move
		if len(rm.PV) > 1 {
			ponder = rm.PV[1]
		}
		out[i] = SearchResult{
			Move:   rm.Move,
			Ponder: ponder,
			Score:  rm.CurValue,
			PV:     rm.PV,
			Depth:  best.rootDepth,
			Nodes:  best.nodes.Load(),
		}
	}
	return out
}
