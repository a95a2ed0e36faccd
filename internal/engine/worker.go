package engine

import (
	"math"
	"sync/atomic"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/tablebase"
)

// reductions[depth][moveCount] is the 2D late-move-reduction table
// referenced by spec §4.3 step 16c, precomputed once at package init
// (floating point never appears again on the search hot path after this).
// Values are expressed in 1/1024ths of a ply.
var reductions [MaxPly][64]int

func init() {
	for d := 1; d < MaxPly; d++ {
		for mc := 1; mc < 64; mc++ {
			reductions[d][mc] = int(1024 * 0.7 * math.Log(float64(d)) * math.Log(float64(mc)))
		}
	}
}

// Worker owns one search thread's state: its own copy of the position,
// history tables, and search stack, but shares the TT, tablebase prober,
// and evaluator with its siblings (spec §3 "Ownership").
type Worker struct {
	idx  int
	pool *ThreadPool

	pos    *board.Position
	hist   *History
	stack  *StackArray
	tt     *TranspositionTable
	eval   Evaluator
	tb     tablebase.Prober
	tbConf tablebase.Config

	history []uint64 // prior position hashes, for repetition detection

	rootMoves RootMoves
	rootDepth int
	selDepth  int
	rootDelta int
	nmpMinPly int

	nodes       atomic.Uint64
	tbHits      atomic.Uint64
	moveChanges int

	isMain bool
}

func newWorker(idx int, pool *ThreadPool) *Worker {
	return &Worker{
		idx:   idx,
		pool:  pool,
		hist:  NewHistory(),
		stack: NewStackArray(),
		tt:    pool.tt,
		eval:  pool.eval,
		tb:    pool.tb,
	}
}

func (w *Worker) stopped() bool { return w.pool.stop.Load() }

func b2iInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// reduction computes the LMR amount r in 1/1024-ply units, per spec §4.3
// step 16c: base reduction plus the aspiration-window delta ratio, and
// bumped when the node is not improving.
func reduction(depth, moveCount, deltaRatio int, improving bool) int {
	d, mc := depth, moveCount
	if d >= MaxPly {
		d = MaxPly - 1
	}
	if d < 1 {
		d = 1
	}
	if mc >= 64 {
		mc = 63
	}
	if mc < 1 {
		mc = 1
	}
	r := reductions[d][mc] + deltaRatio
	if !improving {
		r += 1024
	}
	if r < 0 {
		r = 0
	}
	return r
}

// negamax is the recursive search<NT> of spec §4.3. pv selects PV vs non-PV
// behavior; cutNode additionally distinguishes Cut from All at non-PV nodes.
func (w *Worker) negamax(alpha, beta, depth, ply int, cutNode bool, excludedMove board.Move, pv bool) Value {
	// 1. Dispatch.
	if depth <= 0 {
		return w.qsearch(alpha, beta, ply, pv)
	}
	if depth > MaxPly-1 {
		depth = MaxPly - 1
	}

	pos := w.pos
	ss := w.stack.At(ply)
	ss.Ply = ply
	ss.InCheck = pos.InCheck()
	rootNode := ply == 0

	if ply > w.selDepth {
		w.selDepth = ply
	}

	// 2. Upcoming-repetition guard.
	if !rootNode && alpha < ValueDraw {
		if d := board.Repetition(pos.Hash, w.history, pos.HalfMoveClock); d > 0 {
			jitter := Value(int(pos.Hash&1) - int(w.nodes.Load()&1))
			drawScore := ValueDraw + jitter
			if drawScore >= beta {
				return drawScore
			}
			alpha = drawScore
		}
	}

	// 3. Abort and draw.
	if w.stopped() {
		return 0
	}
	if ply >= MaxPly {
		if !ss.InCheck {
			return w.eval.Evaluate(pos)
		}
		return ValueDraw
	}
	if !rootNode && pos.IsDrawPly(w.history) {
		jitter := Value(int(pos.Hash&1) - int(w.nodes.Load()&1))
		return ValueDraw + jitter
	}

	// 4. Mate-distance pruning.
	if !rootNode {
		alpha = maxInt(alpha, MatedIn(ply))
		beta = minInt2(beta, MateIn(ply+1))
		if alpha >= beta {
			return alpha
		}
	}

	// 5. TT probe and translate.
	excluded := excludedMove != board.NoMove
	ttData, ttWriter := w.tt.Probe(pos.Hash)
	ttValue := Value(ValueNone)
	if ttData.Hit && !excluded {
		ttValue = ValueFromTT(ttData.Value, ply, pos.HalfMoveClock)
	}
	ttMove := ttData.Move
	if ttMove == board.NoMove || !pos.PseudoLegal(ttMove) {
		ttMove = ttData.ClusterMv
		if ttMove != board.NoMove && !pos.PseudoLegal(ttMove) {
			ttMove = board.NoMove
		}
	}
	ss.TTMove = ttMove
	ttCapture := ttMove != board.NoMove && pos.Capture(ttMove)

	// 6. TT cutoff.
	if !pv && !excluded && ttData.Hit && ttValue != ValueNone {
		cutCondition := (cutNode == (ttValue >= beta)) || depth > 9
		depthOK := ttData.Depth > depth-b2iInt(ttValue <= beta)
		boundOK := (ttValue >= beta && ttData.Bound == BoundLower) ||
			(ttValue < beta && ttData.Bound == BoundUpper) ||
			ttData.Bound == BoundExact
		if cutCondition && depthOK && boundOK && pos.HalfMoveClock < 90 {
			adjusted := ttValue
			if ttValue > beta && ttData.Depth > 0 && !IsDecisive(ttValue) {
				adjusted = Value((ttData.Depth*int(ttValue) + int(beta)) / (ttData.Depth + 1))
			}
			if adjusted >= beta {
				w.rewardTTCutoff(ttMove, depth, ply)
			}
			return adjusted
		}
	}

	// 7. Tablebase probe.
	if !rootNode && !excluded && w.tb != nil && w.tb.Available() &&
		tablebase.CountPieces(pos) <= w.tbConf.Cardinality &&
		pos.HalfMoveClock == 0 && pos.CastlingRights == board.NoCastling {
		res := w.tb.Probe(pos)
		if res.Found {
			w.tbHits.Add(1)
			v := Value(tablebase.WDLToScore(res.WDL, ply))
			var bound Bound
			switch {
			case res.WDL > tablebase.WDLDraw:
				bound = BoundLower
			case res.WDL < tablebase.WDLDraw:
				bound = BoundUpper
			default:
				bound = BoundExact
			}
			if (bound == BoundLower && v >= beta) || (bound == BoundUpper && v <= alpha) || bound == BoundExact {
				ttWriter.Store(minInt2(depth+6, MaxPly-1), pv, bound, board.NoMove, v, ValueNone, ply)
				return v
			}
		}
	}

	// 8. Static evaluation.
	var staticEval, unadjusted Value
	if ss.InCheck {
		staticEval = ValueNone
	} else {
		if ttData.Hit && ttData.Eval != ValueNone {
			unadjusted = ttData.Eval
		} else {
			unadjusted = w.eval.Evaluate(pos)
		}
		corr := correctionValue(w.hist, pos, nil) * 32 / 131072
		staticEval = unadjusted + Value(corr)
		if !ttData.Hit {
			ttWriter.Store(0, pv, BoundNone, board.NoMove, ValueNone, unadjusted, ply)
		}
	}
	ss.StaticEval = staticEval
	improving := !ss.InCheck && staticEval > w.stack.At(ply-2).StaticEval

	// 9. Quiet-history update from eval delta: the previous ply's quiet move
	// gets a small reward/penalty depending on whether this node's static
	// eval confirms or contradicts the improvement it promised.
	if ply > 0 && !ss.InCheck {
		prev := w.stack.At(ply - 1)
		if prev.Quiet && !prev.NullMove && prev.Move != board.NoMove && prev.StaticEval != ValueNone {
			delta := -(int(staticEval) + int(prev.StaticEval))
			if abs2(delta) < 2000 {
				w.hist.Quiet.Update(pos.SideToMove.Other(), prev.Move, clampValue(delta/4, -120, 120))
			}
		}
	}

	if !ss.InCheck && !excluded && depth < 15 {
		// 10. Razoring.
		razorMargin := Value(464 + 286*depth*depth)
		if !pv && staticEval < alpha-razorMargin {
			v := w.qsearch(alpha-1, alpha, ply, false)
			if v < alpha {
				return v
			}
		}

		// 11. Futility pruning (node-level).
		if !pv && !ttData.PV && staticEval >= beta && !IsLoss(beta) && !IsWin(staticEval) {
			margin := Value(120 + 70*depth)
			if ttCapture {
				margin -= 40
			}
			if improving {
				margin -= 60
			}
			if staticEval-margin >= beta {
				return (2*staticEval + beta) / 3
			}
		}
	}

	// 12. Null-move pruning.
	if cutNode && !excluded && !ss.InCheck && pos.HasNonPawnMaterial() && ply >= w.nmpMinPly &&
		(ply == 0 || !w.stack.At(ply-1).NullMove) && staticEval >= beta && !IsLoss(beta) {
		r := 4 + depth/3 + minInt2((int(staticEval)-int(beta))/230, 7) + pos.Phase()/9
		undo := pos.MakeNullMove()
		ss.Move = board.NoMove
		ss.NullMove = true
		nv := -w.negamax(-beta, -beta+1, depth-r, ply+1, false, board.NoMove, false)
		pos.UnmakeNullMove(undo)
		ss.NullMove = false
		if nv >= beta && !IsWin(nv) {
			if depth < 14 {
				return nv
			}
			savedMinPly := w.nmpMinPly
			w.nmpMinPly = ply + (depth-r)*3/4
			verify := w.negamax(beta-1, beta, depth-r, ply, false, board.NoMove, false)
			w.nmpMinPly = savedMinPly
			if verify >= beta {
				return nv
			}
		}
	}

	// 13. Internal iterative reductions (IIR).
	if !cutNode && depth > 4 && ttMove == board.NoMove {
		depth = maxInt(depth-2, 1)
	}

	// 14. ProbCut.
	if !pv && depth >= 3 && !IsDecisive(beta) {
		probCutBeta := beta + 193
		if improving {
			probCutBeta -= 61
		}
		if ttValue == ValueNone || ttValue >= probCutBeta {
			pc := NewProbCutPicker(pos, ttMove, int(probCutBeta)-int(staticEval))
			for {
				m, ok := pc.Next()
				if !ok {
					break
				}
				if !pos.IsLegal(m) || m == excludedMove {
					continue
				}
				undo := pos.MakeMove(m)
				w.history = append(w.history, pos.Hash)
				qv := -w.qsearch(-probCutBeta, -probCutBeta+1, ply+1, false)
				dv := qv
				if qv >= probCutBeta {
					dv = -w.negamax(-probCutBeta, -probCutBeta+1, depth-4, ply+1, !cutNode, board.NoMove, false)
				}
				w.history = w.history[:len(w.history)-1]
				pos.UnmakeMove(m, undo)
				if w.stopped() {
					return 0
				}
				if dv >= probCutBeta {
					ttWriter.Store(depth+1, pv, BoundLower, m, dv, staticEval, ply)
					return dv
				}
			}
		}
	}

	// 15. Move loop setup.
	quietThreshold := maxInt((-3560-10*b2iInt(improving))*depth, -7998)
	picker := NewMovePicker(pos, w.hist, ss, ttMove, depth, quietThreshold)

	bestValue := Value(-ValueInfinite)
	bestMove := board.NoMove
	moveCount := 0
	promoCount := 0
	quietsTried := make([]board.Move, 0, 32)
	capturesTried := make([]board.Move, 0, 16)

	for {
		m, ok := picker.Next()
		if !ok {
			break
		}
		if m == excludedMove || !pos.IsLegal(m) {
			continue
		}
		if rootNode && len(w.rootMoves) > 0 && w.rootMoves.Find(m) == nil {
			continue
		}
		moveCount++
		ss.MoveCount = moveCount
		if m.IsPromotion() && m.Promotion() != board.Queen {
			promoCount++
		}

		newDepth := depth - 1
		deltaRatio := 0
		if w.rootDelta > 0 {
			deltaRatio = 806 * (beta - alpha) / w.rootDelta
		}
		r := reduction(depth, moveCount, deltaRatio, improving)

		isCapture := m.IsCapture(pos)
		isQuiet := !isCapture && !m.IsPromotion()

		// 16d. Shallow pruning.
		if !rootNode && pos.HasNonPawnMaterial() && !IsLoss(bestValue) {
			lmrDepth := maxInt(1, newDepth-r/1024)
			if isQuiet && moveCount >= ((3+depth*depth)>>b2iInt(!improving))+promoCount {
				continue
			}
			if isCapture {
				captured := capturedType(pos, m)
				if !ss.InCheck && lmrDepth < 7 {
					margin := int(staticEval) + pieceValues[captured] + 222*lmrDepth
					if margin <= int(alpha) {
						continue
					}
				}
				piece := pos.PieceAt(m.From())
				if SEE(pos, m) < -(w.hist.Capture.Get(piece, m.To(), captured)/6 + 160*depth) {
					continue
				}
			} else if isQuiet {
				contScore := continuationScore(ss, pos.PieceAt(m.From()), m.To())
				if contScore < -3865*depth {
					continue
				}
				futility := int(staticEval) + 100*lmrDepth
				if futility <= int(alpha) {
					bestValue = maxInt(bestValue, Value(futility))
					continue
				}
				if SEE(pos, m) < -(23 * lmrDepth * lmrDepth) {
					continue
				}
			}
		}

		extension := 0
		// 16e. Singular extension.
		if !rootNode && m == ttMove && depth > 4 && ttData.Depth >= depth-3 &&
			ttData.Bound == BoundLower && !IsDecisive(ttValue) {
			singBeta := Value(int(ttValue) - (53+84*b2iInt(pv))*depth/64)
			sv := w.negamax(singBeta-1, singBeta, newDepth/2, ply, cutNode, m, false)
			switch {
			case sv < singBeta:
				extension = 1
				if !pv && sv < singBeta-Value(depth) {
					extension = 2
				}
			case singBeta >= beta && !IsWin(singBeta):
				return singBeta
			case ttValue >= beta:
				extension = -3
			case cutNode:
				extension = -2
			}
		}
		// 16f. Recapture extension.
		if pv && isCapture && ply > 0 && m.To() == w.stack.At(ply-1).Move.To() {
			extension = maxInt(extension, 1)
		}
		// 16g. Check extension.
		if pos.InCheck() && depth > 12 && pos.HalfMoveClock < 10 {
			extension = maxInt(extension, 1)
		}

		movingPiece := pos.PieceAt(m.From())
		undo := pos.MakeMove(m)
		w.nodes.Add(1)
		w.history = append(w.history, pos.Hash)
		childSS := w.stack.At(ply + 1)
		childSS.ContHist = w.hist.Cont.Table(pos.InCheck(), isCapture, movingPiece, m.To())
		childSS.Quiet = isQuiet
		childSS.NullMove = false
		ss.Move = m

		var value Value
		fullSearch := func(d int, childPV bool) Value {
			return -w.negamax(-beta, -alpha, d, ply+1, !cutNode, board.NoMove, childPV)
		}

		switch {
		case depth > 1 && moveCount > 1:
			lmrDepth := maxInt(1, newDepth-r/1024+extension)
			value = -w.negamax(-alpha-1, -alpha, lmrDepth, ply+1, true, board.NoMove, false)
			if value > alpha && lmrDepth < newDepth+extension {
				value = -w.negamax(-alpha-1, -alpha, newDepth+extension, ply+1, !cutNode, board.NoMove, false)
			}
			if value > alpha && value < beta {
				value = fullSearch(newDepth+extension, pv)
			}
		case pv && moveCount == 1:
			value = fullSearch(newDepth+extension, true)
		default:
			value = -w.negamax(-alpha-1, -alpha, newDepth+extension, ply+1, !cutNode, board.NoMove, false)
			if value > alpha && value < beta {
				value = fullSearch(newDepth+extension, pv)
			}
		}

		w.history = w.history[:len(w.history)-1]
		pos.UnmakeMove(m, undo)

		if w.stopped() {
			return 0
		}

		if isQuiet {
			quietsTried = append(quietsTried, m)
		} else if isCapture {
			capturesTried = append(capturesTried, m)
		}

		// 16l. Accept.
		if value > bestValue {
			bestValue = value
			if value > alpha {
				bestMove = m
				alpha = value
				ss.PV = append(ss.PV[:0], m)
				ss.PV = append(ss.PV, childSS.PV...)
				if rootNode {
					w.recordRootMove(m, value)
				}
			}
			if value >= beta {
				ss.CutoffCount++
				break
			}
		}
	}

	// 17. No-move terminal.
	if moveCount == 0 {
		if excluded {
			return alpha
		}
		if ss.InCheck {
			return MatedIn(ply)
		}
		return ValueDraw
	}

	// 18. History updates on return.
	if bestMove != board.NoMove {
		bonus := StatBonus(depth)
		if bestMove == ttMove {
			bonus += 300
		}
		w.updateHistories(pos, bestMove, bonus, quietsTried, capturesTried, moveCount, depth, ply)
	}

	bound := BoundUpper
	switch {
	case bestValue >= beta:
		bound = BoundLower
	case pv && bestMove != board.NoMove:
		bound = BoundExact
	}
	ttWriter.Store(depth, pv, bound, bestMove, bestValue, staticEval, ply)

	if !ss.InCheck && (bestMove == board.NoMove || !pos.Capture(bestMove)) {
		corrBonus := (int(bestValue) - int(staticEval)) * depth / 8
		w.hist.CorrPawn.Update(pos.PawnKey, corrBonus)
		w.hist.CorrNonPawn[board.White].Update(nonPawnCorrKey(pos, board.White), corrBonus)
		w.hist.CorrNonPawn[board.Black].Update(nonPawnCorrKey(pos, board.Black), corrBonus)
		w.hist.CorrMinor.Update(minorCorrKey(pos), corrBonus)
	}

	return bestValue
}

func (w *Worker) rewardTTCutoff(ttMove board.Move, depth, ply int) {
	if ttMove == board.NoMove {
		return
	}
	bonus := StatBonus(depth)
	if !w.pos.Capture(ttMove) {
		w.hist.Quiet.Update(w.pos.SideToMove, ttMove, bonus)
	}
	if ply > 0 {
		prev := w.stack.At(ply - 1)
		if prev.MoveCount <= 2 && prev.Move != board.NoMove && !prev.NullMove {
			w.hist.Quiet.Update(w.pos.SideToMove.Other(), prev.Move, -StatMalus(depth))
		}
	}
}

func (w *Worker) updateHistories(pos *board.Position, bestMove board.Move, bonus int, quiets, captures []board.Move, moveCount, depth, ply int) {
	malus := StatMalus(depth)
	if !pos.Capture(bestMove) {
		w.hist.Quiet.Update(pos.SideToMove, bestMove, bonus)
		w.hist.AddKiller(ply, bestMove)
	} else {
		piece := pos.PieceAt(bestMove.From())
		w.hist.Capture.Update(piece, bestMove.To(), capturedType(pos, bestMove), bonus)
	}
	penalty := -(malus - 34*(moveCount-1))
	for _, m := range quiets {
		if m == bestMove {
			continue
		}
		w.hist.Quiet.Update(pos.SideToMove, m, penalty)
	}
	for _, m := range captures {
		if m == bestMove {
			continue
		}
		piece := pos.PieceAt(m.From())
		w.hist.Capture.Update(piece, m.To(), capturedType(pos, m), penalty)
	}
}

func (w *Worker) recordRootMove(m board.Move, value Value) {
	rm := w.rootMoves.Find(m)
	if rm == nil {
		return
	}
	if rm.CurValue != value {
		w.moveChanges++
	}
	rm.PreValue = rm.CurValue
	rm.CurValue = value
	rm.UCIValue = value
	rm.UpdateAverages(value)
	rm.SelDepth = maxInt(rm.SelDepth, w.selDepth)
	rm.Nodes = w.nodes.Load()
}

// qsearch is spec §4.4's quiescence search.
func (w *Worker) qsearch(alpha, beta, ply int, pv bool) Value {
	pos := w.pos
	ss := w.stack.At(ply)
	ss.Ply = ply
	ss.InCheck = pos.InCheck()

	if ply > w.selDepth {
		w.selDepth = ply
	}
	if w.stopped() {
		return 0
	}
	if ply >= MaxPly {
		if !ss.InCheck {
			return w.eval.Evaluate(pos)
		}
		return ValueDraw
	}
	if pos.IsDrawPly(w.history) {
		return ValueDraw
	}

	ttData, ttWriter := w.tt.Probe(pos.Hash)
	if ttData.Hit && !pv {
		ttValue := ValueFromTT(ttData.Value, ply, pos.HalfMoveClock)
		if (ttValue >= beta && ttData.Bound == BoundLower) ||
			(ttValue < beta && ttData.Bound == BoundUpper) ||
			ttData.Bound == BoundExact {
			return ttValue
		}
	}

	var bestValue, staticEval Value
	if ss.InCheck {
		bestValue = -ValueInfinite
		staticEval = ValueNone
	} else {
		if ttData.Hit && ttData.Eval != ValueNone {
			staticEval = ttData.Eval
		} else {
			staticEval = w.eval.Evaluate(pos)
		}
		bestValue = staticEval
		if bestValue >= beta {
			if !ttData.Hit {
				ttWriter.Store(0, pv, BoundLower, board.NoMove, bestValue, staticEval, ply)
			}
			return bestValue
		}
		if bestValue > alpha {
			alpha = bestValue
		}
	}

	futilityBase := int(staticEval) + 322
	picker := NewMovePicker(pos, w.hist, ss, ttData.Move, 0, -(1 << 30))
	if !ss.InCheck {
		picker.DisableQuiets()
	}

	bestMove := board.NoMove
	moveCount := 0
	for {
		m, ok := picker.Next()
		if !ok {
			break
		}
		if !pos.IsLegal(m) {
			continue
		}
		moveCount++
		if !ss.InCheck && !m.IsPromotion() {
			captured := capturedType(pos, m)
			if futilityBase+pieceValues[captured] <= int(alpha) && SEE(pos, m) <= 0 {
				continue
			}
			if SEE(pos, m) < 0 {
				continue
			}
		}
		undo := pos.MakeMove(m)
		w.nodes.Add(1)
		w.history = append(w.history, pos.Hash)
		value := -w.qsearch(-beta, -alpha, ply+1, pv)
		w.history = w.history[:len(w.history)-1]
		pos.UnmakeMove(m, undo)

		if w.stopped() {
			return 0
		}
		if value > bestValue {
			bestValue = value
			if value > alpha {
				bestMove = m
				alpha = value
			}
			if value >= beta {
				break
			}
		}
	}

	if moveCount == 0 && ss.InCheck {
		return MatedIn(ply)
	}

	bound := BoundUpper
	if bestValue >= beta {
		bound = BoundLower
	}
	ttWriter.Store(0, pv, bound, bestMove, bestValue, staticEval, ply)
	return bestValue
}
