package engine

import (
	"sort"

	"github.com/hailam/chessplay/internal/board"
)

// Stage is the move picker's state, progressed linearly per spec §4.2.
type Stage int

const (
	stageTT Stage = iota
	stageCaptureInit
	stageCaptureGood
	stageQuietInit
	stageQuietGood
	stageCaptureBad
	stageQuietBad

	stageEvaCaptureInit
	stageEvaCaptureAll
	stageEvaQuietInit
	stageEvaQuietAll

	stageProbCutInit
	stageProbCutAll

	stageDone
)

type scoredMove struct {
	m     board.Move
	score int
}

// MovePicker is the staged, lazy move enumerator of spec §4.2. One is
// created per search node and discarded after the move loop.
type MovePicker struct {
	pos     *board.Position
	hist    *History
	ss      *Stack
	ttMove  board.Move
	inCheck bool
	ply     int
	depth   int

	probCutThreshold int

	stage Stage

	captures []scoredMove
	quiets   []scoredMove
	bad      []scoredMove
	quietBad []scoredMove
	idx      int

	quietThreshold  int
	quietPick       bool
}

// NewMovePicker builds the normal (non-evasion) picker used by the search
// move loop, spec §4.3 step 15.
func NewMovePicker(pos *board.Position, hist *History, ss *Stack, ttMove board.Move, depth int, quietThreshold int) *MovePicker {
	inCheck := pos.InCheck()
	stage := stageCaptureInit
	if inCheck {
		stage = stageEvaCaptureInit
	}
	if ttMove != board.NoMove && pos.PseudoLegal(ttMove) {
		stage = stageTT
	}
	return &MovePicker{
		pos: pos, hist: hist, ss: ss, ttMove: ttMove,
		inCheck: inCheck, depth: depth, stage: stage,
		quietThreshold: quietThreshold, quietPick: true,
	}
}

// NewProbCutPicker builds a picker restricted to captures/promotions whose
// SEE clears threshold, used by the ProbCut subprobe (spec §4.3 step 14).
func NewProbCutPicker(pos *board.Position, ttMove board.Move, threshold int) *MovePicker {
	stage := stageProbCutInit
	if ttMove != board.NoMove && pos.PseudoLegal(ttMove) && pos.Capture(ttMove) {
		stage = stageTT
	}
	return &MovePicker{pos: pos, ttMove: ttMove, stage: stage, probCutThreshold: threshold}
}

// DisableQuiets stops QUIET_GOOD/QUIET_BAD from yielding further moves
// (caller's quietPick = false in spec).
func (mp *MovePicker) DisableQuiets() { mp.quietPick = false }

func (mp *MovePicker) scoreCaptures() {
	ml := mp.pos.GenerateCaptures()
	mp.captures = mp.captures[:0]
	for i := 0; i < ml.Len(); i++ {
		m := ml.Get(i)
		if m == mp.ttMove {
			continue
		}
		piece := mp.pos.PieceAt(m.From())
		captured := capturedType(mp.pos, m)
		score := pieceValues[captured]*6 + mp.hist.Capture.Get(piece, m.To(), captured)/16
		if m.IsPromotion() {
			score += pieceValues[m.Promotion()] * 4
		}
		mp.captures = append(mp.captures, scoredMove{m, score})
	}
	sort.SliceStable(mp.captures, func(i, j int) bool { return mp.captures[i].score > mp.captures[j].score })
}

func capturedType(pos *board.Position, m board.Move) board.PieceType {
	if m.IsEnPassant() {
		return board.Pawn
	}
	p := pos.PieceAt(m.To())
	if p == board.NoPiece {
		return board.Pawn
	}
	return p.Type()
}

func (mp *MovePicker) splitCapturesGoodBad() {
	mp.bad = mp.bad[:0]
	good := mp.captures[:0]
	for _, sm := range mp.captures {
		if SEE(mp.pos, sm.m) >= -sm.score/18 {
			good = append(good, sm)
		} else {
			mp.bad = append(mp.bad, sm)
		}
	}
	mp.captures = good
}

func (mp *MovePicker) scoreQuiets() {
	ml := mp.pos.GeneratePseudoLegalMoves()
	mp.quiets = mp.quiets[:0]
	for i := 0; i < ml.Len(); i++ {
		m := ml.Get(i)
		if m == mp.ttMove || m.IsCapture(mp.pos) || m.IsPromotion() {
			continue
		}
		piece := mp.pos.PieceAt(m.From())
		score := 2 * mp.hist.Quiet.Get(mp.pos.SideToMove, m)
		score += mp.hist.Pawn.Get(mp.pos.PawnKey, piece, m.To())
		score += continuationScore(mp.ss, piece, m.To())
		mp.quiets = append(mp.quiets, scoredMove{m, score})
	}
	sort.SliceStable(mp.quiets, func(i, j int) bool { return mp.quiets[i].score > mp.quiets[j].score })

	mp.quietBad = mp.quietBad[:0]
	good := mp.quiets[:0]
	for _, sm := range mp.quiets {
		if sm.score >= mp.quietThreshold {
			good = append(good, sm)
		} else {
			mp.quietBad = append(mp.quietBad, sm)
		}
	}
	mp.quiets = good
}

// continuationScore returns the continuation-history score of (piece, dst)
// from the single table at ss.ContHist; the tables of earlier plies are not
// consulted.
func continuationScore(ss *Stack, piece board.Piece, dst board.Square) int {
	if ss == nil || ss.ContHist == nil {
		return 0
	}
	return ss.ContHist.Get(piece, dst)
}

func (mp *MovePicker) scoreEvasions() {
	ml := mp.pos.GeneratePseudoLegalMoves()
	mp.captures = mp.captures[:0]
	for i := 0; i < ml.Len(); i++ {
		m := ml.Get(i)
		if m == mp.ttMove {
			continue
		}
		var score int
		if m.IsCapture(mp.pos) {
			score = GoodCaptureBase + pieceValues[capturedType(mp.pos, m)]*6
		} else {
			piece := mp.pos.PieceAt(m.From())
			score = 2*mp.hist.Quiet.Get(mp.pos.SideToMove, m) + continuationScore(mp.ss, piece, m.To())
		}
		mp.captures = append(mp.captures, scoredMove{m, score})
	}
	sort.SliceStable(mp.captures, func(i, j int) bool { return mp.captures[i].score > mp.captures[j].score })
}

func (mp *MovePicker) scoreProbCut() {
	ml := mp.pos.GenerateCaptures()
	mp.captures = mp.captures[:0]
	for i := 0; i < ml.Len(); i++ {
		m := ml.Get(i)
		if m == mp.ttMove {
			continue
		}
		if SEE(mp.pos, m) < mp.probCutThreshold {
			continue
		}
		mp.captures = append(mp.captures, scoredMove{m, pieceValues[capturedType(mp.pos, m)]})
	}
	sort.SliceStable(mp.captures, func(i, j int) bool { return mp.captures[i].score > mp.captures[j].score })
}

// Next yields the next move in stage order. ok is true for every move it
// yields and false once the picker is exhausted.
func (mp *MovePicker) Next() (m board.Move, ok bool) {
	for {
		switch mp.stage {
		case stageTT:
			switch {
			case mp.hist == nil: // ProbCut picker
				mp.stage = stageProbCutInit
			case mp.inCheck:
				mp.stage = stageEvaCaptureInit
			default:
				mp.stage = stageCaptureInit
			}
			return mp.ttMove, true
		case stageCaptureInit:
			mp.scoreCaptures()
			mp.idx = 0
			mp.stage = stageCaptureGood
		case stageCaptureGood:
			if mp.idx == 0 {
				mp.splitCapturesGoodBad()
			}
			if mp.idx < len(mp.captures) {
				r := mp.captures[mp.idx]
				mp.idx++
				return r.m, true
			}
			mp.idx = 0
			mp.stage = stageQuietInit
		case stageQuietInit:
			mp.scoreQuiets()
			mp.idx = 0
			mp.stage = stageQuietGood
		case stageQuietGood:
			if !mp.quietPick || mp.idx >= len(mp.quiets) {
				mp.idx = 0
				mp.stage = stageCaptureBad
				continue
			}
			r := mp.quiets[mp.idx]
			mp.idx++
			return r.m, true
		case stageCaptureBad:
			if mp.idx < len(mp.bad) {
				r := mp.bad[mp.idx]
				mp.idx++
				return r.m, true
			}
			mp.idx = 0
			mp.stage = stageQuietBad
		case stageQuietBad:
			if !mp.quietPick || mp.idx >= len(mp.quietBad) {
				mp.stage = stageDone
				continue
			}
			r := mp.quietBad[mp.idx]
			mp.idx++
			return r.m, true

		case stageEvaCaptureInit:
			mp.scoreEvasions()
			mp.idx = 0
			mp.stage = stageEvaCaptureAll
		case stageEvaCaptureAll:
			if mp.idx < len(mp.captures) {
				r := mp.captures[mp.idx]
				mp.idx++
				return r.m, true
			}
			mp.stage = stageDone

		case stageProbCutInit:
			mp.scoreProbCut()
			mp.idx = 0
			mp.stage = stageProbCutAll
		case stageProbCutAll:
			if mp.idx < len(mp.captures) {
				r := mp.captures[mp.idx]
				mp.idx++
				return r.m, true
			}
			mp.stage = stageDone

		default:
			return board.NoMove, false
		}
	}
}

const (
	GoodCaptureBase = 1_000_000
)
