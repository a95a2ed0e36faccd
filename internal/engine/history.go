package engine

import (
	"github.com/hailam/chessplay/internal/board"
)

// gravityUpdate applies the shared statistics update used by every history
// table in this file: value += clampedBonus - value*|clampedBonus|/cap.
// Clamping the bonus to [-cap,cap] first keeps a single large reward from
// overshooting the table's bound in one update.
func gravityUpdate(value, bonus, cap int) int {
	if bonus > cap {
		bonus = cap
	} else if bonus < -cap {
		bonus = -cap
	}
	value += bonus - value*abs2(bonus)/cap
	return value
}

const (
	captureHistoryCap = 10692
	quietHistoryCap    = 7183
	pawnHistoryCap     = 8192
	contHistoryCap     = 30000
	lowPlyHistoryCap   = 7183
	ttMoveHistoryCap   = 8192
	correctionCap      = 1024

	pawnHistorySize = 16384
)

// pawnHistoryIndex compresses a pawn Zobrist key into the pawn history's
// bucket space.
func pawnHistoryIndex(pawnKey uint64) int {
	return int(pawnKey&0xFFFF) & (pawnHistorySize - 1)
}

// orgDst packs a move's from/to squares into the 12-bit index used by the
// quiet and low-ply history tables.
func orgDst(m board.Move) int {
	return int(m.From())<<6 | int(m.To())
}

// CaptureHistory indexes by [piece][dst][capturedType].
type CaptureHistory struct {
	table [12][64][6]int16
}

func (h *CaptureHistory) Get(piece board.Piece, dst board.Square, captured board.PieceType) int {
	return int(h.table[piece][dst][captured])
}

func (h *CaptureHistory) Update(piece board.Piece, dst board.Square, captured board.PieceType, bonus int) {
	v := &h.table[piece][dst][captured]
	*v = int16(gravityUpdate(int(*v), bonus, captureHistoryCap))
}

func (h *CaptureHistory) Clear() { h.table = [12][64][6]int16{} }

// QuietHistory indexes by [color][orgDst].
type QuietHistory struct {
	table [2][4096]int16
}

func (h *QuietHistory) Get(c board.Color, m board.Move) int {
	return int(h.table[c][orgDst(m)])
}

func (h *QuietHistory) Update(c board.Color, m board.Move, bonus int) {
	v := &h.table[c][orgDst(m)]
	*v = int16(gravityUpdate(int(*v), bonus, quietHistoryCap))
}

func (h *QuietHistory) Clear() { h.table = [2][4096]int16{} }

// PawnHistory indexes by [pawnIndex][piece][dst].
type PawnHistory struct {
	table [pawnHistorySize][12][64]int16
}

func (h *PawnHistory) Get(pawnKey uint64, piece board.Piece, dst board.Square) int {
	return int(h.table[pawnHistoryIndex(pawnKey)][piece][dst])
}

func (h *PawnHistory) Update(pawnKey uint64, piece board.Piece, dst board.Square, bonus int) {
	v := &h.table[pawnHistoryIndex(pawnKey)][piece][dst]
	*v = int16(gravityUpdate(int(*v), bonus, pawnHistoryCap))
}

func (h *PawnHistory) Clear() { h.table = [pawnHistorySize][12][64]int16{} }

// PieceToHistory is a single [piece][dst] -> score table, used both
// standalone (as a continuation-history slice) and as the target of a
// ContinuationHistory lookup.
type PieceToHistory struct {
	table [12][64]int16
}

func (h *PieceToHistory) Get(piece board.Piece, dst board.Square) int {
	if h == nil {
		return 0
	}
	return int(h.table[piece][dst])
}

func (h *PieceToHistory) Update(piece board.Piece, dst board.Square, bonus int) {
	if h == nil {
		return
	}
	v := &h.table[piece][dst]
	*v = int16(gravityUpdate(int(*v), bonus, contHistoryCap))
}

func (h *PieceToHistory) Clear() { h.table = [12][64]int16{} }

// ContinuationHistory indexes by [inCheck][capture][piece][dst] to select a
// PieceToHistory table keyed on the move that is about to be made at the
// *parent* stack frame; each slot accumulates how well replies following
// that piece/destination have performed.
type ContinuationHistory struct {
	tables [2][2][12][64]PieceToHistory
}

// Table returns the PieceToHistory slot for the move (piece, dst) played
// when inCheck/capture described the state at the time it was made.
func (h *ContinuationHistory) Table(inCheck, capture bool, piece board.Piece, dst board.Square) *PieceToHistory {
	return &h.tables[b2i(inCheck)][b2i(capture)][piece][dst]
}

func (h *ContinuationHistory) Clear() {
	h.tables = [2][2][12][64]PieceToHistory{}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LowPlyHistory indexes by [ply][orgDst] for ply < 5, giving early-game
// quiet moves their own statistics independent of the general quiet table.
type LowPlyHistory struct {
	table [5][4096]int16
}

func (h *LowPlyHistory) Get(ply int, m board.Move) int {
	if ply >= 5 {
		return 0
	}
	return int(h.table[ply][orgDst(m)])
}

func (h *LowPlyHistory) Update(ply int, m board.Move, bonus int) {
	if ply >= 5 {
		return
	}
	v := &h.table[ply][orgDst(m)]
	*v = int16(gravityUpdate(int(*v), bonus, lowPlyHistoryCap))
}

func (h *LowPlyHistory) Clear() { h.table = [5][4096]int16{} }

// History bundles every per-worker statistics table named in spec §3. It is
// never shared between workers (spec §3 "Ownership").
type History struct {
	Capture    CaptureHistory
	Quiet      QuietHistory
	Pawn       PawnHistory
	Cont       ContinuationHistory
	LowPly     LowPlyHistory
	TTMove     int16
	Killers    [MaxPly + 1][2]board.Move

	CorrPawn    CorrectionTable
	CorrMinor   CorrectionTable
	CorrNonPawn [2]CorrectionTable
	CorrCont    ContCorrectionTable
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Clear() {
	h.Capture.Clear()
	h.Quiet.Clear()
	h.Pawn.Clear()
	h.Cont.Clear()
	h.LowPly.Clear()
	h.TTMove = 0
	h.Killers = [MaxPly + 1][2]board.Move{}
	h.CorrPawn.Clear()
	h.CorrMinor.Clear()
	h.CorrNonPawn[0].Clear()
	h.CorrNonPawn[1].Clear()
	h.CorrCont.Clear()
}

// UpdateTTMoveHistory applies the gravity update to the scalar ttMoveHistory
// statistic (spec §3).
func (h *History) UpdateTTMoveHistory(bonus int) {
	h.TTMove = int16(gravityUpdate(int(h.TTMove), bonus, ttMoveHistoryCap))
}

// AddKiller records a killer move for ply, keeping the two most recent
// distinct killers.
func (h *History) AddKiller(ply int, m board.Move) {
	if ply > MaxPly {
		return
	}
	k := &h.Killers[ply]
	if k[0] == m {
		return
	}
	k[1] = k[0]
	k[0] = m
}

func (h *History) IsKiller(ply int, m board.Move) bool {
	if ply > MaxPly {
		return false
	}
	k := &h.Killers[ply]
	return k[0] == m || k[1] == m
}
