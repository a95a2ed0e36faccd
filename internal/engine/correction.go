package engine

import "github.com/hailam/chessplay/internal/board"

// CorrectionTable adjusts static evaluation based on how far the search's
// backed-up value diverged from it, keyed by a 16-bit compressed hash. It
// generalizes the teacher's single position-keyed correction table (which
// only tracked the full position hash) into the four independently-keyed
// tables spec §3 lists: pawn structure, minor-piece placement, non-pawn
// material per color, and a continuation-keyed correction.
type CorrectionTable struct {
	table [65536]int16
}

func (c *CorrectionTable) index(key uint64) uint16 {
	return uint16(key)
}

// Get returns the raw stored correction; the caller scales the summed
// corrections down by the 131072 factor from spec §4.3 step 8.
func (c *CorrectionTable) Get(key uint64) int {
	return int(c.table[c.index(key)])
}

// Update applies the gravity formula with bonus derived from
// (bestValue - staticEval) * depth / 8, as spec §4.3 step 18 prescribes.
func (c *CorrectionTable) Update(key uint64, bonus int) {
	v := &c.table[c.index(key)]
	*v = int16(gravityUpdate(int(*v), bonus, correctionCap))
}

func (c *CorrectionTable) Clear() { c.table = [65536]int16{} }

// ContCorrectionTable is keyed by piece+destination of the move two plies
// back, mirroring the indexing style of ContinuationHistory but feeding the
// correction-history sum instead of move ordering.
type ContCorrectionTable struct {
	table [12][64]int16
}

func (c *ContCorrectionTable) Get(piece board.Piece, dst board.Square) int {
	return int(c.table[piece][dst])
}

func (c *ContCorrectionTable) Update(piece board.Piece, dst board.Square, bonus int) {
	v := &c.table[piece][dst]
	*v = int16(gravityUpdate(int(*v), bonus, correctionCap))
}

func (c *ContCorrectionTable) Clear() { c.table = [12][64]int16{} }

// correctionValue sums the pawn, minor and non-pawn (both colors)
// corrections for the position, producing the delta added to
// unadjustedStaticEval in spec §4.3 step 8. No continuation correction is
// added: contCorr is not read, and CorrCont does not enter the sum.
func correctionValue(h *History, pos *board.Position, contCorr *PieceToHistory) int {
	v := h.CorrPawn.Get(pos.PawnKey)
	v += h.CorrNonPawn[board.White].Get(nonPawnCorrKey(pos, board.White))
	v += h.CorrNonPawn[board.Black].Get(nonPawnCorrKey(pos, board.Black))
	v += h.CorrMinor.Get(minorCorrKey(pos))
	if contCorr != nil {
		// contCorr is not used; nothing is added for it.
	}
	return v
}

// nonPawnCorrKey and minorCorrKey build cheap position-dependent keys by
// XORing the Zobrist piece keys of the relevant subset of pieces, giving a
// stable hash that changes only when that material subset changes square.
func nonPawnCorrKey(pos *board.Position, c board.Color) uint64 {
	var key uint64
	for pt := board.Knight; pt <= board.Queen; pt++ {
		bb := pos.Pieces[c][pt]
		for bb != 0 {
			sq := bb.PopLSB()
			key ^= board.ZobristPiece(c, pt, sq)
		}
	}
	return key
}

func minorCorrKey(pos *board.Position) uint64 {
	var key uint64
	for c := board.White; c <= board.Black; c++ {
		bb := pos.Pieces[c][board.Knight] | pos.Pieces[c][board.Bishop]
		for bb != 0 {
			sq := bb.PopLSB()
			key ^= board.ZobristPiece(c, board.Knight, sq)
		}
	}
	return key
}
