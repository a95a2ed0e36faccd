package board

// Additional Position methods required by the search core but not exposed
// by the base board package: material keys, game phase, pseudo-legality
// checks against a generated move, and draw/repetition queries against a
// history of prior hashes.

// materialKeyTable holds one random key per (color, piece type, count) for
// MaterialKey, drawn from its own generator so that material keys are
// independent of the Zobrist piece keys of the main search hash.
var materialKeyTable [2][6][16]uint64

func init() {
	rng := newPRNG(0xD15EA5EDC0FFEE11)
	for c := White; c <= Black; c++ {
		for pt := Pawn; pt <= King; pt++ {
			for n := 0; n < 16; n++ {
				materialKeyTable[c][pt][n] = rng.next()
			}
		}
	}
}

// MaterialKey returns a hash that depends only on piece counts, not square
// occupancy or side to move. Positions with the same MaterialKey have the
// same tablebase/endgame material signature.
func (p *Position) MaterialKey() uint64 {
	var key uint64
	for c := White; c <= Black; c++ {
		for pt := Pawn; pt <= King; pt++ {
			n := p.Pieces[c][pt].PopCount()
			key ^= materialKeyTable[c][pt][n&15]
		}
	}
	return key
}

// NonPawnMaterial returns the material value, excluding pawns and kings,
// held by the given color.
func (p *Position) NonPawnMaterial(c Color) int {
	total := 0
	for pt := Knight; pt <= Queen; pt++ {
		total += p.Pieces[c][pt].PopCount() * PieceValue[pt]
	}
	return total
}

// Phase returns a 0-128 interpolation weight based on the non-pawn material
// left for both sides: 0 with all of it on the board (midgame), rising to
// 128 when none is left (endgame).
func (p *Position) Phase() int {
	const (
		knightPhase = 1
		bishopPhase = 1
		rookPhase   = 2
		queenPhase  = 4
		totalPhase  = knightPhase*4 + bishopPhase*4 + rookPhase*4 + queenPhase*2
	)
	phase := totalPhase
	phase -= (p.Pieces[White][Knight].PopCount() + p.Pieces[Black][Knight].PopCount()) * knightPhase
	phase -= (p.Pieces[White][Bishop].PopCount() + p.Pieces[Black][Bishop].PopCount()) * bishopPhase
	phase -= (p.Pieces[White][Rook].PopCount() + p.Pieces[Black][Rook].PopCount()) * rookPhase
	phase -= (p.Pieces[White][Queen].PopCount() + p.Pieces[Black][Queen].PopCount()) * queenPhase
	if phase < 0 {
		phase = 0
	}
	return (phase*128 + totalPhase/2) / totalPhase
}

// PseudoLegal reports whether m could plausibly be played in the current
// position without fully re-deriving legality: the moving piece exists, is
// the side to move's, and the move appears among the pseudo-legal list for
// its piece type. This is a cheap filter used by the move picker and the TT
// move trust check (spec: "ttMove by preferring the entry's move if
// pseudo-legal"); IsLegal still performs the authoritative check-safety
// validation afterwards.
func (p *Position) PseudoLegal(m Move) bool {
	if m == NoMove {
		return false
	}
	from, to := m.From(), m.To()
	piece := p.PieceAt(from)
	if piece == NoPiece || piece.Color() != p.SideToMove {
		return false
	}
	if !p.IsEmpty(to) && p.PieceAt(to).Color() == p.SideToMove {
		return false
	}
	ml := p.GeneratePseudoLegalMoves()
	for i := 0; i < ml.Len(); i++ {
		if ml.Get(i) == m {
			return true
		}
	}
	return false
}

// Capture reports whether playing m on this position is a capture (the spec
// calls this pos.capture(move)).
func (p *Position) Capture(m Move) bool {
	return m.IsCapture(p)
}

// Legal is the spec's pos.legal(move) alias for IsLegal.
func (p *Position) Legal(m Move) bool {
	return p.IsLegal(m)
}

// Repetition reports whether the current position has occurred earlier in
// the same game among the last HalfMoveClock plies, using the supplied
// history of Zobrist hashes (most recent last, ending with the current
// position, as the search and the UCI layer build it). It returns the ply
// distance to the most recent repeat, or 0 if none is found.
func Repetition(hash uint64, history []uint64, halfMoveClock int) int {
	n := len(history) - 1 // entries before the current position
	limit := halfMoveClock
	if limit > n {
		limit = n
	}
	// Repetitions only happen every other ply (same side to move).
	for d := 4; d <= limit; d += 2 {
		if history[n-d] == hash {
			return d
		}
	}
	return 0
}

// IsDrawPly reports whether the position is a draw by the rules tracked at
// the board level (50-move, insufficient material, stalemate) or because
// Repetition finds the current hash in history; a single earlier occurrence
// within the last HalfMoveClock plies is enough.
func (p *Position) IsDrawPly(history []uint64) bool {
	if p.IsDraw() {
		return true
	}
	if d := Repetition(p.Hash, history, p.HalfMoveClock); d > 0 {
		return true
	}
	return false
}
