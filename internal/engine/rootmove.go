package engine

import (
	"sort"

	"github.com/hailam/chessplay/internal/board"
)

// RootMove tracks one root candidate across iterative-deepening
// iterations, per spec §3.
type RootMove struct {
	Move   board.Move
	PV     []board.Move

	CurValue    Value
	PreValue    Value
	UCIValue    Value
	AvgValue    Value
	AvgSqrValue float64
	SelDepth    int

	TBRank  int
	TBValue Value

	BoundLower bool
	BoundUpper bool

	Nodes uint64
}

func NewRootMove(m board.Move) *RootMove {
	return &RootMove{
		Move:     m,
		PV:       []board.Move{m},
		CurValue: -ValueInfinite,
		PreValue: -ValueInfinite,
		UCIValue: -ValueInfinite,
		AvgValue: -ValueInfinite,
	}
}

// UpdateAverages folds a new iteration's value into the running mean/
// mean-square used by the time manager's instability heuristic.
func (rm *RootMove) UpdateAverages(v Value) {
	if rm.AvgValue == -ValueInfinite {
		rm.AvgValue = v
		rm.AvgSqrValue = float64(v) * float64(v)
		return
	}
	rm.AvgValue = Value((int(rm.AvgValue)*3 + int(v)) / 4)
	rm.AvgSqrValue = (rm.AvgSqrValue*3 + float64(v)*float64(v)) / 4
}

// RootMoves is an ordered collection of RootMove, sorted descending by
// (tbRank, curValue, preValue, avgValue).
type RootMoves []*RootMove

func (rm RootMoves) Less(i, j int) bool {
	a, b := rm[i], rm[j]
	if a.TBRank != b.TBRank {
		return a.TBRank > b.TBRank
	}
	if a.CurValue != b.CurValue {
		return a.CurValue > b.CurValue
	}
	if a.PreValue != b.PreValue {
		return a.PreValue > b.PreValue
	}
	return a.AvgValue > b.AvgValue
}
func (rm RootMoves) Len() int      { return len(rm) }
func (rm RootMoves) Swap(i, j int) { rm[i], rm[j] = rm[j], rm[i] }

func (rm RootMoves) Sort() { sort.Stable(rm) }

// Find returns the RootMove for m, or nil.
func (rm RootMoves) Find(m board.Move) *RootMove {
	for _, r := range rm {
		if r.Move == m {
			return r
		}
	}
	return nil
}

// FromLegalMoves builds the initial RootMoves list from the position's
// legal moves, intersected with searchMoves/ignoreMoves (spec §4.7 step 3).
func FromLegalMoves(pos *board.Position, searchMoves, ignoreMoves []board.Move) RootMoves {
	legal := pos.GenerateLegalMoves()
	var out RootMoves
	for i := 0; i < legal.Len(); i++ {
		m := legal.Get(i)
		if len(searchMoves) > 0 && !containsMove(searchMoves, m) {
			continue
		}
		if containsMove(ignoreMoves, m) {
			continue
		}
		out = append(out, NewRootMove(m))
	}
	return out
}

func containsMove(list []board.Move, m board.Move) bool {
	for _, x := range list {
		if x == m {
			return true
		}
	}
	return false
}
