package engine

import "github.com/hailam/chessplay/internal/board"

// Evaluator is the narrow external-collaborator interface spec §1 requires
// of the position evaluator: "the core needs only evaluate(pos) -> Value".
// A NNUE network would implement this exactly as the classical evaluator
// below does; neither the Worker nor the ThreadPool cares which one it
// holds.
type Evaluator interface {
	Evaluate(pos *board.Position) Value
}

// ClassicalEvaluator wraps the teacher's material+PST+mobility evaluator
// (eval.go) behind the Evaluator interface, using a per-worker pawn hash
// table to cache pawn-structure subscores.
type ClassicalEvaluator struct {
	pawnTable *PawnTable
}

func NewClassicalEvaluator(pawnTableMB int) *ClassicalEvaluator {
	return &ClassicalEvaluator{pawnTable: NewPawnTable(pawnTableMB)}
}

func (e *ClassicalEvaluator) Evaluate(pos *board.Position) Value {
	return EvaluateWithPawnTable(pos, e.pawnTable)
}

func (e *ClassicalEvaluator) Clear() { e.pawnTable.Clear() }
