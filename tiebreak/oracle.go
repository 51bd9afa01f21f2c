// Package tiebreak implements the tie-break oracle (spec.md §4.5): a
// deterministic decision function the engine consults for exclusion
// and surplus-order ties only when the statutory predecessor-round
// tally comparison itself remains tied, and for election-order,
// bulk-exclusion order and last-vacancy ties directly.
package tiebreak

import "fmt"

// Context enumerates the reason the engine is consulting the oracle.
type Context string

const (
	// ExclusionTie: two or more continuing candidates tied for lowest
	// tally, and tied at every preceding round too.
	ExclusionTie Context = "exclusion_tie"
	// ElectionOrderTie: two or more candidates reached quota in the
	// same round and their order of election must be decided.
	ElectionOrderTie Context = "election_order_tie"
	// LastVacancyTie: exactly one vacancy remains, exactly two
	// candidates remain continuing, and their tallies are equal; or the
	// continuing candidates fill every remaining vacancy and equal
	// tallies among them must be put in order of election.
	LastVacancyTie Context = "last_vacancy_tie"
	// SurplusOrderTie: two or more elected candidates have an equal
	// surplus and the order of distribution must be decided.
	SurplusOrderTie Context = "surplus_order_tie"
	// BulkExclusionOrderTie: two or more candidates within a bulk
	// exclusion are tied and their relative exclusion order must be
	// decided.
	BulkExclusionOrderTie Context = "bulk_exclusion_order_tie"
)

// Oracle resolves a tie among candidates, deterministically given its
// inputs (spec.md §4.5). Round is the 1-based round number the tie
// occurred in; candidates are given in a stable order (ascending id)
// so implementations need not sort them again.
type Oracle interface {
	Resolve(round int, ctx Context, candidates []int) (int, error)
}

// ErrDeclined is returned (wrapped) by an Oracle that cannot resolve a
// tie. The engine treats this as fatal: spec.md §4.4 "Tie-break oracle
// failure (oracle declines to answer) is also fatal."
type ErrDeclined struct {
	Round      int
	Context    Context
	Candidates []int
}

func (e *ErrDeclined) Error() string {
	return fmt.Sprintf("tiebreak: oracle declined to resolve %s in round %d among candidates %v", e.Context, e.Round, e.Candidates)
}

// LowestID is a deterministic Oracle: it always picks the
// lowest-numbered candidate id. This reproduces one valid statutory
// reading of an unresolved tie (spec.md §4.5: "a deterministic rule
// (e.g., lowest candidate id)").
type LowestID struct{}

// Resolve implements Oracle.
func (LowestID) Resolve(round int, ctx Context, candidates []int) (int, error) {
	if len(candidates) == 0 {
		return 0, &ErrDeclined{Round: round, Context: ctx}
	}
	lowest := candidates[0]
	for _, id := range candidates[1:] {
		if id < lowest {
			lowest = id
		}
	}
	return lowest, nil
}

// Func adapts a plain decision function (e.g. one that prompts a human
// operator, matching the reference implementation's interactive
// tie-breaking) into an Oracle.
type Func func(round int, ctx Context, candidates []int) (int, error)

// Resolve implements Oracle.
func (f Func) Resolve(round int, ctx Context, candidates []int) (int, error) {
	return f(round, ctx, candidates)
}
