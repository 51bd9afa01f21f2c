// Package count implements the Section 273 round engine (spec.md §4): a
// deterministic state machine that advances an STV count one primary
// action at a time, producing a full round-by-round transcript.
package count

import (
	"github.com/opencount/senate-stv/ballot"
	"github.com/opencount/senate-stv/rational"
	"github.com/opencount/senate-stv/tiebreak"
)

// Status is a candidate's tri-state position in the count (spec.md §3).
type Status int

const (
	Hopeful Status = iota
	Elected
	Excluded
)

func (s Status) String() string {
	switch s {
	case Elected:
		return "elected"
	case Excluded:
		return "excluded"
	default:
		return "hopeful"
	}
}

// CandidateState is a candidate's current status plus, once decided,
// the round and order number the decision was made in (spec.md §3).
type CandidateState struct {
	Status Status
	Order  int // 1-based order of election/exclusion; 0 while Hopeful.
	Round  int // round the status was assigned in; 0 while Hopeful.
}

// Phase is the engine's coarse state (spec.md §4.4's "AwaitingStart /
// InRound(n) / Completed").
type Phase int

const (
	AwaitingStart Phase = iota
	InRound
	Completed
)

// Config carries the count's tunable, statute-adjacent knobs. Every
// field has a statutory default; spec.md's Open Question about when to
// apply the last-vacancy shortcut is resolved by
// DistributeSurplusBeforeLastVacancy (see DESIGN.md).
type Config struct {
	// DistributeSurplusBeforeLastVacancy: when true (the default), a
	// pending surplus is always distributed before the last-vacancy
	// rule is invoked, even if only one vacancy remains. When false,
	// the last-vacancy rule fires as soon as continuing candidates ==
	// vacancies, regardless of undistributed surplus.
	DistributeSurplusBeforeLastVacancy bool

	// Oracle resolves ties the engine cannot settle itself (spec.md
	// §4.5): exclusion and surplus-order ties reach it only after the
	// predecessor-round rule stays tied; election-order, bulk-exclusion
	// order and last-vacancy ties go to it directly. Required; New
	// returns an InputRejected error if nil.
	Oracle tiebreak.Oracle
}

// DefaultConfig returns the statutory default configuration, with no
// oracle set (the caller must supply one).
func DefaultConfig() Config {
	return Config{DistributeSurplusBeforeLastVacancy: true}
}

// Input is everything the engine needs to run a count (spec.md §6).
type Input struct {
	Candidates []ballot.Candidate
	Vacancies  int
	Ballots    []ballot.RawBallot
}

// Summary is the terminal outcome of a completed count (spec.md §6):
// `{total_formal, quota, vacancies, elected}`. TotalRounds is an
// `[EXPANSION]` addition (not named by spec.md §6) kept alongside the
// four statutory fields since callers invariably want it too.
type Summary struct {
	TotalFormal rational.Rational `json:"total_formal"`
	Quota       rational.Rational `json:"quota"`
	Vacancies   int               `json:"vacancies"`
	Elected     []int             `json:"elected"` // candidate ids, in order of election
	TotalRounds int               `json:"total_rounds"`
}
