package count_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/opencount/senate-stv/ballot"
	"github.com/opencount/senate-stv/count"
	"github.com/opencount/senate-stv/rational"
	"github.com/opencount/senate-stv/tiebreak"
)

func candidates(ids ...int) []ballot.Candidate {
	out := make([]ballot.Candidate, len(ids))
	for i, id := range ids {
		out[i] = ballot.Candidate{ID: id, Name: "C"}
	}
	return out
}

func rb(weight int64, prefs ...int) ballot.RawBallot {
	return ballot.RawBallot{Preferences: prefs, Weight: rational.FromInt(weight)}
}

func mustNew(t *testing.T, input count.Input, oracle tiebreak.Oracle) *count.Engine {
	t.Helper()
	cfg := count.DefaultConfig()
	cfg.Oracle = oracle
	e, err := count.New(input, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// Boundary scenario: two candidates, one vacancy, no transfers needed.
func TestTwoCandidateSingleVacancy(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2),
		Vacancies:  1,
		Ballots: []ballot.RawBallot{
			rb(60, 1),
			rb(40, 2),
		},
	}
	e := mustNew(t, input, tiebreak.LowestID{})
	summary, err := e.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rational.Equal(summary.Quota, rational.FromInt(51)) {
		t.Errorf("quota = %s, want 51", summary.Quota)
	}
	if len(summary.Elected) != 1 || summary.Elected[0] != 1 {
		t.Errorf("elected = %v, want [1]", summary.Elected)
	}
	if summary.TotalRounds != 1 {
		t.Errorf("total rounds = %d, want 1", summary.TotalRounds)
	}
}

// Boundary scenario: a first-preference surplus elects a second
// candidate via transfer in the following round.
func TestSurplusDistributionElectsSecondCandidate(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2, 3),
		Vacancies:  2,
		Ballots: []ballot.RawBallot{
			rb(70, 1, 2),
			rb(30, 3),
		},
	}
	e := mustNew(t, input, tiebreak.LowestID{})
	summary, err := e.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rational.Equal(summary.Quota, rational.FromInt(34)) {
		t.Errorf("quota = %s, want 34", summary.Quota)
	}
	if len(summary.Elected) != 2 || summary.Elected[0] != 1 || summary.Elected[1] != 2 {
		t.Errorf("elected = %v, want [1 2]", summary.Elected)
	}
	if summary.TotalRounds != 2 {
		t.Errorf("total rounds = %d, want 2", summary.TotalRounds)
	}

	transcript := e.Transcript()
	round2 := transcript[1]
	if len(round2.Transfers) != 1 || round2.Transfers[0].From != 1 {
		t.Fatalf("round 2 transfers = %+v", round2.Transfers)
	}
	tv := round2.Transfers[0].TransferValue
	want := rational.FromFraction(36, 70)
	if !rational.Equal(tv, want) {
		t.Errorf("transfer value = %s, want %s", tv, want)
	}
}

// Exercises surplus distribution into an exhausting preference, an
// exclusion tie resolved by the oracle (no predecessor round
// distinguishes the tied pair), and — once only two candidates remain
// continuing for the final seat — the last-vacancy rule's 2-for-1
// short circuit (spec.md §4.4(6)/boundary scenario 5) electing the
// higher of the two without a further transfer.
func TestExclusionTieAndLastVacancy(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2, 3, 4), // A, B, C, D
		Vacancies:  2,
		Ballots: []ballot.RawBallot{
			rb(10, 1), // A: single preference, elected outright, surplus exhausts
			rb(2, 2),  // B: tied with C for lowest, excluded via the oracle
			rb(2, 3),  // C: tied with B for lowest, survives the exclusion
			rb(4, 4),  // D: higher tally than C, elected by the last-vacancy short circuit
		},
	}
	e := mustNew(t, input, tiebreak.LowestID{})
	summary, err := e.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rational.Equal(summary.Quota, rational.FromInt(7)) {
		t.Errorf("quota = %s, want 7", summary.Quota)
	}
	if len(summary.Elected) != 2 || summary.Elected[0] != 1 || summary.Elected[1] != 4 {
		t.Errorf("elected = %v, want [1 4]", summary.Elected)
	}
	if st := e.State(2); st.Status != count.Excluded {
		t.Errorf("candidate 2 (B) should be excluded via the tie-break oracle, got %v", st.Status)
	}
	if st := e.State(3); st.Status != count.Hopeful {
		t.Errorf("candidate 3 (C) should remain hopeful, edged out by D's higher tally for the last seat, got %v", st.Status)
	}
	if st := e.State(4); st.Status != count.Elected {
		t.Errorf("candidate 4 (D) should be elected under the last-vacancy 2-for-1 rule, got %v", st.Status)
	}
}

// Boundary scenario 5 (spec.md §8): only one vacancy remains and
// exactly two candidates remain continuing, so the higher tally is
// elected immediately without a further transfer — distinct from the
// continuing<=remaining shortcut, which needs the whole continuing set
// to fit every remaining seat.
func TestLastVacancyTwoForOneElectsHigherTally(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2, 3), // A, B, C
		Vacancies:  1,
		Ballots: []ballot.RawBallot{
			rb(4, 1), // A: survives C's exclusion, highest of the final two
			rb(3, 2), // B: survives C's exclusion, lower of the final two
			rb(2, 3), // C: lowest, excluded first
		},
	}
	e := mustNew(t, input, tiebreak.LowestID{})
	summary, err := e.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Elected) != 1 || summary.Elected[0] != 1 {
		t.Errorf("elected = %v, want [1]", summary.Elected)
	}
	if st := e.State(3); st.Status != count.Excluded {
		t.Errorf("candidate 3 (C) should be excluded first, got %v", st.Status)
	}
	if st := e.State(2); st.Status != count.Hopeful {
		t.Errorf("candidate 2 (B) should remain hopeful, edged out by A's higher tally, got %v", st.Status)
	}
}

// Regression test for a candidate who reaches quota on a transfer while
// already holding an earlier, unrelated parcel (spec.md §3/§8: an
// elected candidate holds no parcels). A is elected outright on first
// preferences, its surplus tips B over quota (B enters that round
// already holding its own first-preference parcel), B's own surplus
// then needs distributing in turn, and C finally takes the last seat
// below quota. Every round's weight-conservation invariant (and the
// elected-holds-no-parcels invariant) must hold throughout, which
// requires draining B's leftover first-preference parcel when B's own
// surplus is distributed, not just the parcel that tipped B over.
func TestSurplusRecipientDrainsEarlierParcelOnElection(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2, 3, 4), // A, B, C, D
		Vacancies:  3,
		Ballots: []ballot.RawBallot{
			rb(70, 1, 2), // A then B
			rb(20, 3, 1), // C then A
			rb(10, 2, 3), // B then C
			// D gets no first preferences at all.
		},
	}
	e := mustNew(t, input, tiebreak.LowestID{})
	summary, err := e.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rational.Equal(summary.Quota, rational.FromInt(26)) {
		t.Errorf("quota = %s, want 26", summary.Quota)
	}
	if len(summary.Elected) != 3 || summary.Elected[0] != 1 || summary.Elected[1] != 2 || summary.Elected[2] != 3 {
		t.Fatalf("elected = %v, want [1 2 3] in order", summary.Elected)
	}
	if st := e.State(4); st.Status != count.Hopeful {
		t.Errorf("candidate 4 (D) should remain hopeful, got %v", st.Status)
	}
}

// A batch of candidates, each below the next-lowest's tally and
// collectively below it too, is excluded together under §273(13)
// rather than one at a time purely by ascending tally.
func TestBulkExclusion(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2, 3, 4),
		Vacancies:  2,
		Ballots: []ballot.RawBallot{
			rb(1, 1),
			rb(2, 2),
			rb(4, 3),
			rb(60, 4), // elects 4 outright; its surplus exhausts (single preference)
		},
	}
	e := mustNew(t, input, tiebreak.LowestID{})

	// Drive the engine one round at a time until a bulk-exclusion note
	// appears, confirming candidates 1 and 2 (combined 3, below
	// candidate 3's 4) are found as one batch rather than being
	// excluded one at a time across unrelated single-exclusion rounds
	// with separate reasoning.
	var sawBulk bool
	for {
		rec, err := e.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		for _, n := range rec.Note {
			if n != "" && len(n) >= len("bulk exclusion") && n[:len("bulk exclusion")] == "bulk exclusion" {
				sawBulk = true
			}
		}
		if e.Phase() == count.Completed {
			break
		}
	}
	if !sawBulk {
		t.Errorf("expected at least one bulk-exclusion round")
	}
}

// The last-vacancy rule fills the final seat even though the winner
// sits below quota: A's surplus exhausts, leaving one seat with B (5)
// and C (no votes) continuing, so the 2-for-1 short circuit elects B
// on the higher tally without a further exclusion.
func TestLastVacancyElectsBelowQuota(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2, 3), // A, B, C
		Vacancies:  2,
		Ballots: []ballot.RawBallot{
			rb(10, 1), // A: single preference, exhausts on surplus
			rb(5, 2),  // B
			// C gets no first preferences at all.
		},
	}
	e := mustNew(t, input, tiebreak.LowestID{})
	summary, err := e.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Elected) != 2 || summary.Elected[0] != 1 || summary.Elected[1] != 2 {
		t.Errorf("elected = %v, want [1 2]", summary.Elected)
	}
	if st := e.State(2); st.Status != count.Elected {
		t.Errorf("candidate 2 (B) should be elected under the last-vacancy rule despite sitting below quota, got %v", st.Status)
	}
}

// Boundary scenario 3 (spec.md §8): two candidates tied for lowest
// tally today differed in an earlier round, so the statutory
// predecessor-round rule settles the exclusion without ever consulting
// the oracle. A perpetually-declining oracle proves the point: if the
// engine fell back to it, Run would return a tie-unresolved error. A
// fifth candidate (Y) keeps three candidates continuing for the two
// remaining seats at the A/B exclusion tie itself, so the last-vacancy
// rule (which, with only A and B left for two seats, would elect both
// and order their equal tallies via the oracle) never intercepts it;
// the continuing set only shrinks to fit the remaining seats (B and Y)
// once the history rule has already picked A as the loser.
func TestStatutoryPredecessorRoundTieBreak(t *testing.T) {
	const (
		candA = 1
		candB = 2
		candE = 3
		candX = 4
		candY = 5
	)
	input := count.Input{
		Candidates: candidates(candA, candB, candE, candX, candY),
		Vacancies:  3,
		Ballots: []ballot.RawBallot{
			rb(2, candA),        // A: single preference, exhausts if excluded
			rb(4, candB),        // B: single preference, survives the A/B tie
			rb(8, candE, candA), // E: elected round 1, surplus flows entirely to A
			rb(1, candX),        // X: single preference, lowest, excluded first
			rb(5, candY),        // Y: single preference, keeps 3 continuing for the tie
		},
	}
	decliningOracle := tiebreak.Func(func(round int, ctx tiebreak.Context, cands []int) (int, error) {
		return 0, &tiebreak.ErrDeclined{Round: round, Context: ctx, Candidates: cands}
	})
	e := mustNew(t, input, decliningOracle)
	summary, err := e.Run()
	if err != nil {
		t.Fatalf("Run: %v (the A/B exclusion tie should resolve from round 1's history, never reaching the oracle)", err)
	}
	if !rational.Equal(summary.Quota, rational.FromInt(6)) {
		t.Errorf("quota = %s, want 6", summary.Quota)
	}
	want := map[int]bool{candE: true, candB: true, candY: true}
	for _, id := range summary.Elected {
		delete(want, id)
	}
	if len(want) != 0 || len(summary.Elected) != 3 {
		t.Errorf("elected = %v, want %d, %d, %d in some order", summary.Elected, candE, candB, candY)
	}
	if st := e.State(candA); st.Status != count.Excluded {
		t.Errorf("candidate A should be excluded (lower in round 1's history), got %v", st.Status)
	}
	if st := e.State(candX); st.Status != count.Excluded {
		t.Errorf("candidate X should be excluded (lowest tally, no tie), got %v", st.Status)
	}
}

// Declining to resolve a tie is fatal, and the failure carries the
// transcript accumulated so far.
func TestTieUnresolvedCarriesTranscript(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2, 3, 4),
		Vacancies:  3,
		Ballots: []ballot.RawBallot{
			rb(50, 1, 4),
			rb(10, 2, 4),
			rb(10, 3, 4),
		},
	}
	decliningOracle := tiebreak.Func(func(round int, ctx tiebreak.Context, cands []int) (int, error) {
		return 0, &tiebreak.ErrDeclined{Round: round, Context: ctx, Candidates: cands}
	})
	e := mustNew(t, input, decliningOracle)
	_, err := e.Run()
	if err == nil {
		t.Fatal("expected a tie-unresolved error")
	}
	var countErr *count.Error
	if ce, ok := err.(*count.Error); ok {
		countErr = ce
	}
	if countErr == nil {
		t.Fatalf("expected *count.Error, got %T", err)
	}
	if countErr.Type() != "tie_unresolved" {
		t.Errorf("Type() = %q, want tie_unresolved", countErr.Type())
	}
	if len(countErr.Transcript) == 0 {
		t.Errorf("expected a non-empty transcript on failure")
	}
}

// Input-level problems are rejected before round 1 (spec.md §4.4
// "Failure semantics", §7).
func TestInputRejected(t *testing.T) {
	valid := count.Input{
		Candidates: candidates(1, 2, 3),
		Vacancies:  1,
		Ballots:    []ballot.RawBallot{rb(1, 1)},
	}

	cases := []struct {
		name   string
		mutate func(*count.Input)
	}{
		{"zero vacancies", func(in *count.Input) { in.Vacancies = 0 }},
		{"vacancies equal candidates", func(in *count.Input) { in.Vacancies = 3 }},
		{"vacancies exceed candidates", func(in *count.Input) { in.Vacancies = 4 }},
		{"zero ballots", func(in *count.Input) { in.Ballots = nil }},
		{"unknown candidate in preference", func(in *count.Input) {
			in.Ballots = []ballot.RawBallot{rb(1, 1, 99)}
		}},
		{"duplicate candidate in preference", func(in *count.Input) {
			in.Ballots = []ballot.RawBallot{rb(1, 2, 2)}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := valid
			tc.mutate(&input)
			cfg := count.DefaultConfig()
			cfg.Oracle = tiebreak.LowestID{}
			_, err := count.New(input, cfg)
			if !errors.Is(err, count.ErrInputRejected) {
				t.Errorf("New = %v, want an input_rejected error", err)
			}
		})
	}
}

// Boundary scenario 4 (spec.md §8): three candidates tied at 1 sum to
// 3, strictly below the next candidate's 10, so all three batch under
// §273(13); their relative exclusion order is decided by the oracle
// (BulkExclusionOrderTie), since they are tied with each other.
func TestBulkExclusionTiedBatchOrderedByOracle(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2, 3, 4, 5),
		Vacancies:  1,
		Ballots: []ballot.RawBallot{
			rb(1, 1),
			rb(1, 2),
			rb(1, 3),
			rb(10, 4),
			rb(12, 5),
		},
	}

	var contexts []tiebreak.Context
	oracle := tiebreak.Func(func(round int, ctx tiebreak.Context, cands []int) (int, error) {
		contexts = append(contexts, ctx)
		return cands[len(cands)-1], nil // highest id excluded first
	})
	e := mustNew(t, input, oracle)
	summary, err := e.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Elected) != 1 || summary.Elected[0] != 5 {
		t.Errorf("elected = %v, want [5]", summary.Elected)
	}

	var sawBulkTie bool
	for _, ctx := range contexts {
		if ctx == tiebreak.BulkExclusionOrderTie {
			sawBulkTie = true
		}
	}
	if !sawBulkTie {
		t.Fatalf("oracle contexts = %v, expected a bulk_exclusion_order_tie consultation", contexts)
	}

	// The oracle picked highest id first, so the exclusion order among
	// the tied batch is 3, 2, 1.
	wantOrder := map[int]int{3: 1, 2: 2, 1: 3}
	for id, order := range wantOrder {
		st := e.State(id)
		if st.Status != count.Excluded || st.Order != order {
			t.Errorf("candidate %d: status %v order %d, want excluded with order %d", id, st.Status, st.Order, order)
		}
	}
}

// Law: replay idempotence (spec.md §8). The same input and the same
// oracle decisions produce byte-identical transcripts across
// independent runs.
func TestReplayIdempotence(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2, 3, 4),
		Vacancies:  2,
		Ballots: []ballot.RawBallot{
			rb(10, 1),
			rb(2, 2),
			rb(2, 3),
			rb(4, 4),
		},
	}

	runOnce := func() []byte {
		e := mustNew(t, input, tiebreak.LowestID{})
		if _, err := e.Run(); err != nil {
			t.Fatalf("Run: %v", err)
		}
		bs, err := json.Marshal(e.Transcript())
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return bs
	}

	first := runOnce()
	second := runOnce()
	if !bytes.Equal(first, second) {
		t.Errorf("two runs over identical inputs produced different transcripts:\n%s\n%s", first, second)
	}
}

// Law: re-labelling invariance (spec.md §8). Renaming candidate ids
// consistently (order-preserving, so the deterministic lowest-id tie
// rule stays consistent too) yields the same elected set in the same
// order, modulo the renaming.
func TestRelabelingInvariance(t *testing.T) {
	relabel := func(id int) int { return id*10 + 7 }

	base := count.Input{
		Candidates: candidates(1, 2, 3),
		Vacancies:  2,
		Ballots: []ballot.RawBallot{
			rb(70, 1, 2),
			rb(30, 3),
		},
	}
	renamed := count.Input{
		Candidates: candidates(relabel(1), relabel(2), relabel(3)),
		Vacancies:  2,
		Ballots: []ballot.RawBallot{
			rb(70, relabel(1), relabel(2)),
			rb(30, relabel(3)),
		},
	}

	baseSummary, err := mustNew(t, base, tiebreak.LowestID{}).Run()
	if err != nil {
		t.Fatalf("Run(base): %v", err)
	}
	renamedSummary, err := mustNew(t, renamed, tiebreak.LowestID{}).Run()
	if err != nil {
		t.Fatalf("Run(renamed): %v", err)
	}

	if len(baseSummary.Elected) != len(renamedSummary.Elected) {
		t.Fatalf("elected lengths differ: %v vs %v", baseSummary.Elected, renamedSummary.Elected)
	}
	for i, id := range baseSummary.Elected {
		if renamedSummary.Elected[i] != relabel(id) {
			t.Errorf("elected[%d] = %d, want %d (relabelled %d)", i, renamedSummary.Elected[i], relabel(id), id)
		}
	}
}

// Law: TV cap (spec.md §8). No transfer ever leaves a candidate at a
// higher value than any parcel that candidate received; walking the
// transcript, each source's outgoing transfer value stays at or below
// the highest value that ever arrived at them (1 for first
// preferences).
func TestTransferValueNeverExceedsIncoming(t *testing.T) {
	input := count.Input{
		Candidates: candidates(1, 2, 3, 4), // chained surpluses: A elects B, B's surplus moves on
		Vacancies:  3,
		Ballots: []ballot.RawBallot{
			rb(70, 1, 2),
			rb(20, 3, 1),
			rb(10, 2, 3),
		},
	}
	e := mustNew(t, input, tiebreak.LowestID{})
	if _, err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	maxIncoming := make(map[int]rational.Rational)
	for _, id := range []int{1, 2, 3, 4} {
		maxIncoming[id] = rational.One // first-preference parcels arrive at TV=1
	}
	for _, rec := range e.Transcript() {
		for _, tr := range rec.Transfers {
			if rational.Cmp(tr.TransferValue, maxIncoming[tr.From]) > 0 {
				t.Errorf("round %d: transfer from %d at TV %s exceeds their highest incoming TV %s",
					rec.Number, tr.From, tr.TransferValue, maxIncoming[tr.From])
			}
			for _, pm := range tr.ParcelsMoved {
				if rational.Cmp(tr.TransferValue, maxIncoming[pm.To]) > 0 {
					maxIncoming[pm.To] = tr.TransferValue
				}
			}
		}
	}
}
