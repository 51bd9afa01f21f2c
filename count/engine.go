package count

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/opencount/senate-stv/ballot"
	"github.com/opencount/senate-stv/parcel"
	"github.com/opencount/senate-stv/rational"
	"github.com/opencount/senate-stv/tiebreak"
)

// Engine is the round-by-round count state machine (spec.md §4.4). It
// is built once via New and advanced with repeated calls to Step, or
// driven to completion in one call with Run. All state is private;
// callers observe the count through the RoundRecord transcript and the
// read-only accessors (Phase, Quota, State, Summary, Transcript).
type Engine struct {
	cfg    Config
	index  *ballot.Index
	ledger *parcel.Ledger

	vacancies int
	quota     rational.Rational
	round     int
	phase     Phase

	states         map[int]CandidateState
	electedCount   int
	excludedCount  int
	pendingSurplus map[int]bool
	bulkQueue      []int
	bulkBatchNote  string

	totalWeight   rational.Rational
	exhaustedPile rational.Rational
	retainedQuota rational.Rational

	transcript []RoundRecord
}

// New builds an engine ready to count the given input. It validates
// the input and builds the ballot index but performs no counting; the
// first call to Step (or Run) executes round 1.
func New(input Input, cfg Config) (*Engine, error) {
	if cfg.Oracle == nil {
		return nil, inputRejected("config.Oracle is required")
	}
	if input.Vacancies <= 0 {
		return nil, inputRejected("vacancies must be positive")
	}
	if input.Vacancies >= len(input.Candidates) {
		return nil, inputRejected("vacancies must be fewer than candidates")
	}
	if len(input.Ballots) == 0 {
		return nil, inputRejected("no formal ballots")
	}

	idx, err := ballot.NewIndex(input.Candidates, input.Ballots)
	if err != nil {
		return nil, inputRejected(err.Error())
	}

	states := make(map[int]CandidateState, len(input.Candidates))
	for _, c := range input.Candidates {
		states[c.ID] = CandidateState{Status: Hopeful}
	}

	return &Engine{
		cfg:            cfg,
		index:          idx,
		ledger:         parcel.New(),
		vacancies:      input.Vacancies,
		phase:          AwaitingStart,
		states:         states,
		pendingSurplus: make(map[int]bool),
		totalWeight:    idx.TotalWeight(),
		exhaustedPile:  rational.Zero,
		retainedQuota:  rational.Zero,
	}, nil
}

// Phase reports the engine's current coarse state.
func (e *Engine) Phase() Phase { return e.phase }

// Quota reports the Droop quota, valid once round 1 has run.
func (e *Engine) Quota() rational.Rational { return e.quota }

// Transcript returns a copy of every round recorded so far.
func (e *Engine) Transcript() []RoundRecord {
	return append([]RoundRecord(nil), e.transcript...)
}

// State reports a candidate's current status.
func (e *Engine) State(candidateID int) CandidateState {
	return e.states[candidateID]
}

// Summary reports the terminal outcome built from the engine's current
// state. Meaningful once Phase() == Completed; callers driving the
// engine round-by-round via Step (rather than Run) call this after the
// final round instead of relying on Run's return value.
func (e *Engine) Summary() Summary { return e.summary() }

// Run advances the engine to completion, returning the final summary.
// It stops at the first error, which already carries the transcript
// accumulated up to the failure.
func (e *Engine) Run() (Summary, error) {
	for e.phase != Completed {
		if _, err := e.Step(); err != nil {
			return Summary{}, err
		}
	}
	return e.summary(), nil
}

func (e *Engine) summary() Summary {
	type oc struct {
		id    int
		order int
	}
	var ocs []oc
	for _, id := range e.index.CandidateIDs() {
		if st := e.states[id]; st.Status == Elected {
			ocs = append(ocs, oc{id, st.Order})
		}
	}
	sort.Slice(ocs, func(i, j int) bool { return ocs[i].order < ocs[j].order })

	elected := make([]int, len(ocs))
	for i, o := range ocs {
		elected[i] = o.id
	}
	return Summary{
		TotalFormal: e.totalWeight,
		Quota:       e.quota,
		Vacancies:   e.vacancies,
		Elected:     elected,
		TotalRounds: e.round,
	}
}

// Step executes exactly one primary action (spec.md §4.4) and returns
// the round record it produced. It chooses the highest-priority action
// that currently applies:
//
//  1. initial distribution (round 1 only)
//  2. declare elected (any hopeful at or above quota)
//  3. distribute surplus (largest surplus first)
//  4. bulk exclusion (§273(13))
//  5. single exclusion (lowest continuing tally, with mid-exclusion
//     checkpointing)
//  6. last-vacancy rule
//  7. exhaust-all-elected rule (terminal failure: cannot fill every
//     vacancy)
//
// The last-vacancy rule (6) is checked ahead of the exclusions (4, 5):
// right after surplus distribution when
// Config.DistributeSurplusBeforeLastVacancy is true, and before
// declare elected (2) when it is false.
func (e *Engine) Step() (*RoundRecord, error) {
	if e.phase == Completed {
		return nil, degenerateCount(e.transcript, "Step called after the count completed")
	}
	if e.phase == AwaitingStart {
		return e.initialDistribution()
	}

	if !e.cfg.DistributeSurplusBeforeLastVacancy {
		if rec, acted, err := e.tryLastVacancy(); err != nil || acted {
			return rec, err
		}
	}

	if rec, acted, err := e.tryDeclareElectedRound(); err != nil || acted {
		return rec, err
	}
	if rec, acted, err := e.tryDistributeSurplus(); err != nil || acted {
		return rec, err
	}

	if e.cfg.DistributeSurplusBeforeLastVacancy {
		if rec, acted, err := e.tryLastVacancy(); err != nil || acted {
			return rec, err
		}
	}

	if rec, acted, err := e.tryBulkExclusion(); err != nil || acted {
		return rec, err
	}
	if rec, acted, err := e.trySingleExclusion(); err != nil || acted {
		return rec, err
	}
	if rec, acted, err := e.tryExhaustAll(); err != nil || acted {
		return rec, err
	}
	return nil, degenerateCount(e.transcript, "no primary action applicable; count cannot progress")
}

func (e *Engine) newRecord(n int) *RoundRecord {
	return &RoundRecord{Number: n}
}

// finishRound fills in the tally/paper snapshot, checks the between-
// round invariants (spec.md §8), commits the round to the transcript,
// and flips the engine to Completed once every vacancy is filled.
func (e *Engine) finishRound(rec *RoundRecord) error {
	e.fillTallies(rec)
	if err := e.checkInvariants(); err != nil {
		return err
	}
	e.transcript = append(e.transcript, *rec)
	if e.electedCount == e.vacancies {
		e.phase = Completed
	}
	return nil
}

func (e *Engine) fillTallies(rec *RoundRecord) {
	rec.TalliesAfter = make(map[int]rational.Rational, len(e.states))
	rec.PapersAfter = make(map[int]rational.Rational, len(e.states))
	for _, id := range e.index.CandidateIDs() {
		rec.TalliesAfter[id] = e.ledger.Tally(id)
		rec.PapersAfter[id] = e.ledger.Papers(id)
	}
}

func (e *Engine) checkInvariants() error {
	held := rational.Zero
	for _, id := range e.index.CandidateIDs() {
		held = rational.Add(held, e.ledger.Tally(id))
	}
	settled := rational.Add(e.exhaustedPile, e.retainedQuota)
	if err := weightConservationCheck(e.totalWeight, held, settled); err != nil {
		return invariantViolation(e.transcript, "weight-conservation", err.Error())
	}
	for _, id := range e.index.CandidateIDs() {
		st := e.states[id]
		if st.Status == Excluded && e.ledger.HasParcels(id) {
			return invariantViolation(e.transcript, "excluded-holds-no-parcels",
				fmt.Sprintf("candidate %d is excluded but still holds parcels", id))
		}
		// An elected candidate with a pending surplus legitimately still
		// holds it (either awaiting tryDistributeSurplus, or a final seat
		// whose surplus will never be distributed because the count is
		// already complete); once that surplus is resolved, or for a
		// candidate elected outright under the last-vacancy rule (which
		// drains on the spot, spec.md §3/§8), no Elected candidate may
		// hold any parcel.
		if st.Status == Elected && !e.pendingSurplus[id] && e.ledger.HasParcels(id) {
			return invariantViolation(e.transcript, "elected-holds-no-parcels",
				fmt.Sprintf("candidate %d is elected but still holds parcels", id))
		}
	}
	return nil
}

func (e *Engine) computeQuota() rational.Rational {
	denom := rational.FromInt(int64(e.vacancies + 1))
	q := rational.Div(e.totalWeight, denom)
	floor, _ := q.Floor()
	return rational.Add(rational.FromBigInts(floor, big.NewInt(1)), rational.One)
}

// initialDistribution is primary action 1 (spec.md §4.4): it always
// runs as round 1, counting first preferences and fixing the quota.
func (e *Engine) initialDistribution() (*RoundRecord, error) {
	dist := e.index.InitialDistribution()
	for _, id := range e.index.CandidateIDs() {
		if p, ok := dist[id]; ok {
			e.ledger.Append(id, p)
		}
	}

	e.quota = e.computeQuota()
	e.round = 1
	e.phase = InRound

	rec := e.newRecord(e.round)
	rec.Note = append(rec.Note, fmt.Sprintf("first-preference count; quota = %s", e.quota))

	if err := e.declareElected(rec); err != nil {
		return nil, err
	}
	if err := e.finishRound(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// declareElected is primary action 2 (spec.md §4.4): every hopeful
// candidate whose tally has reached or passed quota is declared
// elected, highest tally first, until either none remain or every
// vacancy is filled.
func (e *Engine) declareElected(rec *RoundRecord) error {
	for {
		var reaching []int
		for _, id := range e.index.CandidateIDs() {
			if e.states[id].Status != Hopeful {
				continue
			}
			if rational.GreaterThanOrEqual(e.ledger.Tally(id), e.quota) {
				reaching = append(reaching, id)
			}
		}
		if len(reaching) == 0 {
			return nil
		}

		best := reaching[0]
		for _, id := range reaching[1:] {
			if rational.Cmp(e.ledger.Tally(id), e.ledger.Tally(best)) > 0 {
				best = id
			}
		}
		var tied []int
		for _, id := range reaching {
			if rational.Equal(e.ledger.Tally(id), e.ledger.Tally(best)) {
				tied = append(tied, id)
			}
		}

		chosen := best
		if len(tied) > 1 {
			sort.Ints(tied)
			id, err := e.cfg.Oracle.Resolve(e.round, tiebreak.ElectionOrderTie, tied)
			if err != nil {
				return tieUnresolved(e.transcript, err)
			}
			chosen = id
		}

		e.electedCount++
		e.states[chosen] = CandidateState{Status: Elected, Order: e.electedCount, Round: e.round}
		e.pendingSurplus[chosen] = true
		rec.Elected = append(rec.Elected, ElectedEntry{CandidateID: chosen, Order: e.electedCount})

		if e.electedCount == e.vacancies {
			return nil
		}
	}
}

// tryDeclareElectedRound is a safety net for primary action 2: under
// normal operation every transfer already checkpoints quota-reaching
// candidates inline, so this should find nothing to do.
func (e *Engine) tryDeclareElectedRound() (*RoundRecord, bool, error) {
	any := false
	for _, id := range e.index.CandidateIDs() {
		if e.states[id].Status == Hopeful && rational.GreaterThanOrEqual(e.ledger.Tally(id), e.quota) {
			any = true
			break
		}
	}
	if !any {
		return nil, false, nil
	}

	e.round++
	rec := e.newRecord(e.round)
	rec.Note = append(rec.Note, "declare elected")
	if err := e.declareElected(rec); err != nil {
		return nil, true, err
	}
	if err := e.finishRound(rec); err != nil {
		return nil, true, err
	}
	return rec, true, nil
}

// pickSurplusCandidate chooses the elected candidate with the largest
// undistributed surplus (spec.md §4.4's priority 3). Equal surpluses
// are settled by the largest tally in the most recent round where the
// tied candidates differed; only if every round is tied is the oracle
// consulted.
func (e *Engine) pickSurplusCandidate() (int, bool, error) {
	var candidates []int
	for _, id := range e.index.CandidateIDs() {
		if e.pendingSurplus[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return 0, false, nil
	}

	surplusOf := func(id int) rational.Rational { return rational.Sub(e.ledger.Tally(id), e.quota) }
	best := candidates[0]
	for _, id := range candidates[1:] {
		if rational.Cmp(surplusOf(id), surplusOf(best)) > 0 {
			best = id
		}
	}
	var tied []int
	for _, id := range candidates {
		if rational.Equal(surplusOf(id), surplusOf(best)) {
			tied = append(tied, id)
		}
	}
	if len(tied) <= 1 {
		return best, true, nil
	}
	for i := len(e.transcript) - 1; i >= 0; i-- {
		tallies := e.transcript[i].TalliesAfter
		highest := tied[0]
		distinct := false
		for _, id := range tied[1:] {
			if !rational.Equal(tallies[id], tallies[highest]) {
				distinct = true
			}
			if rational.Cmp(tallies[id], tallies[highest]) > 0 {
				highest = id
			}
		}
		if distinct {
			return highest, true, nil
		}
	}
	sort.Ints(tied)
	chosen, err := e.cfg.Oracle.Resolve(e.round+1, tiebreak.SurplusOrderTie, tied)
	if err != nil {
		return 0, false, tieUnresolved(e.transcript, err)
	}
	return chosen, true, nil
}

// tryDistributeSurplus is primary action 3. The transfer value's
// divisor (B_transferable) is always the last-received parcel's
// ballot count, per spec.md §4.1. A candidate can reach quota while
// still holding earlier parcels received in prior rounds (it stayed
// Hopeful, below quota, until the last-received parcel tipped it
// over); only that last parcel's transfer value is computed and moved
// on, but every parcel the candidate holds — the last one's remainder
// and anything received earlier — is retired into retainedQuota here,
// so that once this function returns the candidate, now settled, holds
// no parcels at all (spec.md §3/§8).
func (e *Engine) tryDistributeSurplus() (*RoundRecord, bool, error) {
	chosen, ok, err := e.pickSurplusCandidate()
	if err != nil {
		return nil, true, err
	}
	if !ok {
		return nil, false, nil
	}

	e.round++
	rec := e.newRecord(e.round)

	tallyBefore := e.ledger.Tally(chosen)
	surplus := rational.Sub(tallyBefore, e.quota)

	p, ok := e.ledger.DrainLast(chosen)
	if !ok {
		return nil, true, invariantViolation(e.transcript, "surplus-source-exists",
			fmt.Sprintf("candidate %d has a pending surplus but holds no parcels", chosen))
	}
	b := p.Weight()
	if b.IsZero() {
		return nil, true, invariantViolation(e.transcript, "positive-transferable-ballots",
			fmt.Sprintf("candidate %d's surplus parcel has zero transferable ballots", chosen))
	}

	computed := rational.Div(surplus, b)
	outTV := rational.Min(p.TV, computed)
	outgoing := ballot.Parcel{TV: outTV, Entries: p.Entries}

	// The value left behind from the distributed parcel (its incoming
	// value minus what moves on), plus the full value of any other
	// parcel this candidate was still holding, is permanently retired
	// from circulation (spec.md §8's weight conservation law accounts
	// for it as "retained quota", not as a live parcel or as exhausted).
	// In the common case — the distributed parcel alone carries the
	// whole surplus — this sums to exactly one quota; see DESIGN.md.
	retained := rational.Sub(p.Tally(), rational.Mul(b, outTV))
	for _, other := range e.ledger.DrainAll(chosen) {
		retained = rational.Add(retained, other.Tally())
	}
	e.retainedQuota = rational.Add(e.retainedQuota, retained)

	e.applyTransfer(rec, chosen, outgoing)
	delete(e.pendingSurplus, chosen)
	rec.Note = append(rec.Note, fmt.Sprintf("distribute surplus of candidate %d (surplus %s, TV %s)", chosen, surplus, outTV))

	if err := e.declareElected(rec); err != nil {
		return nil, true, err
	}
	if err := e.finishRound(rec); err != nil {
		return nil, true, err
	}
	return rec, true, nil
}

// applyTransfer partitions a single parcel among continuing candidates
// and records the resulting sub-parcel movements (spec.md §4.2, §6).
func (e *Engine) applyTransfer(rec *RoundRecord, from int, p ballot.Parcel) {
	continuing := func(id int) bool { return e.states[id].Status == Hopeful }
	recipients, exhausted := e.index.Advance(p, continuing)

	tr := Transfer{From: from, TransferValue: p.TV, Exhausted: rational.Zero}
	for _, id := range e.index.CandidateIDs() {
		rp, ok := recipients[id]
		if !ok {
			continue
		}
		e.ledger.Append(id, rp)
		tr.ParcelsMoved = append(tr.ParcelsMoved, ParcelMove{To: id, Ballots: rp.Weight(), Weighted: rp.Tally()})
	}

	exWeight := exhausted.Weight()
	tr.Exhausted = exWeight
	e.exhaustedPile = rational.Add(e.exhaustedPile, rational.Mul(exWeight, p.TV))
	rec.Transfers = append(rec.Transfers, tr)
}

// continuingSorted returns every hopeful candidate, ascending by
// tally, ties broken by ascending candidate id.
func (e *Engine) continuingSorted() []int {
	var ids []int
	for _, id := range e.index.CandidateIDs() {
		if e.states[id].Status == Hopeful {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		ti, tj := e.ledger.Tally(ids[i]), e.ledger.Tally(ids[j])
		if rational.Equal(ti, tj) {
			return ids[i] < ids[j]
		}
		return rational.LessThan(ti, tj)
	})
	return ids
}

// findBulkExclusionBatch implements the chosen §273(13) reading
// (DESIGN.md): the largest k for which the combined tally of the
// bottom-k continuing candidates is strictly less than the (k+1)-th
// candidate's tally. A batch of size 1 is not worth treating as
// "bulk"; that case falls through to ordinary single exclusion. Step's
// priority order always drains any pending surplus (action 3) before
// bulk exclusion (action 4) is even attempted, so "also less than any
// undistributed surplus" is automatically satisfied here and isn't
// checked separately — see DESIGN.md. combined and nextID (the
// (k+1)-th candidate) are returned alongside the batch so the round
// note can cite the actual figures.
func (e *Engine) findBulkExclusionBatch() (batch []int, combined rational.Rational, nextID int) {
	continuing := e.continuingSorted()
	if len(continuing) < 2 {
		return nil, rational.Zero, 0
	}
	best := 0
	bestSum := rational.Zero
	sumBottom := rational.Zero
	for k := 1; k < len(continuing); k++ {
		sumBottom = rational.Add(sumBottom, e.ledger.Tally(continuing[k-1]))
		if rational.LessThan(sumBottom, e.ledger.Tally(continuing[k])) {
			best = k
			bestSum = sumBottom
		}
	}
	if best < 2 {
		return nil, rational.Zero, 0
	}
	return append([]int(nil), continuing[:best]...), bestSum, continuing[best]
}

// tryBulkExclusion is primary action 4. A discovered batch is worked
// off one candidate per round (lowest tally first), each round tagged
// with a shared note, so every round record still names at most one
// excluded candidate (spec.md §6).
func (e *Engine) tryBulkExclusion() (*RoundRecord, bool, error) {
	// A queued candidate can stop being Hopeful mid-batch (elected off
	// a redistribution from an earlier batch member); they are simply
	// no longer excludable.
	for len(e.bulkQueue) > 0 && e.states[e.bulkQueue[0]].Status != Hopeful {
		e.bulkQueue = e.bulkQueue[1:]
	}
	if len(e.bulkQueue) == 0 {
		batch, combined, nextID := e.findBulkExclusionBatch()
		if len(batch) < 2 {
			return nil, false, nil
		}
		ordered, err := e.orderBatchAscendingTally(batch)
		if err != nil {
			return nil, true, err
		}
		e.bulkQueue = ordered
		e.bulkBatchNote = fmt.Sprintf("bulk exclusion (§273(13)): candidates %v (combined %s < %s, next candidate %d)",
			ordered, combined, e.ledger.Tally(nextID), nextID)
	}

	candidateID := e.bulkQueue[0]
	e.bulkQueue = e.bulkQueue[1:]

	e.round++
	rec := e.newRecord(e.round)
	rec.Note = append(rec.Note, fmt.Sprintf("%s; excluding candidate %d", e.bulkBatchNote, candidateID))
	if err := e.excludeCandidate(rec, candidateID); err != nil {
		return nil, true, err
	}
	if err := e.finishRound(rec); err != nil {
		return nil, true, err
	}
	return rec, true, nil
}

// resolveExclusionTieByHistory applies the statutory predecessor-round
// rule (spec.md §4.5): candidates tied for lowest tally are ranked by
// their tally in the most recent round where they differed. Only if
// every prior round (back to round 1) is also tied does it fall back
// to the oracle.
func (e *Engine) resolveExclusionTieByHistory(tied []int) (int, error) {
	for i := len(e.transcript) - 1; i >= 0; i-- {
		tallies := e.transcript[i].TalliesAfter
		lowest := tied[0]
		distinct := false
		for _, id := range tied[1:] {
			if !rational.Equal(tallies[id], tallies[lowest]) {
				distinct = true
			}
			if rational.LessThan(tallies[id], tallies[lowest]) {
				lowest = id
			}
		}
		if distinct {
			return lowest, nil
		}
	}
	sorted := append([]int(nil), tied...)
	sort.Ints(sorted)
	id, err := e.cfg.Oracle.Resolve(e.round+1, tiebreak.ExclusionTie, sorted)
	if err != nil {
		return 0, tieUnresolved(e.transcript, err)
	}
	return id, nil
}

// excludeCandidate is the shared mechanics of single and bulk
// exclusion: the candidate is marked Excluded, then every parcel they
// hold is drained ascending by TV and redistributed one at a time,
// with a quota re-check (mid-exclusion checkpoint) after each parcel
// before the next one moves (spec.md §4.4's mandatory checkpointing).
func (e *Engine) excludeCandidate(rec *RoundRecord, id int) error {
	e.excludedCount++
	e.states[id] = CandidateState{Status: Excluded, Order: e.excludedCount, Round: e.round}
	rec.Excluded = &ExcludedEntry{CandidateID: id, Order: e.excludedCount}

	for _, p := range e.ledger.DrainAll(id) {
		e.applyTransfer(rec, id, p)
		if err := e.declareElected(rec); err != nil {
			return err
		}
	}
	return nil
}

// trySingleExclusion is primary action 5: the lowest continuing tally
// is excluded, unless a larger bulk batch (action 4) already claimed
// it this round.
func (e *Engine) trySingleExclusion() (*RoundRecord, bool, error) {
	continuing := e.continuingSorted()
	if len(continuing) == 0 {
		return nil, false, nil
	}

	lowest := continuing[0]
	var tied []int
	for _, id := range continuing {
		if rational.Equal(e.ledger.Tally(id), e.ledger.Tally(lowest)) {
			tied = append(tied, id)
		} else {
			break
		}
	}

	chosen := lowest
	if len(tied) > 1 {
		resolved, err := e.resolveExclusionTieByHistory(tied)
		if err != nil {
			return nil, true, err
		}
		chosen = resolved
	}

	e.round++
	rec := e.newRecord(e.round)
	rec.Note = append(rec.Note, fmt.Sprintf("exclude candidate %d (lowest continuing tally)", chosen))
	if err := e.excludeCandidate(rec, chosen); err != nil {
		return nil, true, err
	}
	if err := e.finishRound(rec); err != nil {
		return nil, true, err
	}
	return rec, true, nil
}

func (e *Engine) continuingCount() int {
	n := 0
	for _, id := range e.index.CandidateIDs() {
		if e.states[id].Status == Hopeful {
			n++
		}
	}
	return n
}

func (e *Engine) remainingVacancies() int { return e.vacancies - e.electedCount }

// orderBatchAscendingTally turns a bulk-exclusion batch into its
// exclusion order: ascending by current tally, ties resolved by the
// oracle (spec.md §4.4's action 4). batch arrives from continuingSorted
// already ascending, so only equal-tally runs need the oracle.
func (e *Engine) orderBatchAscendingTally(batch []int) ([]int, error) {
	var out []int
	for i := 0; i < len(batch); {
		j := i
		for j < len(batch) && rational.Equal(e.ledger.Tally(batch[j]), e.ledger.Tally(batch[i])) {
			j++
		}
		group := batch[i:j]
		if len(group) > 1 {
			resolved, err := e.orderByOracle(group, tiebreak.BulkExclusionOrderTie, e.round+1)
			if err != nil {
				return nil, err
			}
			group = resolved
		}
		out = append(out, group...)
		i = j
	}
	return out, nil
}

// orderByOracle repeatedly consults the oracle to turn a tied group
// into a strict order, one winner at a time.
func (e *Engine) orderByOracle(group []int, ctx tiebreak.Context, round int) ([]int, error) {
	remaining := append([]int(nil), group...)
	var out []int
	for len(remaining) > 1 {
		sort.Ints(remaining)
		chosen, err := e.cfg.Oracle.Resolve(round, ctx, remaining)
		if err != nil {
			return nil, tieUnresolved(e.transcript, err)
		}
		out = append(out, chosen)
		filtered := remaining[:0]
		for _, id := range remaining {
			if id != chosen {
				filtered = append(filtered, id)
			}
		}
		remaining = filtered
	}
	return append(out, remaining...), nil
}

// electUnderLastVacancy marks a candidate Elected under the
// last-vacancy rule and immediately retires every parcel they hold:
// the rule elects "without further transfers" (spec.md §4.4(6)/(7)), so
// nothing will ever drain them later the way tryDistributeSurplus
// drains a quota-reaching candidate. Their held value (which may sit
// below quota) is folded into retainedQuota so the settled candidate,
// like any other Elected candidate, holds no parcels (spec.md §3/§8).
func (e *Engine) electUnderLastVacancy(rec *RoundRecord, id int) {
	e.electedCount++
	e.states[id] = CandidateState{Status: Elected, Order: e.electedCount, Round: e.round}
	rec.Elected = append(rec.Elected, ElectedEntry{CandidateID: id, Order: e.electedCount})
	for _, p := range e.ledger.DrainAll(id) {
		e.retainedQuota = rational.Add(e.retainedQuota, p.Tally())
	}
}

// lastVacancyTwoForOne implements spec.md §4.4(6)/boundary scenario 5:
// when exactly one vacancy remains and exactly two candidates remain
// continuing, the higher tally is elected immediately without further
// transfers — distinct from the broader continuing<=remaining
// shortcut below, which only fires once continuing has shrunk to fit
// every remaining seat.
func (e *Engine) lastVacancyTwoForOne(continuing []int) (*RoundRecord, bool, error) {
	lower, higher := continuing[0], continuing[1]
	chosen := higher
	if rational.Equal(e.ledger.Tally(lower), e.ledger.Tally(higher)) {
		resolved, err := e.orderByOracle([]int{lower, higher}, tiebreak.LastVacancyTie, e.round+1)
		if err != nil {
			return nil, true, err
		}
		chosen = resolved[0]
	}

	e.round++
	rec := e.newRecord(e.round)
	rec.Note = append(rec.Note, fmt.Sprintf(
		"last-vacancy rule: one seat remains with two continuing candidates; candidate %d elected on higher tally without further transfers", chosen))

	e.electUnderLastVacancy(rec, chosen)

	if err := e.finishRound(rec); err != nil {
		return nil, true, err
	}
	return rec, true, nil
}

// tryLastVacancy is primary action 6: once the number of continuing
// candidates no longer exceeds the number of remaining vacancies,
// every continuing candidate can be declared elected without further
// counting (spec.md §4.4). Config.DistributeSurplusBeforeLastVacancy
// decides whether this is checked before or after surplus
// distribution each round (DESIGN.md's Open Question resolution).
func (e *Engine) tryLastVacancy() (*RoundRecord, bool, error) {
	remaining := e.remainingVacancies()
	if remaining <= 0 {
		return nil, false, nil
	}
	continuing := e.continuingSorted()
	if len(continuing) == 0 {
		return nil, false, nil
	}
	if remaining == 1 && len(continuing) == 2 {
		return e.lastVacancyTwoForOne(continuing)
	}
	if len(continuing) > remaining {
		return nil, false, nil
	}

	e.round++
	rec := e.newRecord(e.round)
	rec.Note = append(rec.Note, "last-vacancy rule: remaining continuing candidates fill every remaining vacancy")

	ordered := append([]int(nil), continuing...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rational.LessThan(e.ledger.Tally(ordered[j]), e.ledger.Tally(ordered[i]))
	})

	for i := 0; i < len(ordered); {
		j := i
		for j < len(ordered) && rational.Equal(e.ledger.Tally(ordered[j]), e.ledger.Tally(ordered[i])) {
			j++
		}
		group := ordered[i:j]
		if len(group) > 1 {
			resolved, err := e.orderByOracle(group, tiebreak.LastVacancyTie, e.round)
			if err != nil {
				return nil, true, err
			}
			group = resolved
		}
		for _, id := range group {
			e.electUnderLastVacancy(rec, id)
		}
		i = j
	}

	if err := e.finishRound(rec); err != nil {
		return nil, true, err
	}
	return rec, true, nil
}

// tryExhaustAll is primary action 7: the terminal failure case where
// every continuing candidate has been excluded but vacancies remain
// unfilled (every remaining ballot has exhausted). This is fatal:
// there is no statutory mechanism to manufacture a winner from no
// continuing candidates.
func (e *Engine) tryExhaustAll() (*RoundRecord, bool, error) {
	if e.continuingCount() > 0 || e.remainingVacancies() <= 0 {
		return nil, false, nil
	}
	return nil, true, degenerateCount(e.transcript, "every continuing candidate was excluded before all vacancies were filled")
}
