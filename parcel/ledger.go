// Package parcel implements the per-candidate parcel ledger (spec.md
// §4.3): an ordered collection of ballot parcels credited to a
// candidate, each tagged with the transfer value it arrived at.
// Insertion order ("order of receipt") is a first-class, preserved
// ordering, not an incidental slice order.
package parcel

import (
	"sort"

	"github.com/opencount/senate-stv/ballot"
	"github.com/opencount/senate-stv/rational"
)

// entry pairs a parcel with the sequence number it was received at, so
// that a stable sort by ascending TV can still break ties by receipt
// order (spec.md §4.3).
type entry struct {
	seq    int
	parcel ballot.Parcel
}

// Ledger holds one ordered parcel list per candidate.
type Ledger struct {
	byCandidate map[int][]entry
	nextSeq     int
}

// New builds an empty ledger.
func New() *Ledger {
	return &Ledger{byCandidate: make(map[int][]entry)}
}

// Append adds a parcel to a candidate's list, in receipt order.
func (l *Ledger) Append(candidateID int, p ballot.Parcel) {
	l.byCandidate[candidateID] = append(l.byCandidate[candidateID], entry{seq: l.nextSeq, parcel: p})
	l.nextSeq++
}

// DrainLast removes and returns the most recently received parcel for a
// candidate (used for surplus distribution under the 2016+ rules,
// spec.md §4.3). The second return value is false if the candidate
// holds no parcels.
func (l *Ledger) DrainLast(candidateID int) (ballot.Parcel, bool) {
	entries := l.byCandidate[candidateID]
	if len(entries) == 0 {
		return ballot.Parcel{}, false
	}
	last := entries[len(entries)-1]
	l.byCandidate[candidateID] = entries[:len(entries)-1]
	return last.parcel, true
}

// DrainAll removes and returns every parcel held by a candidate, sorted
// ascending by transfer value, ties broken by order of receipt (spec.md
// §4.3's "order of receipt" rule, used for exclusions).
func (l *Ledger) DrainAll(candidateID int) []ballot.Parcel {
	entries := l.byCandidate[candidateID]
	delete(l.byCandidate, candidateID)

	sort.SliceStable(entries, func(i, j int) bool {
		return rational.LessThan(entries[i].parcel.TV, entries[j].parcel.TV)
	})

	out := make([]ballot.Parcel, len(entries))
	for i, e := range entries {
		out[i] = e.parcel
	}
	return out
}

// Tally returns a candidate's current live total: the sum of
// weight*TV across every parcel they currently hold (spec.md §3).
func (l *Ledger) Tally(candidateID int) rational.Rational {
	total := rational.Zero
	for _, e := range l.byCandidate[candidateID] {
		total = rational.Add(total, e.parcel.Tally())
	}
	return total
}

// Papers returns a candidate's current unweighted ballot count (the
// "papers_after" field of spec.md §6): the sum of entry weights,
// ignoring TV.
func (l *Ledger) Papers(candidateID int) rational.Rational {
	total := rational.Zero
	for _, e := range l.byCandidate[candidateID] {
		total = rational.Add(total, e.parcel.Weight())
	}
	return total
}

// Parcels returns a read-only snapshot of a candidate's current
// parcels, in receipt order.
func (l *Ledger) Parcels(candidateID int) []ballot.Parcel {
	entries := l.byCandidate[candidateID]
	out := make([]ballot.Parcel, len(entries))
	for i, e := range entries {
		out[i] = e.parcel
	}
	return out
}

// HasParcels reports whether a candidate currently holds any parcels.
func (l *Ledger) HasParcels(candidateID int) bool {
	return len(l.byCandidate[candidateID]) > 0
}
