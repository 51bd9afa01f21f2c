package ballot

import "github.com/opencount/senate-stv/rational"

// Entry is one sub-bundle of ballots within a Parcel: all ballots that
// belong to the same preference Group and whose scan pointer currently
// sits at the same NextIndex (the position in the preference sequence
// to resume looking for a continuing candidate from).
type Entry struct {
	Group     GroupID
	NextIndex int
	Weight    rational.Rational
}

// Parcel is a multiset of ballots that arrived at a candidate together,
// all sharing one transfer value (spec.md §3).
type Parcel struct {
	TV      rational.Rational
	Entries []Entry
}

// Weight returns the parcel's total ballot-count weight (unweighted by
// TV): the sum of every entry's multiplicity. This is the denominator
// used by surplus calculations (spec.md §4.1's "B_transferable").
func (p Parcel) Weight() rational.Rational {
	total := rational.Zero
	for _, e := range p.Entries {
		total = rational.Add(total, e.Weight)
	}
	return total
}

// Tally returns the parcel's contribution to a candidate's live total:
// weight * TV.
func (p Parcel) Tally() rational.Rational {
	return rational.Mul(p.Weight(), p.TV)
}

// InitialDistribution builds the first-preference parcels at TV=1
// (spec.md §4.2).
func (idx *Index) InitialDistribution() map[int]Parcel {
	byCandidate := make(map[int][]Entry)
	for _, g := range idx.groups {
		first := g.Preferences[0]
		byCandidate[first] = append(byCandidate[first], Entry{
			Group:     g.ID,
			NextIndex: 1,
			Weight:    g.Weight,
		})
	}

	out := make(map[int]Parcel, len(byCandidate))
	for id, entries := range byCandidate {
		out[id] = Parcel{TV: rational.One, Entries: entries}
	}
	return out
}

// Advance partitions a parcel by next continuing preference. For each
// entry, it walks the preference sequence starting at NextIndex,
// skipping any candidate for which continuing returns false, until it
// finds a continuing candidate (the ballot is credited there, scan
// pointer advanced past it) or runs out of preferences (the ballot is
// exhausted). The incoming TV is preserved on every resulting
// sub-parcel (spec.md §4.2).
func (idx *Index) Advance(p Parcel, continuing func(candidateID int) bool) (recipients map[int]Parcel, exhausted Parcel) {
	byCandidate := make(map[int][]Entry)
	var exhaustedEntries []Entry

	for _, e := range p.Entries {
		prefs := idx.groups[e.Group].Preferences
		pos := e.NextIndex
		for pos < len(prefs) && !continuing(prefs[pos]) {
			pos++
		}
		if pos >= len(prefs) {
			exhaustedEntries = append(exhaustedEntries, Entry{
				Group:     e.Group,
				NextIndex: pos,
				Weight:    e.Weight,
			})
			continue
		}
		next := prefs[pos]
		byCandidate[next] = append(byCandidate[next], Entry{
			Group:     e.Group,
			NextIndex: pos + 1,
			Weight:    e.Weight,
		})
	}

	recipients = make(map[int]Parcel, len(byCandidate))
	for id, entries := range byCandidate {
		recipients[id] = Parcel{TV: p.TV, Entries: entries}
	}
	exhausted = Parcel{TV: p.TV, Entries: exhaustedEntries}
	return recipients, exhausted
}
