// Package ballot holds the candidate and ballot data model (spec.md §3)
// and the ballot index (spec.md §4.2): an immutable, multiplicity-aware
// representation of every formal ballot, grouped by identical
// preference sequence for fast bulk movement.
package ballot

import (
	"fmt"

	"github.com/opencount/senate-stv/rational"
)

// Candidate is a stable identifier, display name and party tag. It is
// immutable for the duration of a count (spec.md §3).
type Candidate struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Party string `json:"party"`
}

// GroupID identifies one equivalence class of ballots: all ballots in
// an index that share the exact same ordered preference sequence.
type GroupID int

// Group is one equivalence class: a single ordered, non-empty,
// duplicate-free preference sequence, shared by every ballot that
// numbered candidates in that exact order, plus the total initial
// weight of all such ballots (spec.md §3: "GVT ballots may share one
// ticket expressing thousands of identical preferences").
type Group struct {
	ID          GroupID
	Preferences []int
	Weight      rational.Rational
}

// Index is the immutable, compact representation of every formal
// ballot built by spec.md §4.2. Parcels reference Group IDs, never
// copies of the underlying preference slices.
type Index struct {
	groups     []Group
	candidates map[int]Candidate
	order      []int // candidate ids in the order they were declared
}

// NewIndex groups raw (preferences, multiplicity) pairs into
// equivalence classes. Every candidate id referenced by a preference
// must appear in candidates, and no preference sequence may repeat a
// candidate id; both are input-level problems the spec requires to be
// rejected before round 1 (spec.md §4.4 "Failure semantics").
func NewIndex(candidates []Candidate, rawBallots []RawBallot) (*Index, error) {
	candByID := make(map[int]Candidate, len(candidates))
	order := make([]int, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := candByID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate candidate id %d", c.ID)
		}
		candByID[c.ID] = c
		order = append(order, c.ID)
	}

	idx := &Index{candidates: candByID, order: order}

	seen := make(map[string]GroupID)
	for _, rb := range rawBallots {
		if len(rb.Preferences) == 0 {
			return nil, fmt.Errorf("ballot has no preferences")
		}
		within := make(map[int]struct{}, len(rb.Preferences))
		for _, id := range rb.Preferences {
			if _, ok := candByID[id]; !ok {
				return nil, fmt.Errorf("ballot references unknown candidate id %d", id)
			}
			if _, dup := within[id]; dup {
				return nil, fmt.Errorf("ballot lists candidate id %d twice", id)
			}
			within[id] = struct{}{}
		}

		key := preferenceKey(rb.Preferences)
		if gid, ok := seen[key]; ok {
			g := &idx.groups[gid]
			g.Weight = rational.Add(g.Weight, rb.Weight)
			continue
		}

		gid := GroupID(len(idx.groups))
		seen[key] = gid
		idx.groups = append(idx.groups, Group{
			ID:          gid,
			Preferences: append([]int(nil), rb.Preferences...),
			Weight:      rb.Weight,
		})
	}

	return idx, nil
}

// RawBallot is the minimal input shape the ingestion collaborator
// produces: an ordered preference list and an initial weight (spec.md
// §3 and §6).
type RawBallot struct {
	Preferences []int
	Weight      rational.Rational
}

func preferenceKey(prefs []int) string {
	// A length-prefixed join is collision free for any sequence of ints,
	// unlike a naive separator join (which could confuse "1,23" with
	// "12,3").
	key := fmt.Sprintf("%d", len(prefs))
	for _, p := range prefs {
		key += fmt.Sprintf(":%d", p)
	}
	return key
}

// Candidates returns the candidates in declaration order.
func (idx *Index) Candidates() []Candidate {
	out := make([]Candidate, len(idx.order))
	for i, id := range idx.order {
		out[i] = idx.candidates[id]
	}
	return out
}

// CandidateIDs returns candidate ids in declaration order.
func (idx *Index) CandidateIDs() []int {
	return append([]int(nil), idx.order...)
}

// Candidate looks up a candidate by id.
func (idx *Index) Candidate(id int) (Candidate, bool) {
	c, ok := idx.candidates[id]
	return c, ok
}

// TotalWeight returns the sum of every group's weight: the total formal
// vote (spec.md §3).
func (idx *Index) TotalWeight() rational.Rational {
	total := rational.Zero
	for _, g := range idx.groups {
		total = rational.Add(total, g.Weight)
	}
	return total
}

// Group returns the group for a given id.
func (idx *Index) Group(id GroupID) Group {
	return idx.groups[id]
}

// Preference returns the candidate id at position pos (0-based) of the
// group's preference sequence, and whether such a position exists.
func (idx *Index) Preference(id GroupID, pos int) (int, bool) {
	prefs := idx.groups[id].Preferences
	if pos < 0 || pos >= len(prefs) {
		return 0, false
	}
	return prefs[pos], true
}
