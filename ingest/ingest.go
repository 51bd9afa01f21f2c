// Package ingest loads an election specification file into the
// engine's input shape (spec.md §6, §9 "Open Questions": savings
// -provision formality adjudication belongs to ingestion, not to
// count.Engine). This package performs no formality adjudication
// itself: it expects the file's ballots to be already formal and
// hands them to the engine as they are.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencount/senate-stv/ballot"
	"github.com/opencount/senate-stv/count"
	"github.com/opencount/senate-stv/rational"
	"github.com/opencount/senate-stv/tiebreak"
)

// Variant selects how the ballots section of an election file is
// shaped (spec.md §3: GVT ballots before 2016, optional-preferential
// ballot-level voting from 2016 onward).
type Variant string

const (
	// VariantGVT: ballots are Group Voting Tickets — one ordered
	// preference list shared by many ballot papers, each ticket
	// carrying an explicit multiplicity.
	VariantGVT Variant = "gvt"
	// VariantPreferential: ballots are already individual, each worth
	// weight 1 (the 2016+ below/above-the-line regime).
	VariantPreferential Variant = "preferential"
)

// file is the on-disk JSON shape of an election specification.
type file struct {
	Variant    Variant              `json:"variant"`
	Candidates []ballot.Candidate   `json:"candidates"`
	Vacancies  int                  `json:"vacancies"`
	Tickets    []ticket             `json:"tickets,omitempty"`
	Ballots    []preferentialBallot `json:"ballots,omitempty"`
	Automation []automationEntry    `json:"automation,omitempty"`
}

// ticket is one Group Voting Ticket: an ordered preference list shared
// by Multiplicity physical ballot papers (spec.md §4.2's GVT expander).
type ticket struct {
	Party        string `json:"party,omitempty"`
	Preferences  []int  `json:"preferences"`
	Multiplicity int64  `json:"multiplicity"`
}

// preferentialBallot is one already-formal 2016+ ballot, implicitly
// weight 1.
type preferentialBallot struct {
	Preferences []int `json:"preferences"`
}

// automationEntry records one previously-resolved statutory tie, for
// replaying a known count via tiebreak.Table.
type automationEntry struct {
	Round      int    `json:"round"`
	Context    string `json:"context"`
	Candidates []int  `json:"candidates"`
	Chosen     int    `json:"chosen"`
}

// LoadElectionFile reads a JSON election specification from path and
// builds the engine's Input. Candidates, vacancies, and ballots are
// validated structurally here; semantic validation (duplicate
// candidate ids, unknown preferences, empty ballots) is left to
// ballot.NewIndex, which count.New calls.
func LoadElectionFile(path string) (count.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return count.Input{}, fmt.Errorf("ingest: reading %s: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return count.Input{}, fmt.Errorf("ingest: parsing %s: %w", path, err)
	}
	if f.Vacancies <= 0 {
		return count.Input{}, fmt.Errorf("ingest: %s: vacancies must be positive", path)
	}

	var raw []ballot.RawBallot
	switch f.Variant {
	case VariantGVT:
		raw = expandTickets(f.Tickets)
	case VariantPreferential, "":
		raw = make([]ballot.RawBallot, len(f.Ballots))
		for i, b := range f.Ballots {
			raw[i] = ballot.RawBallot{Preferences: b.Preferences, Weight: rational.One}
		}
	default:
		return count.Input{}, fmt.Errorf("ingest: %s: unknown ballot variant %q", path, f.Variant)
	}

	return count.Input{
		Candidates: f.Candidates,
		Vacancies:  f.Vacancies,
		Ballots:    raw,
	}, nil
}

// expandTickets turns each Group Voting Ticket into one logical
// RawBallot whose weight is the ticket's multiplicity (spec.md §4.2).
func expandTickets(tickets []ticket) []ballot.RawBallot {
	out := make([]ballot.RawBallot, len(tickets))
	for i, t := range tickets {
		out[i] = ballot.RawBallot{
			Preferences: t.Preferences,
			Weight:      rational.FromInt(t.Multiplicity),
		}
	}
	return out
}

// LoadAutomationTable reads the automation section of an election file
// (if any) into a replayable tiebreak.Table.
func LoadAutomationTable(path string) (*tiebreak.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: reading %s: %w", path, err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ingest: parsing %s: %w", path, err)
	}

	tbl := tiebreak.NewTable()
	for _, e := range f.Automation {
		tbl.Set(e.Round, tiebreak.Context(e.Context), e.Candidates, e.Chosen)
	}
	return tbl, nil
}
