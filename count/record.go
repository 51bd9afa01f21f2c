package count

import "github.com/opencount/senate-stv/rational"

// ElectedEntry records one candidate declared elected within a round
// (spec.md §6).
type ElectedEntry struct {
	CandidateID int `json:"candidate_id"`
	Order       int `json:"order"`
}

// ExcludedEntry records the candidate excluded in a round (spec.md §6).
// A round has at most one, since a bulk exclusion of several candidates
// is recorded as several rounds worth of exclusion entries sharing one
// transcript note, not one round with many excluded entries (see
// Engine.tryBulkExclusion).
type ExcludedEntry struct {
	CandidateID int `json:"candidate_id"`
	Order       int `json:"order"`
}

// ParcelMove records one sub-parcel of a transfer landing on a
// recipient candidate (spec.md §6).
type ParcelMove struct {
	To       int               `json:"to"`
	Ballots  rational.Rational `json:"ballots"`
	Weighted rational.Rational `json:"weighted"`
}

// Transfer records one source candidate's parcel(s) being redistributed
// within a round (spec.md §6).
type Transfer struct {
	From          int               `json:"from"`
	TransferValue rational.Rational `json:"transfer_value"`
	ParcelsMoved  []ParcelMove      `json:"parcels_moved"`
	Exhausted     rational.Rational `json:"exhausted"`
}

// RoundRecord is the full, self-contained account of one round (spec.md
// §6): every piece of state a reader needs to verify the round without
// consulting any other round.
type RoundRecord struct {
	Number       int                       `json:"number"`
	Note         []string                  `json:"note"`
	Elected      []ElectedEntry            `json:"elected"`
	Excluded     *ExcludedEntry            `json:"excluded"`
	Transfers    []Transfer                `json:"transfers"`
	TalliesAfter map[int]rational.Rational `json:"tallies_after"`
	PapersAfter  map[int]rational.Rational `json:"papers_after"`
}
