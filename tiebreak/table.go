package tiebreak

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Table is a fixed lookup table mapping (round, context, candidate set)
// to a chosen candidate. It is used to replay a known count
// deterministically (spec.md §6 "automation" input; §9 "Design
// Notes"): every tie the original count encountered, and how the AEC
// resolved it, is recorded once and replayed forever after.
type Table struct {
	entries map[string]int
}

// NewTable builds an empty automation table.
func NewTable() *Table {
	return &Table{entries: make(map[string]int)}
}

// Set records the chosen candidate for a given (round, context,
// candidate set) key. The candidate set is order independent.
func (t *Table) Set(round int, ctx Context, candidates []int, chosen int) {
	t.entries[key(round, ctx, candidates)] = chosen
}

// Resolve implements Oracle. It returns ErrDeclined if no entry
// matches.
func (t *Table) Resolve(round int, ctx Context, candidates []int) (int, error) {
	chosen, ok := t.entries[key(round, ctx, candidates)]
	if !ok {
		return 0, &ErrDeclined{Round: round, Context: ctx, Candidates: candidates}
	}
	return chosen, nil
}

func key(round int, ctx Context, candidates []int) string {
	sorted := append([]int(nil), candidates...)
	sort.Ints(sorted)

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.Itoa(id)
	}
	return fmt.Sprintf("%d|%s|%s", round, ctx, strings.Join(parts, ","))
}
