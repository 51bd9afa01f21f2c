package count

import (
	"fmt"

	"github.com/opencount/senate-stv/rational"
)

// Error is the common shape of every fatal error the engine can return
// (spec.md §7). Type identifies the taxonomy bucket; the transcript
// accumulated before the failure is always attached so callers can
// inspect the count's progress post-mortem.
type Error struct {
	kind       string
	msg        string
	Transcript []RoundRecord
	wrapped    error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Type reports the error taxonomy bucket, in the teacher's
// MessageError/Type() idiom (vote.MessageError, vote/http/error.go).
func (e *Error) Type() string { return e.kind }

// Unwrap supports errors.Is/As against the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.wrapped }

// Is reports whether target is one of the kind sentinels below, so
// callers can write errors.Is(err, count.ErrInvariantViolation).
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}
	return sentinel.kind != "" && sentinel.kind == e.kind && sentinel.msg == ""
}

// Sentinels for errors.Is comparisons (spec.md §7's taxonomy).
var (
	ErrInvariantViolation = &Error{kind: "invariant_violation"}
	ErrInputRejected      = &Error{kind: "input_rejected"}
	ErrTieUnresolved      = &Error{kind: "tie_unresolved"}
	ErrDegenerateCount    = &Error{kind: "degenerate_count"}
)

func invariantViolation(transcript []RoundRecord, invariant string, detail string) *Error {
	return &Error{
		kind:       "invariant_violation",
		msg:        fmt.Sprintf("invariant %q violated: %s", invariant, detail),
		Transcript: transcript,
	}
}

func inputRejected(reason string) *Error {
	return &Error{kind: "input_rejected", msg: reason}
}

func tieUnresolved(transcript []RoundRecord, err error) *Error {
	return &Error{
		kind:       "tie_unresolved",
		msg:        "tie-break oracle could not resolve a statutory tie",
		Transcript: transcript,
		wrapped:    err,
	}
}

func degenerateCount(transcript []RoundRecord, detail string) *Error {
	return &Error{
		kind:       "degenerate_count",
		msg:        detail,
		Transcript: transcript,
	}
}

// weightConservationCheck verifies spec.md §8's headline invariant:
// every unit of initial formal weight is always accounted for by
// exactly one of three buckets — still held in a live parcel, settled
// into the exhausted pile, or permanently retained as part of some
// candidate's quota once their surplus has been distributed.
func weightConservationCheck(total rational.Rational, heldSum rational.Rational, settled rational.Rational) error {
	sum := rational.Add(heldSum, settled)
	if !rational.Equal(sum, total) {
		return fmt.Errorf("held+settled = %s, want %s (total formal weight)", sum, total)
	}
	return nil
}
