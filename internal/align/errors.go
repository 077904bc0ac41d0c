package align

import (
	"errors"
	"fmt"
)

// ErrNoAlignmentFound is returned by a search when no shift in the range
// produced enough matching keys to be scored.
var ErrNoAlignmentFound = errors.New("no alignment found")

// ErrEmptySequence marks an input sequence with no usable records.
var ErrEmptySequence = errors.New("empty sequence")

// InputError reports a malformed or missing input. Record is the zero-based
// index of the offending record, or -1 when the whole source is at fault.
type InputError struct {
	Source string
	Record int
	Err    error
}

func (e *InputError) Error() string {
	if e.Record >= 0 {
		return fmt.Sprintf("input %s record %d: %v", e.Source, e.Record, e.Err)
	}
	return fmt.Sprintf("input %s: %v", e.Source, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// NewInputError wraps err as a whole-source input failure.
func NewInputError(source string, err error) *InputError {
	return &InputError{Source: source, Record: -1, Err: err}
}

// NoAlignmentError describes a search that found no eligible shift.
type NoAlignmentError struct {
	Range      ShiftRange
	Objective  string
	MinMatches int
}

func (e *NoAlignmentError) Error() string {
	return fmt.Sprintf("%v: no shift in [%d, %d] produced %d or more matching keys (objective %s)",
		ErrNoAlignmentFound, e.Range.Min, e.Range.Max, e.MinMatches, e.Objective)
}

func (e *NoAlignmentError) Unwrap() error { return ErrNoAlignmentFound }
