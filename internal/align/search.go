package align

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/ppk.report/internal/timeutil"
)

// MaxShiftCandidates bounds the number of shifts a single search evaluates.
const MaxShiftCandidates = 10000

// ShiftRange is an inclusive range of candidate shifts.
type ShiftRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DefaultShiftRange matches the operator control of the field tool.
func DefaultShiftRange() ShiftRange { return ShiftRange{Min: -100, Max: 100} }

// ParseShiftRange parses "lo:hi".
func ParseShiftRange(s string) (ShiftRange, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return ShiftRange{}, fmt.Errorf("invalid shift range %q: expected lo:hi", s)
	}
	lo, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return ShiftRange{}, fmt.Errorf("invalid shift range minimum %q: %w", parts[0], err)
	}
	hi, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return ShiftRange{}, fmt.Errorf("invalid shift range maximum %q: %w", parts[1], err)
	}
	r := ShiftRange{Min: lo, Max: hi}
	return r, r.Validate()
}

// Validate checks ordering and size.
func (r ShiftRange) Validate() error {
	if r.Min > r.Max {
		return fmt.Errorf("shift range minimum %d exceeds maximum %d", r.Min, r.Max)
	}
	if span := r.span(); span >= MaxShiftCandidates {
		return fmt.Errorf("shift range [%d, %d] has %d candidates (max %d)", r.Min, r.Max, span+1, MaxShiftCandidates)
	}
	return nil
}

// span is Max-Min computed without overflow. Min must not exceed Max.
func (r ShiftRange) span() uint64 {
	return uint64(r.Max) - uint64(r.Min)
}

// Len returns the number of candidate shifts, or 0 for an invalid range.
// Ranges wider than MaxInt report MaxInt.
func (r ShiftRange) Len() int {
	if r.Min > r.Max {
		return 0
	}
	span := r.span()
	if span >= math.MaxInt {
		return math.MaxInt
	}
	return int(span) + 1
}

// Shifts lists the candidates in ascending order. A range that fails
// Validate yields nil.
func (r ShiftRange) Shifts() []int {
	if r.Validate() != nil {
		return nil
	}
	n := r.Len()
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.Min+i)
	}
	return out
}

func (r ShiftRange) String() string { return fmt.Sprintf("%d:%d", r.Min, r.Max) }

// Evaluation is the full result of a single shift.
type Evaluation struct {
	Shift   int            `json:"shift"`
	Stats   AlignmentStats `json:"stats"`
	Matches []MatchResult  `json:"matches"`
}

// Evaluate scores images against eo rotated by shift. It is the entry point
// for an operator pinning one shift.
func Evaluate(images, eo *KeyedSet, shift int) Evaluation {
	matches := Score(images, ApplyShift(eo, shift))
	return Evaluation{Shift: shift, Stats: Aggregate(matches), Matches: matches}
}

// SearchResult holds the outcome of a shift search. PerShift is populated
// even when no shift was eligible.
type SearchResult struct {
	Found     bool                   `json:"found"`
	BestShift int                    `json:"best_shift"`
	Best      AlignmentStats         `json:"best"`
	BestScore float64                `json:"best_score"`
	Objective string                 `json:"objective"`
	Range     ShiftRange             `json:"range"`
	PerShift  map[int]AlignmentStats `json:"per_shift"`
}

// SearchRecorder receives one observation per completed search.
type SearchRecorder interface {
	ObserveSearch(outcome string, shifts int, bestShift int, elapsed time.Duration)
}

// Search outcomes passed to a SearchRecorder.
const (
	OutcomeAligned     = "aligned"
	OutcomeNoAlignment = "no_alignment"
	OutcomeCanceled    = "canceled"
)

// Searcher evaluates a shift range and picks the best shift.
type Searcher struct {
	Objective *Objective
	// Workers bounds concurrent shift evaluations; <= 0 uses GOMAXPROCS.
	Workers int
	// MinMatches is the number of matched keys a shift needs to be eligible;
	// values below 1 are treated as 1.
	MinMatches int
	Recorder   SearchRecorder
	// Clock times searches for the Recorder; nil uses the wall clock.
	Clock timeutil.Clock
}

// NewSearcher returns a searcher for obj with default settings. A nil obj
// selects DefaultObjective.
func NewSearcher(obj *Objective) *Searcher {
	if obj == nil {
		obj, _ = DefaultObjectiveRegistry().Get(DefaultObjective)
	}
	return &Searcher{Objective: obj, MinMatches: 1}
}

// Search evaluates every shift in r. When no shift is eligible it returns the
// populated result together with a *NoAlignmentError.
func (s *Searcher) Search(ctx context.Context, images, eo *KeyedSet, r ShiftRange) (*SearchResult, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	obj := s.Objective
	if obj == nil {
		obj, _ = DefaultObjectiveRegistry().Get(DefaultObjective)
	}
	minMatches := max(s.MinMatches, 1)
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()
	shifts := r.Shifts()
	stats := make([]AlignmentStats, len(shifts))
	rot := newRotation(eo)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, shift := range shifts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			stats[i] = Aggregate(Score(images, rot.apply(shift)))
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.record(OutcomeCanceled, len(shifts), 0, clock.Since(start))
		return nil, err
	}

	res := &SearchResult{
		Objective: obj.Name,
		Range:     r,
		PerShift:  make(map[int]AlignmentStats, len(shifts)),
		BestScore: math.Inf(1),
		Best:      NoMatchStats(),
	}
	for i, shift := range shifts {
		st := stats[i]
		res.PerShift[shift] = st
		if st.MatchCount < minMatches {
			continue
		}
		score := obj.Score(st)
		if math.IsNaN(score) {
			continue
		}
		if !res.Found || better(score, shift, res.BestScore, res.BestShift) {
			res.Found = true
			res.BestShift = shift
			res.BestScore = score
			res.Best = st
		}
	}

	if !res.Found {
		s.record(OutcomeNoAlignment, len(shifts), 0, clock.Since(start))
		return res, &NoAlignmentError{Range: r, Objective: obj.Name, MinMatches: minMatches}
	}
	s.record(OutcomeAligned, len(shifts), res.BestShift, clock.Since(start))
	return res, nil
}

// better reports whether candidate (score, shift) beats the incumbent. Equal
// scores prefer the smaller correction, then the smaller shift.
func better(score float64, shift int, bestScore float64, bestShift int) bool {
	if score != bestScore {
		return score < bestScore
	}
	a, b := abs(shift), abs(bestShift)
	if a != b {
		return a < b
	}
	return shift < bestShift
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (s *Searcher) record(outcome string, shifts, best int, elapsed time.Duration) {
	if s.Recorder != nil {
		s.Recorder.ObserveSearch(outcome, shifts, best, elapsed)
	}
}
