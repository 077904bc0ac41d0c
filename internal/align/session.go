package align

import (
	"context"
	"sync"
)

// SessionOptions configures how a session keys its inputs and searches.
type SessionOptions struct {
	Extractor  KeyExtractor
	Duplicates DuplicatePolicy
	Searcher   *Searcher
}

// Summary describes the loaded sequences.
type Summary struct {
	Images          int `json:"images"`
	EORecords       int `json:"eo_records"`
	CommonKeys      int `json:"common_keys"`
	ImageDuplicates int `json:"image_duplicates"`
	EODuplicates    int `json:"eo_duplicates"`
}

// Session holds one analysis: two immutable keyed sequences and a memo of
// the shifts evaluated so far. It is safe for concurrent use, so a front end
// can recompute on every control change without coordinating callers.
type Session struct {
	images   *KeyedSet
	eo       *KeyedSet
	imageDup []Duplicate
	eoDup    []Duplicate
	searcher *Searcher
	rot      *rotation

	mu    sync.Mutex
	cache map[int]Evaluation
}

// NewSession keys both sequences. Records whose Key is empty are keyed with
// opts.Extractor from their ID. An empty sequence is an *InputError.
func NewSession(images, eo []PositionRecord, opts SessionOptions) (*Session, error) {
	if len(images) == 0 {
		return nil, NewInputError("images", ErrEmptySequence)
	}
	if len(eo) == 0 {
		return nil, NewInputError("eo", ErrEmptySequence)
	}
	if opts.Extractor.Suffixes == nil {
		opts.Extractor = DefaultKeyExtractor()
	}
	if opts.Duplicates == "" {
		opts.Duplicates = DuplicateFirstWins
	}
	if opts.Searcher == nil {
		opts.Searcher = NewSearcher(nil)
	}

	imgSet, imgDup, err := BuildKeyedSet("images", withKeys(images, opts.Extractor), opts.Duplicates)
	if err != nil {
		return nil, err
	}
	eoSet, eoDup, err := BuildKeyedSet("eo", withKeys(eo, opts.Extractor), opts.Duplicates)
	if err != nil {
		return nil, err
	}

	return &Session{
		images:   imgSet,
		eo:       eoSet,
		imageDup: imgDup,
		eoDup:    eoDup,
		searcher: opts.Searcher,
		rot:      newRotation(eoSet),
		cache:    make(map[int]Evaluation),
	}, nil
}

func withKeys(records []PositionRecord, ex KeyExtractor) []PositionRecord {
	out := make([]PositionRecord, len(records))
	for i, r := range records {
		if r.Key == "" {
			r.Key = ex.Extract(r.ID)
		}
		out[i] = r
	}
	return out
}

// Evaluate returns the evaluation for one pinned shift. Shifts congruent
// modulo the EO length share one computed evaluation, so the memo holds at
// most one entry per distinct rotation.
func (s *Session) Evaluate(shift int) Evaluation {
	key := s.rotationIndex(shift)
	s.mu.Lock()
	ev, ok := s.cache[key]
	s.mu.Unlock()
	if !ok {
		matches := Score(s.images, s.rot.apply(key))
		ev = Evaluation{Stats: Aggregate(matches), Matches: matches}

		s.mu.Lock()
		s.cache[key] = ev
		s.mu.Unlock()
	}
	ev.Shift = shift
	return ev
}

// rotationIndex reduces shift into [0, n) for an EO set of length n.
func (s *Session) rotationIndex(shift int) int {
	n := s.eo.Len()
	if n == 0 {
		return 0
	}
	return (shift%n + n) % n
}

// Search runs the session's searcher over r.
func (s *Session) Search(ctx context.Context, r ShiftRange) (*SearchResult, error) {
	return s.searcher.Search(ctx, s.images, s.eo, r)
}

// SearchWith runs a search with a different objective but the session's
// other searcher settings.
func (s *Session) SearchWith(ctx context.Context, r ShiftRange, obj *Objective) (*SearchResult, error) {
	sr := *s.searcher
	sr.Objective = obj
	return sr.Search(ctx, s.images, s.eo, r)
}

// Images returns the keyed image sequence.
func (s *Session) Images() *KeyedSet { return s.images }

// EO returns the keyed EO sequence.
func (s *Session) EO() *KeyedSet { return s.eo }

// Duplicates returns the keys collapsed while building each sequence.
func (s *Session) Duplicates() (images, eo []Duplicate) { return s.imageDup, s.eoDup }

// Summary counts the loaded records and the keys present in both sequences
// before any shift.
func (s *Session) Summary() Summary {
	common := 0
	for _, k := range s.images.Keys() {
		if _, ok := s.eo.Get(k); ok {
			common++
		}
	}
	return Summary{
		Images:          s.images.Len(),
		EORecords:       s.eo.Len(),
		CommonKeys:      common,
		ImageDuplicates: len(s.imageDup),
		EODuplicates:    len(s.eoDup),
	}
}
