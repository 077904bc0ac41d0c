// Package api serves an alignment session over HTTP: pinned-shift
// evaluation for an operator scrubbing through shifts, full searches, the
// run history and a chart dashboard.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/db"
	"github.com/banshee-data/ppk.report/internal/httputil"
	"github.com/banshee-data/ppk.report/internal/monitoring"
	"github.com/banshee-data/ppk.report/internal/report"
	"github.com/banshee-data/ppk.report/internal/timeutil"
	"github.com/banshee-data/ppk.report/internal/version"
)

const (
	maxRequestBody  = 64 << 10
	defaultRunLimit = 50
	searchTimeout   = 2 * time.Minute
)

// Options configures a Server. Store, Metrics and Clock are optional.
type Options struct {
	Label      string
	Range      align.ShiftRange
	Objectives *align.ObjectiveRegistry
	Store      *db.RunStore
	Metrics    *monitoring.SearchMetrics
	// Sources are recorded on saved runs.
	ImageSource string
	EOSources   []string
	// Clock times requests; nil uses the wall clock.
	Clock timeutil.Clock
}

type Server struct {
	session    *align.Session
	label      string
	rng        align.ShiftRange
	objectives *align.ObjectiveRegistry
	store      *db.RunStore
	metrics    *monitoring.SearchMetrics
	imageSrc   string
	eoSrc      []string
	clock      timeutil.Clock
}

// NewServer wraps session. A zero Range uses align.DefaultShiftRange.
func NewServer(session *align.Session, o Options) *Server {
	if o.Range == (align.ShiftRange{}) {
		o.Range = align.DefaultShiftRange()
	}
	if o.Objectives == nil {
		o.Objectives = align.DefaultObjectiveRegistry()
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return &Server{
		session:    session,
		label:      o.Label,
		rng:        o.Range,
		objectives: o.Objectives,
		store:      o.Store,
		metrics:    o.Metrics,
		imageSrc:   o.ImageSource,
		eoSrc:      o.EOSources,
		clock:      o.Clock,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(route string, h http.Handler) {
		mux.Handle(route, s.instrument(route, h))
	}
	handle("/api/summary", http.HandlerFunc(s.handleSummary))
	handle("/api/objectives", http.HandlerFunc(s.handleObjectives))
	handle("/api/alignment", http.HandlerFunc(s.handleAlignment))
	handle("/api/search", http.HandlerFunc(s.handleSearch))
	handle("/api/runs", http.HandlerFunc(s.handleRuns))
	handle("/api/runs/{id}", http.HandlerFunc(s.handleRun))
	handle("/api/version", http.HandlerFunc(s.handleVersion))
	handle("/dashboard", http.HandlerFunc(s.handleDashboard))
	handle("/metrics", s.metrics.Handler())
	return mux
}

type summaryResponse struct {
	Label      string           `json:"label,omitempty"`
	Summary    align.Summary    `json:"summary"`
	Range      align.ShiftRange `json:"range"`
	Objectives []string         `json:"objectives"`
	Duplicates struct {
		Images []align.Duplicate `json:"images"`
		EO     []align.Duplicate `json:"eo"`
	} `json:"duplicates"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	resp := summaryResponse{
		Label:      s.label,
		Summary:    s.session.Summary(),
		Range:      s.rng,
		Objectives: s.objectives.Names(),
	}
	resp.Duplicates.Images, resp.Duplicates.EO = s.session.Duplicates()
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	var out []*align.Objective
	for _, name := range s.objectives.Names() {
		obj, _ := s.objectives.Get(name)
		out = append(out, obj)
	}
	httputil.WriteJSONOK(w, out)
}

// handleAlignment evaluates one pinned shift: GET /api/alignment?shift=N.
func (s *Server) handleAlignment(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	shift, err := httputil.QueryInt(r, "shift", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.session.Evaluate(shift))
}

// searchParams reads min, max and objective, defaulting to the server range
// and the session objective.
func (s *Server) searchParams(r *http.Request) (align.ShiftRange, *align.Objective, error) {
	lo, err := httputil.QueryInt(r, "min", s.rng.Min)
	if err != nil {
		return align.ShiftRange{}, nil, err
	}
	hi, err := httputil.QueryInt(r, "max", s.rng.Max)
	if err != nil {
		return align.ShiftRange{}, nil, err
	}
	rng := align.ShiftRange{Min: lo, Max: hi}
	if err := rng.Validate(); err != nil {
		return align.ShiftRange{}, nil, err
	}
	var obj *align.Objective
	if name := r.URL.Query().Get("objective"); name != "" {
		if obj, err = s.objectives.Lookup(name); err != nil {
			return align.ShiftRange{}, nil, err
		}
	}
	return rng, obj, nil
}

func (s *Server) search(ctx context.Context, rng align.ShiftRange, obj *align.Objective) (*align.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	if obj == nil {
		return s.session.Search(ctx, rng)
	}
	return s.session.SearchWith(ctx, rng, obj)
}

// handleSearch runs a full search. A search where no shift is eligible is
// still a 200 with found=false and the per-shift table.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	rng, obj, err := s.searchParams(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, err := s.search(r.Context(), rng, obj)
	if err != nil && !errors.Is(err, align.ErrNoAlignmentFound) {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("search failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, res)
}

// runRequest is the body of POST /api/runs. A non-nil Shift saves a pinned
// run; otherwise a search over [Min, Max] is run and saved.
type runRequest struct {
	Label     string `json:"label"`
	Shift     *int   `json:"shift"`
	Min       *int   `json:"min"`
	Max       *int   `json:"max"`
	Objective string `json:"objective"`
}

type runCreated struct {
	RunID  string       `json:"run_id"`
	Status db.RunStatus `json:"status"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.NotFound(w, "run history is not enabled")
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit, err := httputil.QueryInt(r, "limit", defaultRunLimit)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		runs, err := s.store.ListRuns(r.Context(), limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("list runs: %v", err))
			return
		}
		if runs == nil {
			runs = []db.Run{}
		}
		httputil.WriteJSONOK(w, runs)
	case http.MethodPost:
		s.createRun(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("read body: %v", err))
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}

	obj, err := s.objectives.Lookup(req.Objective)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var rec *db.RunRecord
	if req.Shift != nil {
		rec = db.PinnedRun(s.session.Evaluate(*req.Shift), obj, s.session.Summary())
	} else {
		rng := s.rng
		if req.Min != nil {
			rng.Min = *req.Min
		}
		if req.Max != nil {
			rng.Max = *req.Max
		}
		if err := rng.Validate(); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		res, err := s.search(r.Context(), rng, obj)
		if err != nil && !errors.Is(err, align.ErrNoAlignmentFound) {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("search failed: %v", err))
			return
		}
		var best align.Evaluation
		if res.Found {
			best = s.session.Evaluate(res.BestShift)
		}
		rec = db.SearchRun(res, best, s.session.Summary())
	}
	rec.Label = req.Label
	if rec.Label == "" {
		rec.Label = s.label
	}
	rec.ImageSource = s.imageSrc
	rec.EOSources = s.eoSrc

	id, err := s.store.SaveRun(r.Context(), rec)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("save run: %v", err))
		return
	}
	monitoring.Logf("[api] saved run %s (%s)", id, rec.Status)
	httputil.WriteJSON(w, http.StatusCreated, runCreated{RunID: id, Status: rec.Status})
}

type runDetail struct {
	Run      *db.Run             `json:"run"`
	PerShift []db.ShiftStat      `json:"per_shift"`
	Matches  []align.MatchResult `json:"matches"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.NotFound(w, "run history is not enabled")
		return
	}
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		run, err := s.store.GetRun(r.Context(), id)
		if errors.Is(err, db.ErrRunNotFound) {
			httputil.NotFound(w, fmt.Sprintf("run %s not found", id))
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		shifts, err := s.store.ShiftStats(r.Context(), id)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		matches, err := s.store.Matches(r.Context(), id)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, runDetail{Run: run, PerShift: shifts, Matches: matches})
	case http.MethodDelete:
		err := s.store.DeleteRun(r.Context(), id)
		if errors.Is(err, db.ErrRunNotFound) {
			httputil.NotFound(w, fmt.Sprintf("run %s not found", id))
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}

// handleDashboard renders the shift curve for the requested range and the
// residual bars of either ?shift=N or the best shift.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	rng, obj, err := s.searchParams(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, err := s.search(r.Context(), rng, obj)
	if err != nil && !errors.Is(err, align.ErrNoAlignmentFound) {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("search failed: %v", err))
		return
	}

	var ev *align.Evaluation
	if r.URL.Query().Get("shift") != "" {
		shift, err := httputil.QueryInt(r, "shift", 0)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		e := s.session.Evaluate(shift)
		ev = &e
	} else if res.Found {
		e := s.session.Evaluate(res.BestShift)
		ev = &e
	}

	title := s.label
	if title == "" {
		title = "PPK alignment"
	}
	var buf bytes.Buffer
	if err := report.RenderPage(&buf, res, ev, report.ChartOptions{Title: title}); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
