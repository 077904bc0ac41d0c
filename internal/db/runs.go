package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/timeutil"
)

// RunStatus is the outcome recorded for a run.
type RunStatus string

const (
	StatusAligned     RunStatus = "aligned"
	StatusNoAlignment RunStatus = "no_alignment"
	StatusPinned      RunStatus = "pinned"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is the summary row of one alignment run. BestShift and BestScore are
// nil when no shift was eligible.
type Run struct {
	RunID       string               `json:"run_id"`
	CreatedAt   time.Time            `json:"created_at"`
	Label       string               `json:"label,omitempty"`
	ImageSource string               `json:"image_source"`
	EOSources   []string             `json:"eo_sources"`
	Objective   string               `json:"objective"`
	Range       align.ShiftRange     `json:"range"`
	Status      RunStatus            `json:"status"`
	BestShift   *int                 `json:"best_shift,omitempty"`
	BestScore   *float64             `json:"best_score,omitempty"`
	Stats       align.AlignmentStats `json:"stats"`
	ImageCount  int                  `json:"image_count"`
	EOCount     int                  `json:"eo_count"`
	ConfigJSON  json.RawMessage      `json:"config,omitempty"`
}

// RunRecord is a run plus the detail rows saved with it.
type RunRecord struct {
	Run
	PerShift map[int]align.AlignmentStats
	Matches  []align.MatchResult
}

// ShiftStat is one row of a run's per-shift curve.
type ShiftStat struct {
	Shift int                  `json:"shift"`
	Stats align.AlignmentStats `json:"stats"`
}

// SearchRun builds a record from a completed search. best is the evaluation
// of the chosen shift and is ignored when the search found nothing.
func SearchRun(res *align.SearchResult, best align.Evaluation, summary align.Summary) *RunRecord {
	rec := &RunRecord{
		Run: Run{
			Objective:  res.Objective,
			Range:      res.Range,
			Status:     StatusNoAlignment,
			Stats:      align.NoMatchStats(),
			ImageCount: summary.Images,
			EOCount:    summary.EORecords,
		},
		PerShift: res.PerShift,
	}
	if res.Found {
		shift, score := res.BestShift, res.BestScore
		rec.Status = StatusAligned
		rec.BestShift = &shift
		rec.BestScore = &score
		rec.Stats = res.Best
		rec.Matches = best.Matches
	}
	return rec
}

// PinnedRun builds a record for a single operator-chosen shift.
func PinnedRun(ev align.Evaluation, objective *align.Objective, summary align.Summary) *RunRecord {
	shift := ev.Shift
	rec := &RunRecord{
		Run: Run{
			Objective:  objective.Name,
			Range:      align.ShiftRange{Min: ev.Shift, Max: ev.Shift},
			Status:     StatusPinned,
			BestShift:  &shift,
			Stats:      ev.Stats,
			ImageCount: summary.Images,
			EOCount:    summary.EORecords,
		},
		PerShift: map[int]align.AlignmentStats{ev.Shift: ev.Stats},
		Matches:  ev.Matches,
	}
	if score := objective.Score(ev.Stats); !math.IsInf(score, 0) && !math.IsNaN(score) {
		rec.BestScore = &score
	}
	return rec
}

// RunStore reads and writes alignment runs.
type RunStore struct {
	db    *DB
	clock timeutil.Clock
}

// NewRunStore returns a store over db, which must already be migrated.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db, clock: timeutil.RealClock{}}
}

// SaveRun inserts rec and its detail rows in one transaction. An empty RunID
// is replaced with a new UUID, which is returned.
func (s *RunStore) SaveRun(ctx context.Context, rec *RunRecord) (string, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now()
	}
	eoJSON, err := json.Marshal(rec.EOSources)
	if err != nil {
		return "", fmt.Errorf("encode eo sources: %w", err)
	}

	err = retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		st := rec.Stats
		_, err = tx.ExecContext(ctx, `
			INSERT INTO alignment_runs (
				run_id, created_at_ns, label, image_source, eo_sources, objective,
				min_shift, max_shift, status, best_shift, best_score,
				avg_3d, avg_2d, max_3d, std_3d, median_3d, rms_3d,
				match_count, image_count, eo_count, config_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, rec.CreatedAt.UnixNano(), nullString(rec.Label), rec.ImageSource, string(eoJSON), rec.Objective,
			rec.Range.Min, rec.Range.Max, string(rec.Status), nullIntPtr(rec.BestShift), nullFloatPtr(rec.BestScore),
			finite(st.Avg3D), finite(st.Avg2D), finite(st.Max3D), finite(st.Std3D), finite(st.Median3D), finite(st.RMS3D),
			st.MatchCount, rec.ImageCount, rec.EOCount, nullString(string(rec.ConfigJSON)),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		shiftStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO alignment_shift_stats (
				run_id, shift, avg_3d, avg_2d, max_3d, std_3d, median_3d, rms_3d, match_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer shiftStmt.Close()
		for shift, ss := range rec.PerShift {
			if _, err := shiftStmt.ExecContext(ctx, rec.RunID, shift,
				finite(ss.Avg3D), finite(ss.Avg2D), finite(ss.Max3D), finite(ss.Std3D), finite(ss.Median3D), finite(ss.RMS3D),
				ss.MatchCount); err != nil {
				return fmt.Errorf("insert shift %d: %w", shift, err)
			}
		}

		matchStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO alignment_matches (
				run_id, seq, image_key, eo_key, distance_3d, distance_2d, dx, dy, dz, image_time, eo_time
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer matchStmt.Close()
		for i, m := range rec.Matches {
			if _, err := matchStmt.ExecContext(ctx, rec.RunID, i, m.Key, m.EOKey,
				m.Distance3D, m.Distance2D, m.DX, m.DY, m.DZ,
				nullString(m.ImageTime), nullString(m.EOTime)); err != nil {
				return fmt.Errorf("insert match %s: %w", m.Key, err)
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return rec.RunID, nil
}

const runColumns = `
	run_id, created_at_ns, label, image_source, eo_sources, objective,
	min_shift, max_shift, status, best_shift, best_score,
	avg_3d, avg_2d, max_3d, std_3d, median_3d, rms_3d,
	match_count, image_count, eo_count, config_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r         Run
		createdNs int64
		label     sql.NullString
		eoJSON    string
		status    string
		bestShift sql.NullInt64
		bestScore sql.NullFloat64
		stats     [6]sql.NullFloat64
		cfg       sql.NullString
	)
	err := row.Scan(
		&r.RunID, &createdNs, &label, &r.ImageSource, &eoJSON, &r.Objective,
		&r.Range.Min, &r.Range.Max, &status, &bestShift, &bestScore,
		&stats[0], &stats[1], &stats[2], &stats[3], &stats[4], &stats[5],
		&r.Stats.MatchCount, &r.ImageCount, &r.EOCount, &cfg,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdNs).UTC()
	r.Label = label.String
	r.Status = RunStatus(status)
	if err := json.Unmarshal([]byte(eoJSON), &r.EOSources); err != nil {
		return nil, fmt.Errorf("decode eo sources: %w", err)
	}
	if bestShift.Valid {
		v := int(bestShift.Int64)
		r.BestShift = &v
	}
	if bestScore.Valid {
		v := bestScore.Float64
		r.BestScore = &v
	}
	fillStats(&r.Stats, stats)
	if cfg.Valid && cfg.String != "" {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	return &r, nil
}

// GetRun returns the run with id, or ErrRunNotFound.
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM alignment_runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means 100.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM alignment_runs ORDER BY created_at_ns DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ShiftStats returns a run's per-shift statistics in shift order.
func (s *RunStore) ShiftStats(ctx context.Context, id string) ([]ShiftStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT shift, avg_3d, avg_2d, max_3d, std_3d, median_3d, rms_3d, match_count
		FROM alignment_shift_stats WHERE run_id = ? ORDER BY shift`, id)
	if err != nil {
		return nil, fmt.Errorf("query shift stats: %w", err)
	}
	defer rows.Close()

	var out []ShiftStat
	for rows.Next() {
		var (
			ss    ShiftStat
			stats [6]sql.NullFloat64
		)
		if err := rows.Scan(&ss.Shift, &stats[0], &stats[1], &stats[2], &stats[3], &stats[4], &stats[5], &ss.Stats.MatchCount); err != nil {
			return nil, fmt.Errorf("scan shift stats: %w", err)
		}
		fillStats(&ss.Stats, stats)
		out = append(out, ss)
	}
	return out, rows.Err()
}

// Matches returns the residuals saved with a run, in their original order.
func (s *RunStore) Matches(ctx context.Context, id string) ([]align.MatchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT image_key, eo_key, distance_3d, distance_2d, dx, dy, dz, image_time, eo_time
		FROM alignment_matches WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var out []align.MatchResult
	for rows.Next() {
		var (
			m               align.MatchResult
			imgTime, eoTime sql.NullString
		)
		if err := rows.Scan(&m.Key, &m.EOKey, &m.Distance3D, &m.Distance2D, &m.DX, &m.DY, &m.DZ, &imgTime, &eoTime); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.ImageTime = imgTime.String
		m.EOTime = eoTime.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, by cascade, its detail rows.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM alignment_runs WHERE run_id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete run %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil
	})
}

// fillStats maps stored columns back onto stats. NULL is how a non-finite
// value was stored and reads back as +Inf.
func fillStats(st *align.AlignmentStats, cols [6]sql.NullFloat64) {
	dst := []*float64{&st.Avg3D, &st.Avg2D, &st.Max3D, &st.Std3D, &st.Median3D, &st.RMS3D}
	for i, c := range cols {
		if c.Valid {
			*dst[i] = c.Float64
		} else {
			*dst[i] = math.Inf(1)
		}
	}
}

func finite(v float64) sql.NullFloat64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloatPtr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return finite(*v)
}

const maxBusyRetries = 5

// retryOnBusy runs fn until it succeeds, fails with a non-busy error, or
// has been tried maxBusyRetries times. Delays double from 10ms.
func retryOnBusy(fn func() error) error {
	delay := 10 * time.Millisecond
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyRetries-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("database busy after %d attempts: %w", maxBusyRetries, err)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
