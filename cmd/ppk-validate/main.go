// Command ppk-validate associates drone images with PPK EO records, searches
// for the capture shift that best lines the two up, and reports the result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/api"
	"github.com/banshee-data/ppk.report/internal/config"
	"github.com/banshee-data/ppk.report/internal/db"
	"github.com/banshee-data/ppk.report/internal/fsutil"
	"github.com/banshee-data/ppk.report/internal/ingest"
	"github.com/banshee-data/ppk.report/internal/monitoring"
	"github.com/banshee-data/ppk.report/internal/report"
	"github.com/banshee-data/ppk.report/internal/units"
	"github.com/banshee-data/ppk.report/internal/version"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitInput       = 2
	exitNoAlignment = 3
)

type options struct {
	images     string
	eo         string
	eoDir      string
	configPath string
	shiftRange string
	shift      int
	objective  string
	workers    int
	duplicates string
	utmZone    string
	utmSouth   bool
	label      string
	out        string
	dbPath     string
	serve      string
	jsonOut    bool
	version    bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: make(map[string]bool)}
	fs := flag.NewFlagSet("ppk-validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.images, "images", "", "Image metadata JSON (list of file_path, filename, latitude, longitude, altitude, timestamp)")
	fs.StringVar(&o.eo, "eo", "", "Comma-separated EO text files")
	fs.StringVar(&o.eoDir, "eo-dir", "", "Directory searched recursively for EO text files")
	fs.StringVar(&o.configPath, "config", "", "Alignment config JSON (defaults apply when empty)")
	fs.StringVar(&o.shiftRange, "shift-range", "", "Shift search range lo:hi (overrides config)")
	fs.IntVar(&o.shift, "shift", 0, "Evaluate a single pinned shift instead of searching")
	fs.StringVar(&o.objective, "objective", "", "Objective minimised by the search (overrides config)")
	fs.IntVar(&o.workers, "workers", 0, "Concurrent shift evaluations, 0 for one per CPU (overrides config)")
	fs.StringVar(&o.duplicates, "duplicates", "", "Duplicate key policy: first, last or error (overrides config)")
	fs.StringVar(&o.utmZone, "utm-zone", "", "UTM zone for image positions, e.g. 10 or 55S (overrides config)")
	fs.BoolVar(&o.utmSouth, "utm-south", false, "Use the southern hemisphere UTM zone (overrides config)")
	fs.StringVar(&o.label, "label", "", "Run label used for report file names and saved runs")
	fs.StringVar(&o.out, "out", "", "Directory for CSV, PNG and HTML reports")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database to record the run in")
	fs.StringVar(&o.serve, "serve", "", "Serve the interactive API on this address after the run, e.g. :8080")
	fs.BoolVar(&o.jsonOut, "json", false, "Print the result as JSON instead of a table")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return o, nil
}

// loadConfig reads -config and applies the flag overrides on top.
func loadConfig(o *options) (*config.AlignmentConfig, error) {
	cfg := config.EmptyAlignmentConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadAlignmentConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.set["shift-range"] {
		r, err := align.ParseShiftRange(o.shiftRange)
		if err != nil {
			return nil, err
		}
		cfg.MinShift, cfg.MaxShift = &r.Min, &r.Max
	}
	if o.set["objective"] {
		cfg.Objective = &o.objective
	}
	if o.set["workers"] {
		cfg.Workers = &o.workers
	}
	if o.set["duplicates"] {
		cfg.DuplicatePolicy = &o.duplicates
	}
	if o.set["utm-zone"] {
		p, err := units.ParseZone(o.utmZone)
		if err != nil {
			return nil, err
		}
		cfg.UTMZone, cfg.UTMSouth = &p.Zone, &p.South
	}
	if o.set["utm-south"] {
		cfg.UTMSouth = &o.utmSouth
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// eoPaths merges -eo with the files discovered under -eo-dir.
func eoPaths(fsys fsutil.FileSystem, o *options, cfg *config.AlignmentConfig) ([]string, error) {
	var paths []string
	for _, p := range strings.Split(o.eo, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if o.eoDir != "" {
		found, err := ingest.FindEOFiles(fsys, o.eoDir, cfg.GetEONamePatterns())
		if err != nil {
			return nil, err
		}
		log.Printf("found %d EO file(s) under %s", len(found), o.eoDir)
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return nil, align.NewInputError("eo", errors.New("no EO files given; use -eo or -eo-dir"))
	}
	return paths, nil
}

type outcome struct {
	result     *align.SearchResult
	evaluation *align.Evaluation
	objective  *align.Objective
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitInput
	}
	if o.version {
		fmt.Fprintln(stdout, version.Current())
		return exitOK
	}
	if o.images == "" {
		fmt.Fprintln(stderr, "-images is required")
		return exitInput
	}

	cfg, err := loadConfig(o)
	if err != nil {
		log.Printf("config: %v", err)
		return exitInput
	}

	fsys := fsutil.OSFileSystem{}
	images, err := ingest.LoadImageData(fsys, o.images)
	if err != nil {
		log.Printf("images: %v", err)
		return exitInput
	}
	paths, err := eoPaths(fsys, o, cfg)
	if err != nil {
		log.Printf("eo: %v", err)
		return exitInput
	}
	eoRows, err := ingest.LoadEOFiles(fsys, paths)
	if err != nil {
		log.Printf("eo: %v", err)
		return exitInput
	}

	metrics, err := monitoring.NewSearchMetrics(prometheus.NewRegistry())
	if err != nil {
		log.Printf("metrics: %v", err)
		return exitFailure
	}
	searcher, err := cfg.Searcher()
	if err != nil {
		log.Printf("config: %v", err)
		return exitInput
	}
	searcher.Recorder = metrics

	ex := cfg.KeyExtractor()
	session, err := align.NewSession(
		ingest.ImageRecords(images, ex, cfg.Projector()),
		ingest.EORecords(eoRows, ex),
		align.SessionOptions{Extractor: ex, Duplicates: cfg.GetDuplicatePolicy(), Searcher: searcher},
	)
	if err != nil {
		log.Printf("session: %v", err)
		return exitInput
	}
	sum := session.Summary()
	log.Printf("loaded %d image(s), %d EO record(s), %d key(s) in common", sum.Images, sum.EORecords, sum.CommonKeys)

	out := outcome{objective: searcher.Objective}
	code := exitOK
	if o.set["shift"] {
		ev := session.Evaluate(o.shift)
		out.evaluation = &ev
	} else {
		res, err := session.Search(ctx, cfg.ShiftRange())
		switch {
		case errors.Is(err, align.ErrNoAlignmentFound):
			log.Printf("search: %v", err)
			code = exitNoAlignment
		case err != nil:
			log.Printf("search: %v", err)
			return exitFailure
		}
		out.result = res
		if res.Found {
			ev := session.Evaluate(res.BestShift)
			out.evaluation = &ev
		}
	}

	if err := printOutcome(stdout, out, o.jsonOut); err != nil {
		log.Printf("output: %v", err)
		return exitFailure
	}

	label := o.label
	if label == "" {
		label = "alignment"
	}
	if o.out != "" {
		written, err := report.WriteAll(fsys, o.out, report.Input{
			Label:      label,
			Result:     out.result,
			Evaluation: out.evaluation,
			Objective:  out.objective,
		})
		if err != nil {
			log.Printf("report: %v", err)
			return exitFailure
		}
		log.Printf("wrote %d report file(s) to %s", len(written.Files), o.out)
	}

	var store *db.RunStore
	if o.dbPath != "" {
		database, err := db.NewDB(o.dbPath)
		if err != nil {
			log.Printf("database: %v", err)
			return exitFailure
		}
		defer database.Close()
		store = db.NewRunStore(database)

		id, err := store.SaveRun(ctx, runRecord(out, sum, label, o.images, paths, cfg))
		if err != nil {
			log.Printf("save run: %v", err)
			return exitFailure
		}
		log.Printf("saved run %s", id)
	}

	if o.serve != "" {
		srv := api.NewServer(session, api.Options{
			Label:       label,
			Range:       cfg.ShiftRange(),
			Store:       store,
			Metrics:     metrics,
			ImageSource: o.images,
			EOSources:   paths,
		})
		if err := serve(ctx, o.serve, srv.ServeMux()); err != nil {
			log.Printf("serve: %v", err)
			return exitFailure
		}
	}
	return code
}

func runRecord(out outcome, sum align.Summary, label, imageSrc string, eoSrc []string, cfg *config.AlignmentConfig) *db.RunRecord {
	var rec *db.RunRecord
	if out.result != nil {
		var best align.Evaluation
		if out.evaluation != nil {
			best = *out.evaluation
		}
		rec = db.SearchRun(out.result, best, sum)
	} else {
		rec = db.PinnedRun(*out.evaluation, out.objective, sum)
	}
	rec.Label = label
	rec.ImageSource = imageSrc
	rec.EOSources = eoSrc
	if data, err := json.Marshal(cfg); err == nil {
		rec.ConfigJSON = data
	}
	return rec
}

func printOutcome(w io.Writer, out outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if out.result != nil {
			return enc.Encode(out.result)
		}
		return enc.Encode(out.evaluation)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if res := out.result; res != nil {
		fmt.Fprintf(tw, "objective\t%s\n", res.Objective)
		fmt.Fprintf(tw, "range\t%s\n", res.Range)
		if !res.Found {
			fmt.Fprintf(tw, "best shift\tnone (no shift matched any key)\n")
			return tw.Flush()
		}
		fmt.Fprintf(tw, "best shift\t%d\n", res.BestShift)
		fmt.Fprintf(tw, "score\t%.4f\n", res.BestScore)
	}
	if ev := out.evaluation; ev != nil {
		if out.result == nil {
			fmt.Fprintf(tw, "pinned shift\t%d\n", ev.Shift)
		}
		st := ev.Stats
		fmt.Fprintf(tw, "matches\t%d\n", st.MatchCount)
		fmt.Fprintf(tw, "avg 3D (m)\t%.4f\n", st.Avg3D)
		fmt.Fprintf(tw, "avg 2D (m)\t%.4f\n", st.Avg2D)
		fmt.Fprintf(tw, "max 3D (m)\t%.4f\n", st.Max3D)
		fmt.Fprintf(tw, "median 3D (m)\t%.4f\n", st.Median3D)
	}
	return tw.Flush()
}

// serve runs the API until ctx is cancelled.
func serve(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("serving alignment API on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
