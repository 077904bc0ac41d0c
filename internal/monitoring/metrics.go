package monitoring

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SearchMetrics records shift search activity. A nil *SearchMetrics is a
// valid no-op recorder.
type SearchMetrics struct {
	gatherer prometheus.Gatherer

	Searches        *prometheus.CounterVec
	ShiftsEvaluated prometheus.Counter
	Duration        *prometheus.HistogramVec
	BestShift       prometheus.Gauge

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewSearchMetrics registers the search metrics against reg, defaulting to
// the global registry when reg is nil. Registering twice against the same
// registry returns the existing collectors.
func NewSearchMetrics(reg prometheus.Registerer) (*SearchMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	searches, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alignment_searches_total",
		Help: "Completed shift searches, labeled by outcome.",
	}, []string{"outcome"}), "alignment_searches_total")
	if err != nil {
		return nil, err
	}
	shifts, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alignment_shifts_evaluated_total",
		Help: "Candidate shifts scored across all searches.",
	}), "alignment_shifts_evaluated_total")
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alignment_search_duration_seconds",
		Help:    "Wall time of a shift search in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"outcome"}), "alignment_search_duration_seconds")
	if err != nil {
		return nil, err
	}
	best, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alignment_best_shift",
		Help: "Best shift selected by the most recent successful search.",
	}), "alignment_best_shift")
	if err != nil {
		return nil, err
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alignment_http_requests_total",
		Help: "HTTP requests served, labeled by route and status code.",
	}, []string{"route", "code"}), "alignment_http_requests_total")
	if err != nil {
		return nil, err
	}
	reqDuration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alignment_http_request_duration_seconds",
		Help:    "Latency of HTTP requests in seconds, labeled by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"}), "alignment_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SearchMetrics{
		gatherer:        gatherer,
		Searches:        searches,
		ShiftsEvaluated: shifts,
		Duration:        duration,
		BestShift:       best,
		Requests:        requests,
		RequestDuration: reqDuration,
	}, nil
}

// ObserveSearch implements align.SearchRecorder.
func (m *SearchMetrics) ObserveSearch(outcome string, shifts int, bestShift int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Searches.WithLabelValues(outcome).Inc()
	m.ShiftsEvaluated.Add(float64(shifts))
	m.Duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome == "aligned" {
		m.BestShift.Set(float64(bestShift))
	}
}

// ObserveRequest records one served request against its route pattern.
func (m *SearchMetrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler exposes the registry the metrics were registered against.
func (m *SearchMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return c, nil
}
