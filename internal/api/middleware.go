package api

import (
	"net/http"
	"time"

	"github.com/banshee-data/ppk.report/internal/monitoring"
)

// statusRecorder remembers the status a handler wrote so the request can be
// logged and counted after it completes.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// instrument wraps the handler registered for route. Each request is logged
// through monitoring.Logf and its latency recorded under the route pattern,
// so /api/alignment?shift=3 and ?shift=4 share one series.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := s.clock.Since(start)

		s.metrics.ObserveRequest(route, rec.status, elapsed)
		monitoring.Logf("[api] %d %s %s %.3fms", rec.status, r.Method, r.URL.RequestURI(), float64(elapsed)/float64(time.Millisecond))
	})
}
