package api

import (
	"net/http"
	"time"

	"github.com/obsidianstack/autoheal/internal/metrics"
)

// Instrument records every request served by next in rec: its latency, and
// a failure when the response status is 5xx. The host metrics source reads
// the resulting error rate and mean latency.
func Instrument(rec *metrics.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		rec.Observe(time.Since(start), sw.code >= http.StatusInternalServerError)
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
