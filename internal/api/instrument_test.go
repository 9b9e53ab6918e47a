package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/obsidianstack/autoheal/internal/api"
	"github.com/obsidianstack/autoheal/internal/metrics"
)

func TestInstrument_CountsRequestsAndServerErrors(t *testing.T) {
	rec := metrics.NewRecorder()
	h := api.Instrument(rec, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fail":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte("ok")) //nolint:errcheck
		}
	}))

	for _, p := range []string{"/ok", "/fail", "/missing", "/ok"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	ops, errs, _ := rec.Totals()
	if ops != 4 {
		t.Errorf("operations: got %d, want 4", ops)
	}
	if errs != 1 {
		t.Errorf("errors: got %d, want 1 (only 5xx counts)", errs)
	}
}
