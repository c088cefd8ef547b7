package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Resource("loaded")
	m.Resource("loaded")
	m.Resource("skipped")
	m.Facts(7)
	m.Diagnostic("mapping_gap")
	m.ObserveConversion(3 * time.Millisecond)

	if got := testutil.ToFloat64(m.resources.WithLabelValues("loaded")); got != 2 {
		t.Errorf("expected 2 loaded, got %v", got)
	}
	if got := testutil.ToFloat64(m.facts); got != 7 {
		t.Errorf("expected 7 facts, got %v", got)
	}
	if got := testutil.ToFloat64(m.diagnostics.WithLabelValues("mapping_gap")); got != 1 {
		t.Errorf("expected 1 diagnostic, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Resource("loaded")
	m.Facts(1)
	m.Diagnostic("x")
	m.ObserveConversion(time.Second)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Facts(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cdw_facts_total 2") {
		t.Errorf("expected facts counter in output")
	}
}
