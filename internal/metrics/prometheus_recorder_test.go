package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveBakeDuration("foo", 150*time.Millisecond)
	pr.IncBakeOutcome(OutcomeBuilt)
	pr.IncBakeOutcome(OutcomeBuilt)
	pr.IncBakeOutcome(OutcomeUpToDate)
	pr.AddArchivedFiles(3)
	pr.AddArchivedFiles(-1)
	pr.IncKilledProcesses(1)
	pr.SetValidProducts(4)

	if got := testutil.ToFloat64(pr.bakeOutcome.WithLabelValues("built")); got != 2 {
		t.Fatalf("expected 2 built outcomes, got %v", got)
	}
	if got := testutil.ToFloat64(pr.archivedFiles); got != 3 {
		t.Fatalf("negative counts must be ignored, got %v", got)
	}
	if got := testutil.ToFloat64(pr.validProducts); got != 4 {
		t.Fatalf("expected gauge 4, got %v", got)
	}

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "prebake_bake_duration_seconds") {
		t.Fatalf("expected bake duration in scrape output")
	}
}

func TestNilPrometheusRecorder(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncBakeOutcome(OutcomeFailed)
	pr.SetValidProducts(1)
}
