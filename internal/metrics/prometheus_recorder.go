package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	bakeDuration  *prom.HistogramVec
	bakeOutcome   *prom.CounterVec
	invalidations prom.Counter
	archivedFiles prom.Counter
	killedProcs   prom.Counter
	validProducts prom.Gauge
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		bakeDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "prebake",
			Name:      "bake_duration_seconds",
			Help:      "Duration of product builds that ran actions",
			Buckets:   prom.DefBuckets,
		}, []string{"product"}),
		bakeOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "prebake",
			Name:      "bake_outcomes_total",
			Help:      "Bake outcomes by result",
		}, []string{"outcome"}),
		invalidations: prom.NewCounter(prom.CounterOpts{
			Namespace: "prebake",
			Name:      "invalidations_total",
			Help:      "Artifacts invalidated by file changes",
		}),
		archivedFiles: prom.NewCounter(prom.CounterOpts{
			Namespace: "prebake",
			Name:      "archived_files_total",
			Help:      "Obsolete outputs moved to the archive",
		}),
		killedProcs: prom.NewCounter(prom.CounterOpts{
			Namespace: "prebake",
			Name:      "killed_processes_total",
			Help:      "Processes killed because a tool did not wait for them",
		}),
		validProducts: prom.NewGauge(prom.GaugeOpts{
			Namespace: "prebake",
			Name:      "valid_products",
			Help:      "Products currently up to date",
		}),
	}
	reg.MustRegister(pr.bakeDuration, pr.bakeOutcome, pr.invalidations, pr.archivedFiles, pr.killedProcs, pr.validProducts)
	return pr
}

func (p *PrometheusRecorder) ObserveBakeDuration(product string, d time.Duration) {
	if p == nil {
		return
	}
	p.bakeDuration.WithLabelValues(product).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBakeOutcome(outcome OutcomeLabel) {
	if p == nil {
		return
	}
	p.bakeOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddInvalidations(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.invalidations.Add(float64(n))
}

func (p *PrometheusRecorder) AddArchivedFiles(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.archivedFiles.Add(float64(n))
}

func (p *PrometheusRecorder) IncKilledProcesses(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.killedProcs.Add(float64(n))
}

func (p *PrometheusRecorder) SetValidProducts(n int) {
	if p == nil {
		return
	}
	p.validProducts.Set(float64(n))
}
