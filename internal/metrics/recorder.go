package metrics

import "time"

// OutcomeLabel enumerates how a bake of one product ended.
type OutcomeLabel string

const (
	OutcomeBuilt    OutcomeLabel = "built"
	OutcomeUpToDate OutcomeLabel = "up_to_date"
	OutcomeFailed   OutcomeLabel = "failed"
	OutcomeSkew     OutcomeLabel = "version_skew"
)

// Recorder defines observability hooks for bakes and the validity tracker.
// Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveBakeDuration(product string, d time.Duration)
	IncBakeOutcome(outcome OutcomeLabel)
	AddInvalidations(n int)
	AddArchivedFiles(n int)
	IncKilledProcesses(n int)
	SetValidProducts(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBakeDuration(string, time.Duration) {}
func (NoopRecorder) IncBakeOutcome(OutcomeLabel)               {}
func (NoopRecorder) AddInvalidations(int)                      {}
func (NoopRecorder) AddArchivedFiles(int)                      {}
func (NoopRecorder) IncKilledProcesses(int)                    {}
func (NoopRecorder) SetValidProducts(int)                      {}
