package metrics

import (
	"sync"
	"time"
)

// testRecorder counts calls; it backs the compile-time interface check.
type testRecorder struct {
	mu       sync.Mutex
	outcomes map[OutcomeLabel]int
	archived int
}

var (
	_ Recorder = (*testRecorder)(nil)
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
)

func (t *testRecorder) ObserveBakeDuration(string, time.Duration) {}
func (t *testRecorder) IncBakeOutcome(o OutcomeLabel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcomes == nil {
		t.outcomes = map[OutcomeLabel]int{}
	}
	t.outcomes[o]++
}
func (t *testRecorder) AddInvalidations(int) {}
func (t *testRecorder) AddArchivedFiles(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.archived += n
}
func (t *testRecorder) IncKilledProcesses(int) {}
func (t *testRecorder) SetValidProducts(int)   {}
