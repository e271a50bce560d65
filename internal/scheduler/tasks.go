package scheduler

import (
	"context"
	"sync"
)

// taskGroup counts dispatched tasks. Once closed it refuses new tasks, so
// Add never races with Wait.
type taskGroup struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// spawn runs fn on a new goroutine unless the group is closed.
func (g *taskGroup) spawn(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || fn == nil {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

// closeAndWait closes the group and waits for running tasks, bounded by ctx.
func (g *taskGroup) closeAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
