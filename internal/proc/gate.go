package proc

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// gate is a one-shot binary semaphore: Wait blocks until Signal has been
// called once, mirroring the load-status and exited semaphores of
// spec.md §3/§4.5/§4.6 ("Child-process record... load_status gate...
// exited gate"). Built on golang.org/x/sync/semaphore's weighted
// semaphore rather than a bare channel, since the rest of this package's
// blocking waits (Wait, exec's load-status wait) want the same
// cancellable Acquire(ctx, n) shape Go's context-aware I/O already uses
// elsewhere in this module.
type gate struct {
	sem *semaphore.Weighted
}

func newGate() *gate {
	g := &gate{sem: semaphore.NewWeighted(1)}
	g.sem.Acquire(context.Background(), 1) // starts at 0, like sema_init(&g, 0)
	return g
}

// Signal is sema_up: wakes a blocked Wait.
func (g *gate) Signal() {
	g.sem.Release(1)
}

// Wait is sema_down: blocks until Signal has been called, then restores
// the gate to "signaled" so that a second Wait (there is never more than
// one in this package, but this keeps the gate level-triggered rather
// than edge-triggered) observes the same outcome instead of blocking
// forever.
func (g *gate) Wait(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.sem.Release(1)
	return nil
}
