package pipeline

import "context"

// Dispatcher is the bounded FIFO hand-off queue between collectors and the
// analyzer pool. One collector submits sequentially, so per-user batch order
// is preserved; batches from different users interleave arbitrarily.
type Dispatcher struct {
	ch chan Batch
}

// NewDispatcher creates a dispatcher with the given queue depth.
func NewDispatcher(depth int) *Dispatcher {
	if depth <= 0 {
		depth = 16
	}
	return &Dispatcher{ch: make(chan Batch, depth)}
}

// Submit enqueues a batch, blocking while the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, batch Batch) error {
	select {
	case d.ch <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next blocks until a batch is available or the context is cancelled.
func (d *Dispatcher) Next(ctx context.Context) (Batch, bool) {
	select {
	case batch := <-d.ch:
		return batch, true
	case <-ctx.Done():
		return Batch{}, false
	}
}

// Depth reports the number of queued batches.
func (d *Dispatcher) Depth() int {
	return len(d.ch)
}
