package sender

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher owns the work queue and the fixed pool of Workers that
// drain it. It never inspects file contents; that is the Worker's job.
type Dispatcher struct {
	work    chan Task
	results chan Result
	workers []*Worker
	wg      sync.WaitGroup
}

// NewDispatcher builds n Workers sharing one bounded work channel.
// buildCfg derives each worker's WorkerConfig from its zero-based id,
// allowing per-worker DSCP or log context without a shared mutable struct.
func NewDispatcher(n int, queueDepth int, buildCfg func(id int) WorkerConfig, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		work:    make(chan Task, queueDepth),
		results: make(chan Result, queueDepth),
	}
	for i := 0; i < n; i++ {
		d.workers = append(d.workers, NewWorker(buildCfg(i), logger))
	}
	return d
}

// Start launches all workers; each runs until ctx is cancelled or
// Dispatch's channel is closed via Close.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, w := range d.workers {
		d.wg.Add(1)
		go func(w *Worker) {
			defer d.wg.Done()
			w.Run(ctx, d.work, d.results)
		}(w)
	}
}

// Dispatch enqueues task for the next available worker. Blocks if the
// work channel is full, applying backpressure to the Scanner.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) bool {
	select {
	case d.work <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

// Results returns the channel on which each task a worker picks up
// has its outcome published once. Tasks still queued when ctx is
// cancelled are not picked up and get no Result.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Close stops accepting new work and waits for in-flight workers to
// finish their current file before returning.
func (d *Dispatcher) Close() {
	close(d.work)
	d.wg.Wait()
	close(d.results)
}
