package script

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// job is a unit of work run on the executor goroutine.
type job struct {
	fn     func() error
	result chan error
}

// Executor serializes all engine operations through a single goroutine.
//
// Script engines are not goroutine-safe. Every operation on an engine is
// queued here and run on the worker goroutine, one at a time. Callers wait
// for a result until their context is done; a job that outlives its caller
// is abandoned but still runs to completion on the worker.
type Executor struct {
	queue   chan *job
	done    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
	onStop  func()

	closeOnce sync.Once
}

// NewExecutor creates an executor and starts its worker goroutine. onStop,
// if set, runs on the worker goroutine after the last job.
func NewExecutor(queueSize int, onStop func()) *Executor {
	if queueSize <= 0 {
		queueSize = 64
	}
	e := &Executor{
		queue:   make(chan *job, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		onStop:  onStop,
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.stopped)
	defer func() {
		if e.onStop != nil {
			e.runJob(func() error { e.onStop(); return nil })
		}
	}()

	for {
		select {
		case <-e.done:
			e.drainQueue(ErrExecutorClosed)
			return
		case j := <-e.queue:
			j.result <- e.runJob(j.fn)
			close(j.result)
		}
	}
}

// runJob runs a single job with panic recovery.
func (e *Executor) runJob(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (e *Executor) drainQueue(err error) {
	for {
		select {
		case j := <-e.queue:
			j.result <- err
			close(j.result)
		default:
			return
		}
	}
}

// Execute queues fn and waits for its result or for ctx to be done.
func (e *Executor) Execute(ctx context.Context, fn func() error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	j := &job{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- j:
	}

	select {
	case <-ctx.Done():
		// The job stays queued or running; its result is dropped.
		return ctx.Err()
	case err, ok := <-j.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// Close stops accepting jobs. Queued jobs fail with ErrExecutorClosed; a
// running job is allowed to finish before onStop runs.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// Stopped is closed once the worker goroutine has exited.
func (e *Executor) Stopped() <-chan struct{} {
	return e.stopped
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
