// Package taskexec implements the single-consumer task executor used by
// each session and, in its global form, by the daemon as a whole. A task
// runs preProcess, then Run, then postProcess, strictly in FIFO order with
// respect to other tasks enqueued from the same goroutine; on shutdown every
// remaining task is aborted instead of run.
package taskexec

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ogon-project/ogon-sessiond/internal/queue"
)

// ErrStopped is returned by Submit once the executor has begun shutting
// down; the caller's task is aborted before the error is returned.
var ErrStopped = errors.New("taskexec: executor stopped")

// Task is one unit of sequential work on an executor. PreProcess and
// PostProcess bracket Run and exist so callers can do setup/teardown that
// must happen on the executor goroutine (matching the task's own lifetime,
// not the caller's). Abort is invoked instead of the three-phase sequence
// when the executor is stopped before the task runs.
type Task interface {
	PreProcess(ctx context.Context) error
	Run(ctx context.Context) error
	PostProcess(ctx context.Context, runErr error)
	Abort(err error)
}

// ThreadTask is an optional extension for tasks that should run detached,
// off the main executor goroutine, while still participating in its
// completion bookkeeping. Only GlobalExecutor honors this; a plain Executor
// always runs every task on its single goroutine.
type ThreadTask interface {
	Task
	DetachedRun() bool
}

// Executor drains a queue of Tasks on a single goroutine in submission
// order. It is the per-session worker described for session task handling.
type Executor struct {
	logger *slog.Logger
	q      *queue.Queue[Task]
	runFn  func(ctx context.Context, t Task)

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates an Executor and starts its worker goroutine bound to ctx.
// Cancelling ctx is equivalent to calling Stop.
func New(ctx context.Context, logger *slog.Logger) *Executor {
	return newWithRunner(ctx, logger, nil)
}

// newWithRunner lets GlobalExecutor substitute its own per-task dispatch
// (to spawn detached goroutines for ThreadTask) while reusing the base
// drain/stop/abort machinery.
func newWithRunner(ctx context.Context, logger *slog.Logger, runFn func(ctx context.Context, t Task)) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		logger: logger,
		q:      queue.New[Task](8),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if runFn == nil {
		runFn = e.runOne
	}
	e.runFn = runFn
	go e.run(ctx)
	return e
}

// Submit enqueues a task for sequential execution. If the executor has
// already stopped, the task is aborted immediately with ErrStopped and that
// same error is returned to the caller.
func (e *Executor) Submit(t Task) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		t.Abort(ErrStopped)
		return ErrStopped
	}
	e.mu.Unlock()
	e.q.Push(t)
	return nil
}

// Stop requests shutdown: the worker goroutine stops draining new tasks
// once its current batch finishes, then aborts everything left in the
// queue. Stop blocks until that drain-and-abort pass completes.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		<-e.doneCh
		return
	}
	e.stopped = true
	e.mu.Unlock()
	close(e.stopCh)
	<-e.doneCh
}

func (e *Executor) run(ctx context.Context) {
	defer close(e.doneCh)
	for {
		select {
		case <-ctx.Done():
			e.drainAndAbort(ErrStopped)
			return
		case <-e.stopCh:
			e.drainAndAbort(ErrStopped)
			return
		case <-e.q.Ready():
			e.drainAndRun(ctx)
		}
	}
}

func (e *Executor) drainAndRun(ctx context.Context) {
	for {
		t, ok := e.q.Pop()
		if !ok {
			return
		}
		e.runFn(ctx, t)
	}
}

func (e *Executor) runOne(ctx context.Context, t Task) {
	if err := t.PreProcess(ctx); err != nil {
		t.PostProcess(ctx, err)
		return
	}
	runErr := t.Run(ctx)
	t.PostProcess(ctx, runErr)
}

func (e *Executor) drainAndAbort(err error) {
	for {
		t, ok := e.q.Pop()
		if !ok {
			return
		}
		t.Abort(err)
	}
}
