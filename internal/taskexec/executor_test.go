package taskexec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type fakeTask struct {
	mu       sync.Mutex
	pre      bool
	ran      bool
	post     bool
	aborted  error
	failPre  error
	failRun  error
	done     chan struct{}
	detached bool
}

func newFakeTask() *fakeTask {
	return &fakeTask{done: make(chan struct{})}
}

func (f *fakeTask) PreProcess(ctx context.Context) error {
	f.mu.Lock()
	f.pre = true
	err := f.failPre
	f.mu.Unlock()
	return err
}

func (f *fakeTask) Run(ctx context.Context) error {
	f.mu.Lock()
	f.ran = true
	err := f.failRun
	f.mu.Unlock()
	return err
}

func (f *fakeTask) PostProcess(ctx context.Context, runErr error) {
	f.mu.Lock()
	f.post = true
	f.mu.Unlock()
	close(f.done)
}

func (f *fakeTask) Abort(err error) {
	f.mu.Lock()
	f.aborted = err
	f.mu.Unlock()
	close(f.done)
}

func (f *fakeTask) DetachedRun() bool { return f.detached }

func (f *fakeTask) snapshot() (pre, ran, post bool, aborted error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pre, f.ran, f.post, f.aborted
}

func waitDone(t *testing.T, f *fakeTask) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatalf("task did not complete in time")
	}
}

func TestExecutorRunsPreRunPostInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(ctx, nil)
	defer e.Stop()

	task := newFakeTask()
	if err := e.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitDone(t, task)

	pre, ran, post, aborted := task.snapshot()
	if !pre || !ran || !post || aborted != nil {
		t.Fatalf("got pre=%v ran=%v post=%v aborted=%v, want all true/nil", pre, ran, post, aborted)
	}
}

func TestExecutorFIFOOrdering(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(ctx, nil)
	defer e.Stop()

	var mu sync.Mutex
	var order []int
	const n = 20
	tasks := make([]*orderTask, n)
	for i := 0; i < n; i++ {
		tasks[i] = &orderTask{id: i, order: &order, mu: &mu, done: make(chan struct{})}
		if err := e.Submit(tasks[i]); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}
	for _, task := range tasks {
		select {
		case <-task.done:
		case <-time.After(time.Second):
			t.Fatalf("task %d did not complete", task.id)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range order {
		if id != i {
			t.Fatalf("order[%d] = %d, want %d; full order = %v", i, id, i, order)
		}
	}
}

type orderTask struct {
	id    int
	order *[]int
	mu    *sync.Mutex
	done  chan struct{}
}

func (o *orderTask) PreProcess(ctx context.Context) error { return nil }
func (o *orderTask) Run(ctx context.Context) error        { return nil }
func (o *orderTask) PostProcess(ctx context.Context, runErr error) {
	o.mu.Lock()
	*o.order = append(*o.order, o.id)
	o.mu.Unlock()
	close(o.done)
}
func (o *orderTask) Abort(err error) { close(o.done) }

func TestExecutorAbortsQueuedTasksOnStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(ctx, nil)

	task := newFakeTask()
	e.Stop()
	if err := e.Submit(task); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit() after Stop() error = %v, want ErrStopped", err)
	}
	waitDone(t, task)
	_, _, _, aborted := task.snapshot()
	if !errors.Is(aborted, ErrStopped) {
		t.Fatalf("aborted = %v, want ErrStopped", aborted)
	}
}

func TestExecutorPreProcessFailureSkipsRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(ctx, nil)
	defer e.Stop()

	task := newFakeTask()
	task.failPre = errors.New("boom")
	if err := e.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitDone(t, task)

	_, ran, post, _ := task.snapshot()
	if ran {
		t.Fatalf("Run() was called despite PreProcess failure")
	}
	if !post {
		t.Fatalf("PostProcess() was not called after PreProcess failure")
	}
}

func TestGlobalExecutorRunsThreadTaskDetached(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := NewGlobal(ctx, nil)
	defer g.Stop()

	blocker := newFakeTask()
	blocker.detached = true
	blockCh := make(chan struct{})
	blocker.failRun = nil

	// Wrap Run to block until released, proving the regular queue keeps
	// moving while this detached task is still executing.
	blocking := &blockingThreadTask{fakeTask: blocker, release: blockCh}

	if err := g.Submit(blocking); err != nil {
		t.Fatalf("Submit(detached) error = %v", err)
	}

	normal := newFakeTask()
	if err := g.Submit(normal); err != nil {
		t.Fatalf("Submit(normal) error = %v", err)
	}
	waitDone(t, normal)

	close(blockCh)
	waitDone(t, blocker)
}

type blockingThreadTask struct {
	*fakeTask
	release chan struct{}
}

func (b *blockingThreadTask) Run(ctx context.Context) error {
	<-b.release
	return b.fakeTask.Run(ctx)
}
