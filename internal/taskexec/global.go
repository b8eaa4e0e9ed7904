package taskexec

import (
	"context"
	"log/slog"
	"sync"
)

// GlobalExecutor is the daemon-wide executor. It behaves like Executor for
// ordinary tasks, but a task additionally implementing ThreadTask whose
// DetachedRun reports true is run on its own goroutine instead of blocking
// the shared worker — used for long-running work (module launch, backend
// connect) that must not stall unrelated global tasks.
type GlobalExecutor struct {
	*Executor

	wg sync.WaitGroup
}

// NewGlobal creates a GlobalExecutor bound to ctx.
func NewGlobal(ctx context.Context, logger *slog.Logger) *GlobalExecutor {
	g := &GlobalExecutor{}
	g.Executor = newWithRunner(ctx, logger, g.runOneGlobal)
	return g
}

// Stop waits for the base executor's drain-and-abort pass and then for any
// detached goroutines spawned for ThreadTasks to finish.
func (g *GlobalExecutor) Stop() {
	g.Executor.Stop()
	g.wg.Wait()
}

func (g *GlobalExecutor) runOneGlobal(ctx context.Context, t Task) {
	if tt, ok := t.(ThreadTask); ok && tt.DetachedRun() {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.Executor.runOne(ctx, t)
		}()
		return
	}
	g.Executor.runOne(ctx, t)
}
