// Package procmon implements the process monitor (spec §4.7): a
// background poller that reaps registered backend child processes and
// enqueues session-end work when a "terminate-session-on-exit" process
// dies.
package procmon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// PollInterval is the non-blocking wait polling cadence (spec §4.7: "A
// background thread polls (200 ms interval) each PID").
const PollInterval = 200 * time.Millisecond

// TaskEndEnqueuer is the narrow collaborator the monitor needs to signal a
// session's end; internal/session's store (via a small adapter) implements
// it in production.
type TaskEndEnqueuer interface {
	EnqueueTaskEnd(sessionID uint32)
}

// CurrentContextChecker reports whether moduleCtx is still the session's
// current module context, used for the causality check in spec §4.7: "if
// ctx still equals the current module of sessionId". Without this check a
// process that already got stopped and replaced (re-auth, reconnect)
// could spuriously end the new module's session.
type CurrentContextChecker interface {
	IsCurrentContext(sessionID uint32, moduleCtx any) bool
}

type record struct {
	pid                    int
	sessionID              uint32
	terminateSessionOnExit bool
	moduleCtx              any
}

// Monitor tracks registered child processes and reaps them.
type Monitor struct {
	logger   *slog.Logger
	enqueuer TaskEndEnqueuer
	checker  CurrentContextChecker
	interval time.Duration

	mu      sync.Mutex
	records map[int]*record

	wait4 func(pid int, wstatus *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error)
}

// New constructs a Monitor. logger may be nil.
func New(logger *slog.Logger, enqueuer TaskEndEnqueuer, checker CurrentContextChecker) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:   logger,
		enqueuer: enqueuer,
		checker:  checker,
		interval: PollInterval,
		records:  make(map[int]*record),
		wait4:    unix.Wait4,
	}
}

// Register adds pid to the set of monitored children (spec §4.7:
// "Registered children are {pid, sessionId, terminateSessionOnExit,
// moduleCtx}").
func (m *Monitor) Register(pid int, sessionID uint32, terminateSessionOnExit bool, moduleCtx any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[pid] = &record{
		pid:                    pid,
		sessionID:              sessionID,
		terminateSessionOnExit: terminateSessionOnExit,
		moduleCtx:              moduleCtx,
	}
	return nil
}

// Unregister removes pid from monitoring without reaping it, used when a
// module stops its own process cleanly and has already waited on it.
func (m *Monitor) Unregister(pid int) {
	m.mu.Lock()
	delete(m.records, pid)
	m.mu.Unlock()
}

// Run polls every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	m.mu.Lock()
	pids := make([]int, 0, len(m.records))
	for pid := range m.records {
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	for _, pid := range pids {
		m.pollOne(pid)
	}
}

func (m *Monitor) pollOne(pid int) {
	var status unix.WaitStatus
	wpid, err := m.wait4(pid, &status, unix.WNOHANG, nil)

	if errors.Is(err, unix.ECHILD) {
		// spec §4.7: "On ECHILD, remove silently."
		m.mu.Lock()
		delete(m.records, pid)
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.logger.Warn("process monitor wait4 failed", slog.Int("pid", pid), slog.String("error", err.Error()))
		return
	}
	if wpid == 0 {
		// Still running.
		return
	}

	m.mu.Lock()
	rec, ok := m.records[pid]
	if ok {
		delete(m.records, pid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.logger.Info("backend process exited",
		slog.Int("pid", pid),
		slog.Uint64("session_id", uint64(rec.sessionID)),
	)

	if !rec.terminateSessionOnExit {
		return
	}
	if m.checker != nil && !m.checker.IsCurrentContext(rec.sessionID, rec.moduleCtx) {
		return
	}
	if m.enqueuer != nil {
		m.enqueuer.EnqueueTaskEnd(rec.sessionID)
	}
}

// Len reports how many processes are currently registered, for tests and
// diagnostics.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
