// Package x11dummy is a built-in stand-in backend module representing a
// logged-on user's display (spec §4.5's post-authentication backend). It
// models the session/process relationship described in §4.7 by launching
// a short-lived placeholder child process instead of a real X server, so
// the process monitor's terminate-on-exit path has something real to
// observe.
package x11dummy

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/ogon-project/ogon-sessiond/internal/module"
)

// ProcessRegistrar is the subset of internal/procmon's API x11dummy needs:
// register the child it spawns so the monitor can reap it and trigger
// TaskEnd on exit.
type ProcessRegistrar interface {
	Register(pid int, sessionID uint32, terminateSessionOnExit bool, moduleCtx any) error
}

// Module is the x11dummy Module implementation.
type Module struct {
	monitor ProcessRegistrar
	command string

	mu    sync.Mutex
	procs map[uint32]*exec.Cmd
}

// New constructs an x11dummy Module. command is the placeholder binary to
// run per session (e.g. "sleep"); in production this would be the real
// backend launcher.
func New(monitor ProcessRegistrar, command string) *Module {
	if command == "" {
		command = "sleep"
	}
	return &Module{monitor: monitor, command: command, procs: make(map[uint32]*exec.Cmd)}
}

func (*Module) Init(ctx context.Context) error { return nil }

func (*Module) New(ctx context.Context) (*module.Context, error) {
	return &module.Context{}, nil
}

func (*Module) Free(ctx context.Context, mc *module.Context) {}

func (m *Module) Start(ctx context.Context, mc *module.Context) (string, error) {
	cmd := exec.CommandContext(ctx, m.command, "infinity")
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("x11dummy: start backend process: %w", err)
	}

	m.mu.Lock()
	m.procs[mc.SessionID] = cmd
	m.mu.Unlock()

	if m.monitor != nil {
		if err := m.monitor.Register(cmd.Process.Pid, mc.SessionID, true, mc); err != nil {
			return "", fmt.Errorf("x11dummy: register process monitor: %w", err)
		}
	}

	mc.WinstationName = "console"
	return fmt.Sprintf("ogon-x11dummy-%d", mc.SessionID), nil
}

func (m *Module) Stop(ctx context.Context, mc *module.Context) error {
	m.mu.Lock()
	cmd, ok := m.procs[mc.SessionID]
	delete(m.procs, mc.SessionID)
	m.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func (*Module) Connect(ctx context.Context, mc *module.Context) error { return nil }

func (*Module) Disconnect(ctx context.Context, mc *module.Context) error { return nil }

func (*Module) Destroy(ctx context.Context, mc *module.Context) error { return nil }

func (*Module) GetCustomInfo(mc *module.Context) any { return nil }
