// Package module implements the backend/auth module registry and lifecycle
// manager (spec §4.6, §2 "Module manager"): modules are registered by name
// at startup, a per-session Context is created for each logon, and the
// manager drives Init/New/Start/Connect/Disconnect/Stop/Free across the
// module's lifetime.
package module

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Kind distinguishes a backend display module from an authentication
// module (spec §3: "type tag ∈ {backend, auth}").
type Kind uint8

const (
	KindBackend Kind = iota
	KindAuth
)

// Context is the per-session instance of a module (spec §3 "Module
// context"): session id, user identity, environment, base config path and
// the remote IP the front end connected from, plus whatever opaque state
// the module itself returns from New.
type Context struct {
	SessionID      uint32
	UserName       string
	Domain         string
	UserToken      string
	Env            map[string]string
	BaseConfigPath string
	RemoteIP       string

	PipeName       string
	WinstationName string

	state any
}

// Module is the entrypoint table every registered module implements (spec
// §3: "entrypoints table (Init, New, Free, Start, Stop, GetCustomInfo,
// Connect, Disconnect, Destroy)").
type Module interface {
	Init(ctx context.Context) error
	New(ctx context.Context) (*Context, error)
	Free(ctx context.Context, mc *Context)
	Start(ctx context.Context, mc *Context) (pipeName string, err error)
	Stop(ctx context.Context, mc *Context) error
	Connect(ctx context.Context, mc *Context) error
	Disconnect(ctx context.Context, mc *Context) error
	Destroy(ctx context.Context, mc *Context) error
	GetCustomInfo(mc *Context) any
}

// Launcher optionally runs a backend module out-of-process (spec §3:
// "Backend modules may optionally run out-of-process via a launcher
// helper binary"). A module that does not need this is simply never
// wrapped with one.
type Launcher interface {
	Launch(ctx context.Context, moduleName string, mc *Context) (pid int, pipeName string, err error)
	Terminate(ctx context.Context, pid int) error
}

var (
	// ErrUnknownModule is returned when a name has no registered Module.
	ErrUnknownModule = errors.New("module: unknown module")
	// ErrNoCurrentBinding is returned when an operation needs a session's
	// current module binding but none exists.
	ErrNoCurrentBinding = errors.New("module: no current binding for session")
	// ErrStartFailed mirrors spec §4.6's "empty string means failure"
	// convention from Start, normalized into a Go error.
	ErrStartFailed = errors.New("module: start returned empty pipe name")
)

type registration struct {
	kind Kind
	mod  Module
}

type binding struct {
	name string
	ctx  *Context
}

type sessionModules struct {
	current *binding
	auth    *binding
}

// Manager is the registry + per-session lifecycle tracker. It implements
// session.ModuleBinder so a *session.Session can drive Connect/Disconnect
// through it without internal/session importing this package.
type Manager struct {
	mu       sync.Mutex
	modules  map[string]registration
	sessions map[uint32]*sessionModules
	launcher Launcher
}

// New constructs an empty Manager. launcher may be nil; modules that never
// request out-of-process execution don't need one.
func New(launcher Launcher) *Manager {
	return &Manager{
		modules:  make(map[string]registration),
		sessions: make(map[uint32]*sessionModules),
		launcher: launcher,
	}
}

// Register adds a module under name, calling its Init hook immediately.
func (m *Manager) Register(ctx context.Context, name string, kind Kind, mod Module) error {
	if err := mod.Init(ctx); err != nil {
		return fmt.Errorf("module: init %q: %w", name, err)
	}
	m.mu.Lock()
	m.modules[name] = registration{kind: kind, mod: mod}
	m.mu.Unlock()
	return nil
}

func (m *Manager) lookup(name string) (registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.modules[name]
	if !ok {
		return registration{}, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	return reg, nil
}

func (m *Manager) sessionEntry(sessionID uint32) *sessionModules {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.sessions[sessionID]
	if !ok {
		se = &sessionModules{}
		m.sessions[sessionID] = se
	}
	return se
}

// StartModule resolves moduleName, allocates a fresh Context, calls New
// then Start, and records it as the session's current module binding
// (spec §4.6 steps 1-4). On Start failure it runs Stop and Free before
// returning ErrStartFailed, matching "on failure run Stop and free all
// owned strings".
func (m *Manager) StartModule(ctx context.Context, sessionID uint32, moduleName string, seed Context) (pipeName string, err error) {
	reg, err := m.lookup(moduleName)
	if err != nil {
		return "", err
	}

	mc, err := reg.mod.New(ctx)
	if err != nil {
		return "", fmt.Errorf("module: new %q: %w", moduleName, err)
	}
	mc.SessionID = sessionID
	mc.UserName = seed.UserName
	mc.Domain = seed.Domain
	mc.UserToken = seed.UserToken
	mc.Env = seed.Env
	mc.BaseConfigPath = seed.BaseConfigPath
	mc.RemoteIP = seed.RemoteIP

	pipeName, err = reg.mod.Start(ctx, mc)
	if err != nil {
		_ = reg.mod.Stop(ctx, mc)
		reg.mod.Free(ctx, mc)
		return "", fmt.Errorf("module: start %q: %w", moduleName, err)
	}
	if pipeName == "" {
		_ = reg.mod.Stop(ctx, mc)
		reg.mod.Free(ctx, mc)
		return "", fmt.Errorf("%w: module %q", ErrStartFailed, moduleName)
	}
	mc.PipeName = pipeName

	se := m.sessionEntry(sessionID)
	m.mu.Lock()
	se.current = &binding{name: moduleName, ctx: mc}
	m.mu.Unlock()
	return pipeName, nil
}

// Connect implements session.ModuleBinder by calling the session's current
// module's Connect hook.
func (m *Manager) Connect(ctx context.Context, sessionID uint32) error {
	return m.withCurrent(sessionID, func(reg registration, mc *Context) error {
		return reg.mod.Connect(ctx, mc)
	})
}

// Disconnect implements session.ModuleBinder by calling the session's
// current module's Disconnect hook.
func (m *Manager) Disconnect(ctx context.Context, sessionID uint32) error {
	return m.withCurrent(sessionID, func(reg registration, mc *Context) error {
		return reg.mod.Disconnect(ctx, mc)
	})
}

func (m *Manager) withCurrent(sessionID uint32, fn func(registration, *Context) error) error {
	m.mu.Lock()
	se, ok := m.sessions[sessionID]
	if !ok || se.current == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: session %d", ErrNoCurrentBinding, sessionID)
	}
	b := se.current
	m.mu.Unlock()

	reg, err := m.lookup(b.name)
	if err != nil {
		return err
	}
	return fn(reg, b.ctx)
}

// StopSession calls Stop and Destroy on the session's current module (and
// its preserved auth module, if any), frees both contexts, and removes the
// session's bookkeeping entry. Called from SessionStore teardown.
func (m *Manager) StopSession(ctx context.Context, sessionID uint32) error {
	m.mu.Lock()
	se, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	var errs error
	for _, b := range []*binding{se.current, se.auth} {
		if b == nil {
			continue
		}
		reg, err := m.lookup(b.name)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if err := reg.mod.Stop(ctx, b.ctx); err != nil {
			errs = errors.Join(errs, err)
		}
		if err := reg.mod.Destroy(ctx, b.ctx); err != nil {
			errs = errors.Join(errs, err)
		}
		reg.mod.Free(ctx, b.ctx)
	}
	return errs
}

// MarkBackendAsAuth preserves the session's current module binding as its
// "auth" binding, clearing current (spec §4.6: "Re-authentication
// preserves the greeter as auth context via markBackendAsAuth()").
func (m *Manager) MarkBackendAsAuth(sessionID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.sessions[sessionID]
	if !ok || se.current == nil {
		return
	}
	se.auth = se.current
	se.current = nil
}

// RestoreBackendFromAuth moves the preserved auth binding back to current,
// the inverse of MarkBackendAsAuth.
func (m *Manager) RestoreBackendFromAuth(sessionID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.sessions[sessionID]
	if !ok || se.auth == nil {
		return
	}
	se.current = se.auth
	se.auth = nil
}

// DestroyAuthBackend tears down and discards the preserved auth binding
// without restoring it, used once re-authentication no longer needs the
// greeter fallback.
func (m *Manager) DestroyAuthBackend(ctx context.Context, sessionID uint32) error {
	m.mu.Lock()
	se, ok := m.sessions[sessionID]
	var b *binding
	if ok {
		b = se.auth
		se.auth = nil
	}
	m.mu.Unlock()
	if b == nil {
		return nil
	}
	reg, err := m.lookup(b.name)
	if err != nil {
		return err
	}
	if err := reg.mod.Stop(ctx, b.ctx); err != nil {
		return err
	}
	if err := reg.mod.Destroy(ctx, b.ctx); err != nil {
		return err
	}
	reg.mod.Free(ctx, b.ctx)
	return nil
}

// CurrentContext returns the session's current module context, if any.
func (m *Manager) CurrentContext(sessionID uint32) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.sessions[sessionID]
	if !ok || se.current == nil {
		return nil, false
	}
	return se.current.ctx, true
}
