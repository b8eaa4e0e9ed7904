package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ogon-project/ogon-sessiond/internal/taskexec"
)

// ErrSessionStopped is returned when a caller tries to interact with a
// session whose executor has already been shut down.
var ErrSessionStopped = errors.New("session: stopped")

// Notifier is the external session-notifier collaborator (spec §4.1): an
// out-of-process sink receives a state-change reason whenever a transition
// fires. Implementations must not block the session goroutine for long.
type Notifier interface {
	NotifySessionChange(ctx context.Context, sessionID uint32, reason ChangeReason)
}

// ChangeReason names the notification reasons the state machine emits.
type ChangeReason uint8

const (
	ReasonRemoteConnect ChangeReason = iota
	ReasonRemoteDisconnect
	ReasonSessionLogon
	ReasonSessionLogoff
	ReasonSessionRemoteControl
)

func (r ChangeReason) String() string {
	switch r {
	case ReasonRemoteConnect:
		return "RemoteConnect"
	case ReasonRemoteDisconnect:
		return "RemoteDisconnect"
	case ReasonSessionLogon:
		return "SessionLogon"
	case ReasonSessionLogoff:
		return "SessionLogoff"
	case ReasonSessionRemoteControl:
		return "SessionRemoteControl"
	default:
		return "Unknown"
	}
}

// ModuleBinder is the subset of module-lifecycle behavior the session FSM
// needs to drive Connect/Disconnect side-effects (spec §4.1, §4.6). The
// full module registry lives in internal/module; Session depends only on
// this narrow interface to avoid an import cycle.
type ModuleBinder interface {
	Connect(ctx context.Context, sessionID uint32) error
	Disconnect(ctx context.Context, sessionID uint32) error
}

// ModuleBinding names the backend module bound to a session and carries an
// opaque context pointer managed by internal/module.
type ModuleBinding struct {
	ModuleName string
	Context    any
}

// Identity is the pre- and post-logon identity carried by a session.
type Identity struct {
	User   string
	Domain string

	AuthUser   string
	AuthDomain string

	ClientHost    string
	ClientAddr    string
	WinstationName string
}

// Resolution is the negotiated display size.
type Resolution struct {
	X, Y int
}

// Session is the central entity described in spec §3. Mutable fields are
// guarded by mu; Connect-state reads go through atomic-style accessors
// backed by the same lock, matching the teacher's one-critical-section-
// per-owner discipline rather than per-field atomics (the session's fields
// are read and written together far more often than they're read alone).
type Session struct {
	id uint32

	executor *taskexec.Executor
	notifier Notifier
	binder   ModuleBinder

	mu sync.Mutex

	identity   Identity
	resolution Resolution
	maxRes     Resolution

	current *ModuleBinding
	auth    *ModuleBinding

	state                   State
	currentStateChangeTime  time.Time
	connectTime             time.Time
	disconnectTime          time.Time
	logonTime               time.Time

	ogonCookie    string
	backendCookie string

	permissionMask uint32
	shadowedBy     []uint32

	authToken string

	sbpCompatible bool

	env map[string]string

	cancelExec context.CancelFunc
}

// Config seeds a new Session. Notifier and Binder may be nil in tests that
// don't exercise the FSM's side effects (e.g. FSM table tests use
// ApplyEvent directly instead).
type Config struct {
	ID             uint32
	Notifier       Notifier
	Binder         ModuleBinder
	PermissionMask uint32
	OgonCookie     string
	BackendCookie  string
}

// New constructs a Session in StateInit with its own executor goroutine.
// The executor's lifetime is decoupled from the caller's context via
// context.WithoutCancel, matching the teacher's pattern of letting a
// registered resource outlive the request that created it; Close cancels it
// explicitly.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.ID == 0 {
		return nil, fmt.Errorf("session: id must be nonzero")
	}
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:             cfg.ID,
		notifier:       cfg.Notifier,
		binder:         cfg.Binder,
		state:          StateInit,
		permissionMask: cfg.PermissionMask,
		ogonCookie:     cfg.OgonCookie,
		backendCookie:  cfg.BackendCookie,
		env:            make(map[string]string),
		cancelExec:     cancel,
	}
	s.executor = taskexec.New(execCtx, nil)
	return s, nil
}

// ID returns the session's immutable identity.
func (s *Session) ID() uint32 { return s.id }

// State returns the current connect-state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Executor exposes the session's task executor for callers enqueuing
// TaskCallIn/TaskLogonUser/TaskEnd work (internal/call, internal/rpcengine).
func (s *Session) Executor() *taskexec.Executor { return s.executor }

// Identity returns a copy of the session's current identity fields.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SetIdentity updates the session's identity (called once logon succeeds).
func (s *Session) SetIdentity(id Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

// Cookies returns the two front-end-facing attach cookies.
func (s *Session) Cookies() (ogon, backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ogonCookie, s.backendCookie
}

// PermissionMask returns the session's permission bitmask.
func (s *Session) PermissionMask() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissionMask
}

// SetPermissionMask updates the session's permission bitmask.
func (s *Session) SetPermissionMask(mask uint32) {
	s.mu.Lock()
	s.permissionMask = mask
	s.mu.Unlock()
}

// AuthToken returns the opaque token registered with the permission store
// for this session, if any.
func (s *Session) AuthToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authToken
}

// SetAuthToken binds the session's permission-store token.
func (s *Session) SetAuthToken(token string) {
	s.mu.Lock()
	s.authToken = token
	s.mu.Unlock()
}

// AddShadower records that sessionID is now shadowing this session.
func (s *Session) AddShadower(sessionID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.shadowedBy {
		if id == sessionID {
			return
		}
	}
	s.shadowedBy = append(s.shadowedBy, sessionID)
}

// RemoveShadower removes sessionID from the shadow list. Per the Open
// Question decision recorded in SPEC_FULL.md §6, the entry is always
// removed regardless of whether remote control is also being stopped, so
// the list never retains a dangling reference.
func (s *Session) RemoveShadower(sessionID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.shadowedBy {
		if id == sessionID {
			s.shadowedBy = append(s.shadowedBy[:i], s.shadowedBy[i+1:]...)
			return
		}
	}
}

// ShadowedBy returns a copy of the current shadow list.
func (s *Session) ShadowedBy() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, len(s.shadowedBy))
	copy(out, s.shadowedBy)
	return out
}

// SBPCompatible reports whether this session negotiated SBP-family call
// compatibility with its backend module.
func (s *Session) SBPCompatible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sbpCompatible
}

// SetSBPCompatible records the negotiated SBP compatibility flag.
func (s *Session) SetSBPCompatible(v bool) {
	s.mu.Lock()
	s.sbpCompatible = v
	s.mu.Unlock()
}

// Timestamps returns the connect/disconnect/logon times recorded so far;
// a zero value means the corresponding transition has not yet happened.
func (s *Session) Timestamps() (connect, disconnect, logon time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectTime, s.disconnectTime, s.logonTime
}

// Fire applies event to the session's state machine, executes the returned
// actions (module Connect/Disconnect, notifier emission, timestamp
// bookkeeping) and returns the FSMResult for callers that want to log the
// transition. Unknown (state, event) pairs are logged by the caller of
// Fire, not here, matching §4.1's "logged but not rejected" wording — the
// FSM stays a pure function and Fire is its one side-effecting wrapper.
func (s *Session) Fire(ctx context.Context, event Event) (FSMResult, error) {
	s.mu.Lock()
	result := ApplyEvent(s.state, event)
	if !result.Changed {
		s.mu.Unlock()
		return result, nil
	}
	s.state = result.NewState
	s.currentStateChangeTime = now()
	s.mu.Unlock()

	var errs error
	for _, action := range result.Actions {
		if err := s.applyAction(ctx, action); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return result, errs
}

func (s *Session) applyAction(ctx context.Context, action Action) error {
	switch action {
	case ActionEmitRemoteConnect:
		s.notify(ctx, ReasonRemoteConnect)
	case ActionEmitRemoteDisconnect:
		s.notify(ctx, ReasonRemoteDisconnect)
	case ActionEmitSessionLogon:
		s.notify(ctx, ReasonSessionLogon)
	case ActionEmitSessionLogoff:
		s.notify(ctx, ReasonSessionLogoff)
	case ActionEmitSessionRemoteControl:
		s.notify(ctx, ReasonSessionRemoteControl)
	case ActionModuleConnect:
		if s.binder != nil {
			return s.binder.Connect(ctx, s.id)
		}
	case ActionModuleDisconnect:
		if s.binder != nil {
			return s.binder.Disconnect(ctx, s.id)
		}
	case ActionSetConnectTime:
		s.mu.Lock()
		if s.connectTime.IsZero() {
			s.connectTime = now()
		}
		s.mu.Unlock()
	case ActionSetDisconnectTime:
		s.mu.Lock()
		s.disconnectTime = now()
		s.mu.Unlock()
	case ActionSetLogonTimeIfUnset:
		s.mu.Lock()
		if s.logonTime.IsZero() {
			s.logonTime = now()
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) notify(ctx context.Context, reason ChangeReason) {
	if s.notifier != nil {
		s.notifier.NotifySessionChange(ctx, s.id, reason)
	}
}

// Close stops the session's executor, aborting any queued tasks. It does
// not remove the session from a store; callers use SessionStore.Remove for
// the full teardown sequence (executor stop, module stop, token release).
func (s *Session) Close() {
	s.executor.Stop()
	if s.cancelExec != nil {
		s.cancelExec()
	}
}

// now is a seam so tests can observe deterministic timestamps if needed
// later; production always uses wall-clock time.
var now = time.Now
