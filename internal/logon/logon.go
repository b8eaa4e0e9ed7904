// Package logon implements the session manager's central orchestration:
// the logon flow (spec.md §4.5), reconnect/single-session policy (§4.8),
// and the generic call router that binds inbound RPC calls onto a
// connection or session (§4.4). It is the component that ties together
// internal/session, internal/token, internal/module and internal/config
// into the behavior internal/rpcengine.Router and internal/procmon's
// collaborator interfaces expect, grounded on original_source's
// SessionManager.cpp/CallOnUser.cpp dispatch and built in the shape of
// internal/rpcengine's own Conn (single owning type, narrow collaborator
// interfaces, explicit side tables instead of callback fields).
package logon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ogon-project/ogon-sessiond/internal/call"
	"github.com/ogon-project/ogon-sessiond/internal/config"
	"github.com/ogon-project/ogon-sessiond/internal/metrics"
	"github.com/ogon-project/ogon-sessiond/internal/module"
	"github.com/ogon-project/ogon-sessiond/internal/rpcwire"
	"github.com/ogon-project/ogon-sessiond/internal/session"
	"github.com/ogon-project/ogon-sessiond/internal/token"
)

// replyFunc matches internal/rpcengine.Router's reply callback shape.
type replyFunc func(status rpcwire.Status, payload []byte, errDesc string)

// AuthModule verifies a set of credentials. The session manager never
// checks passwords itself (spec §1: "delegated to pluggable auth
// modules"); production deployments supply one backed by PAM or a
// directory service.
type AuthModule interface {
	Authenticate(ctx context.Context, user, domain, password string) (bool, error)
}

// DenyEmptyPasswordAuth is the built-in default AuthModule: a non-empty
// user and password authenticate, anything else fails. It exists so the
// daemon runs out of the box; real deployments plug in their own.
type DenyEmptyPasswordAuth struct{}

// Authenticate implements AuthModule.
func (DenyEmptyPasswordAuth) Authenticate(_ context.Context, user, _, password string) (bool, error) {
	return user != "" && password != "", nil
}

// UserTokenIssuer mints the opaque per-logon token a module.Context carries
// as UserToken, standing in for a Windows logon token in original_source.
type UserTokenIssuer interface {
	Issue(ctx context.Context, user, domain string) (string, error)
}

type sequentialUserTokenIssuer struct {
	mu   sync.Mutex
	next uint64
}

// Issue implements UserTokenIssuer with a process-local monotonic counter.
func (s *sequentialUserTokenIssuer) Issue(_ context.Context, user, domain string) (string, error) {
	s.mu.Lock()
	s.next++
	n := s.next
	s.mu.Unlock()
	return fmt.Sprintf("utok-%s-%s-%d", user, domain, n), nil
}

// parkedCall is a decoded inbound call held until its connection binds to
// a session. internal/session.Connection tracks the Init/HasSession state
// transition and a minimal PendingCall record; the decoded call object and
// its reply closure live here instead, since PendingCall has no room for
// either (spec §4.4's park-and-drain queue, split across the two
// packages to keep internal/session free of an internal/call dependency).
type parkedCall struct {
	in    call.CallIn
	reply replyFunc
}

// Config seeds a Manager with the collaborators it orchestrates.
type Config struct {
	Sessions      *session.Store
	Connections   *session.ConnectionStore
	Tokens        *token.Store
	Modules       *module.Manager
	Properties    *config.PropertyStore
	Environment   config.EnvironmentConfig
	Policy        config.SessionConfig
	DefaultModule string

	Auth       AuthModule
	UserTokens UserTokenIssuer
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Manager is the session manager's orchestrator: internal/rpcengine.Router
// implementation, logon flow driver and reconnect/single-session policy
// engine.
type Manager struct {
	sessions      *session.Store
	connections   *session.ConnectionStore
	tokens        *token.Store
	modules       *module.Manager
	properties    *config.PropertyStore
	envPolicy     config.EnvironmentConfig
	policy        config.SessionConfig
	defaultModule string

	auth       AuthModule
	userTokens UserTokenIssuer
	metrics    *metrics.Collector
	logger     *slog.Logger

	mu     sync.Mutex
	parked map[uint32][]parkedCall
}

// NewManager constructs a Manager. Auth/UserTokens/Metrics/Logger default
// to DenyEmptyPasswordAuth, a sequential issuer, no metrics, and
// slog.Default respectively when left zero.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		sessions:      cfg.Sessions,
		connections:   cfg.Connections,
		tokens:        cfg.Tokens,
		modules:       cfg.Modules,
		properties:    cfg.Properties,
		envPolicy:     cfg.Environment,
		policy:        cfg.Policy,
		defaultModule: cfg.DefaultModule,
		auth:          cfg.Auth,
		userTokens:    cfg.UserTokens,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		parked:        make(map[uint32][]parkedCall),
	}
	if m.auth == nil {
		m.auth = DenyEmptyPasswordAuth{}
	}
	if m.userTokens == nil {
		m.userTokens = &sequentialUserTokenIssuer{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// RouteIn implements internal/rpcengine.Router. LogonUser is dispatched to
// the logon flow on its own goroutine (spec §4.5's session-selection step
// can block briefly on a prior session's TaskEnd under the single-session
// policy); every other call type follows the generic connection/session
// routing rule in §4.4.
func (m *Manager) RouteIn(ctx context.Context, target call.Target, in call.CallIn, reply func(status rpcwire.Status, payload []byte, errDesc string)) {
	if logonUser, ok := in.(*call.LogonUser); ok {
		go m.handleLogonUser(ctx, logonUser, reply)
		return
	}
	m.routeGeneric(ctx, target, in, reply)
}

// Reset implements internal/rpcengine.Router. The connection store's own
// Reset wipes every registered connection at once, matching spec §4.3's
// "global reset wipes all connections and aborts pending calls" — the
// transport connection id identifying which pipe failed is not further
// used to scope the blast radius.
func (m *Manager) Reset(_ uuid.UUID) {
	m.connections.Reset()

	m.mu.Lock()
	parked := m.parked
	m.parked = make(map[uint32][]parkedCall)
	m.mu.Unlock()

	for _, entries := range parked {
		for _, p := range entries {
			p.reply(rpcwire.StatusTransportError, nil, "connection reset")
		}
	}
}

func (m *Manager) routeGeneric(ctx context.Context, target call.Target, in call.CallIn, reply replyFunc) {
	switch target.Kind {
	case call.TargetSession:
		sess, ok := m.sessions.Lookup(target.SessionID)
		if !ok {
			reply(rpcwire.StatusNotFound, nil, "logon: unknown session")
			return
		}
		m.submitCallIn(sess, in, reply)

	case call.TargetConnection:
		conn, _ := m.connections.Create(target.ConnectionID, session.ClientInfo{})
		switch conn.State() {
		case session.ConnStateHasSession:
			sess, ok := m.sessions.Lookup(conn.SessionID())
			if !ok {
				reply(rpcwire.StatusNotFound, nil, "logon: connection's session is gone")
				return
			}
			m.submitCallIn(sess, in, reply)
		case session.ConnStateSessionFailed:
			reply(rpcwire.StatusFailed, nil, "logon: connection's session failed")
		default:
			conn.Park(session.PendingCall{MsgType: uint32(in.MsgType())})
			m.mu.Lock()
			m.parked[target.ConnectionID] = append(m.parked[target.ConnectionID], parkedCall{in: in, reply: reply})
			m.mu.Unlock()
		}

	default:
		reply(rpcwire.StatusBadRequestData, nil, "logon: unknown target kind")
	}
}

// submitCallIn enqueues in as a TaskCallIn on sess's executor, rejecting
// SBP-family calls outright when the session has not negotiated SBP
// compatibility (spec §4.4: "An incoming SBP-family call... requires SBP
// version compatibility on the target session").
func (m *Manager) submitCallIn(sess *session.Session, in call.CallIn, reply replyFunc) {
	if in.MsgType().IsSBPFamily() && !sess.SBPCompatible() {
		reply(rpcwire.StatusFailed, nil, "logon: session is not SBP-compatible")
		return
	}
	t := &TaskCallIn{mgr: m, session: sess, in: in, reply: reply}
	if err := sess.Executor().Submit(t); err != nil {
		reply(rpcwire.StatusTransportError, nil, err.Error())
	}
}

// drainParked moves every call parked for connID onto sess's executor,
// called once the connection binds to a session (spec §4.4's drain step).
func (m *Manager) drainParked(connID uint32, sess *session.Session) {
	m.mu.Lock()
	entries := m.parked[connID]
	delete(m.parked, connID)
	m.mu.Unlock()

	for _, p := range entries {
		m.submitCallIn(sess, p.in, p.reply)
	}
}

// EnqueueTaskEnd implements procmon.TaskEndEnqueuer: the process monitor
// observed a terminate-session-on-exit process die and asks the session to
// be torn down. Unknown session ids are ignored; the session is already
// gone.
func (m *Manager) EnqueueTaskEnd(sessionID uint32) {
	sess, ok := m.sessions.Lookup(sessionID)
	if !ok {
		return
	}
	_ = sess.Executor().Submit(&TaskEnd{mgr: m, session: sess})
}

// EndSession implements internal/otsapi.SessionEnder: logoffSession and
// disconnectSession's wait variant tear a session down the same way the
// inbound LogoffUserSession call and the single-session policy already do,
// so OTSAPI dispatches onto this instead of duplicating the teardown
// sequence.
func (m *Manager) EndSession(ctx context.Context, sess *session.Session) error {
	return m.endSession(ctx, sess)
}

// IsCurrentContext implements procmon.CurrentContextChecker (spec §4.7's
// causality check against a stale, already-replaced module context).
func (m *Manager) IsCurrentContext(sessionID uint32, moduleCtx any) bool {
	cur, ok := m.modules.CurrentContext(sessionID)
	if !ok {
		return false
	}
	return cur == moduleCtx
}

// toEnvMap splits "KEY=VALUE" entries into a map, for module.Context.Env.
func toEnvMap(kvs []string) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}
