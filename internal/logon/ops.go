package logon

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ogon-project/ogon-sessiond/internal/call"
	"github.com/ogon-project/ogon-sessiond/internal/envblock"
	"github.com/ogon-project/ogon-sessiond/internal/module"
	"github.com/ogon-project/ogon-sessiond/internal/rpcwire"
	"github.com/ogon-project/ogon-sessiond/internal/session"
	"github.com/ogon-project/ogon-sessiond/internal/token"
)

// handleLogonUser drives spec §4.5's logon flow up to the point where the
// heavy lifting (module start, token issuance, reply) is handed off to a
// TaskLogonUser on the chosen session's own executor. It runs on its own
// goroutine off the RPC read loop so a single-session policy's wait for a
// prior session's TaskEnd never stalls unrelated traffic.
func (m *Manager) handleLogonUser(ctx context.Context, in *call.LogonUser, reply replyFunc) {
	ci := session.ClientInfo{
		Width:        int(in.Width),
		Height:       int(in.Height),
		ColorDepth:   int(in.ColorDepth),
		Hostname:     in.ClientHost,
		Address:      in.ClientAddr,
		Build:        in.ClientBuild,
		ProductID:    in.ClientProductID,
		HWID:         in.ClientHwID,
		ProtocolType: in.ProtocolType,
	}
	conn, _ := m.connections.Create(in.ConnectionID, ci)

	if conn.AuthStatus() != session.AuthStatusUnauthenticated {
		reply(rpcwire.StatusFailed, nil, "logon: connection already authenticated")
		return
	}

	authenticated := m.authenticate(ctx, in.User, in.Domain, in.Password)

	status := session.AuthStatusFailed
	if authenticated {
		status = session.AuthStatusAuthenticated
	}
	if err := conn.Authenticate(in.User, in.Domain, status); err != nil {
		reply(rpcwire.StatusFailed, nil, err.Error())
		return
	}

	var sess *session.Session
	var moduleName string
	var err error
	if authenticated {
		sess, err = m.selectSession(ctx, in.User, in.Domain, in.ClientHost)
		moduleName = m.defaultModule
	} else {
		sess, err = m.sessions.Create(ctx, uint32(token.PermGuest))
		moduleName = "greeter"
	}
	if err != nil {
		reply(rpcwire.StatusFailed, nil, err.Error())
		return
	}

	task := &TaskLogonUser{
		mgr:           m,
		session:       sess,
		conn:          conn,
		authenticated: authenticated,
		moduleName:    moduleName,
		in:            in,
		reply:         reply,
	}
	if err := sess.Executor().Submit(task); err != nil {
		reply(rpcwire.StatusTransportError, nil, err.Error())
	}
}

// authenticate evaluates the group allow/deny policy (spec §4.8) and, if
// the caller's groups pass it, delegates credential verification to the
// configured AuthModule. A group-policy error is treated as a failed
// logon rather than propagated, since the wire protocol has no channel for
// it beyond the logon failure path itself.
func (m *Manager) authenticate(ctx context.Context, user, domain, password string) bool {
	allowed, err := m.tokens.CheckGroupPolicy(user, m.policy.AllowGroups, m.policy.DenyGroups)
	if err != nil {
		m.logger.Warn("group policy check failed", "user", user, "error", err)
		return false
	}
	if !allowed {
		return false
	}
	ok, err := m.auth.Authenticate(ctx, user, domain, password)
	if err != nil {
		m.logger.Warn("auth module error", "user", user, "error", err)
		return false
	}
	return ok
}

// selectSession applies the single-session and reconnect policies (spec
// §4.8) and returns the session a successful logon binds to: a prior live
// session logged off first when single-session is set, then the first
// matching disconnected session when reconnect is set, falling back to a
// freshly created session.
func (m *Manager) selectSession(ctx context.Context, user, domain, clientHost string) (*session.Session, error) {
	if m.policy.SingleSession {
		for _, s := range m.sessions.FindByUser(user, domain) {
			switch s.State() {
			case session.StateConnected, session.StateActive, session.StateShadow, session.StateConnectQuery:
				if err := m.enqueueAndWaitTaskEnd(ctx, s); err != nil {
					m.logger.Warn("single-session policy: end prior session failed", "session", s.ID(), "error", err)
				}
			}
		}
	}

	if m.policy.Reconnect {
		var candidates []*session.Session
		if m.policy.ReconnectFromSameClient {
			candidates = m.sessions.FindByUserAndHost(user, domain, clientHost)
		} else {
			candidates = m.sessions.FindByUser(user, domain)
		}
		for _, s := range candidates {
			if s.State() == session.StateDisconnected {
				return s, nil
			}
		}
	}

	mask := token.ParsePermissionLevel(m.policy.Permission)
	return m.sessions.Create(ctx, mask)
}

// enqueueAndWaitTaskEnd submits a TaskEnd onto sess's own executor and
// blocks until it completes, the "waits for its TaskEnd" half of the
// single-session policy described in spec §4.8.
func (m *Manager) enqueueAndWaitTaskEnd(ctx context.Context, sess *session.Session) error {
	completion := call.NewCompletion()
	t := &TaskEnd{mgr: m, session: sess, completion: completion}
	if err := sess.Executor().Submit(t); err != nil {
		return err
	}
	_, _, errDesc, err := completion.Wait(ctx)
	if err != nil {
		return err
	}
	if errDesc != "" {
		return errors.New(errDesc)
	}
	return nil
}

// endSession tears a session down: it walks whatever FSM transitions are
// needed to reach StateDown, stops its bound module, releases its
// permission-store token and property overrides, and removes it from the
// store. The store removal is dispatched on its own goroutine because
// Store.Remove stops the session's executor, and endSession itself may be
// running as a task on that very executor — calling Stop synchronously
// from inside one of its own tasks would deadlock.
func (m *Manager) endSession(ctx context.Context, sess *session.Session) error {
	switch sess.State() {
	case session.StateActive:
		sess.Fire(ctx, session.EventDisconnect)
	case session.StateShadow:
		sess.Fire(ctx, session.EventShadowStop)
		sess.Fire(ctx, session.EventDisconnect)
	}
	if _, err := sess.Fire(ctx, session.EventTerminate); err != nil {
		m.logger.Warn("session terminate transition reported an error", "session", sess.ID(), "error", err)
	}

	var errs error
	if err := m.modules.StopSession(ctx, sess.ID()); err != nil {
		errs = errors.Join(errs, fmt.Errorf("stop modules: %w", err))
	}
	if tok := sess.AuthToken(); tok != "" {
		m.tokens.Unregister(tok)
	}
	m.tokens.PurgeSessionTokens(sess.ID())
	m.properties.ClearSession(sess.ID())
	if m.metrics != nil {
		m.metrics.UnregisterSession()
	}

	id := sess.ID()
	go m.sessions.Remove(id)
	return errs
}

// AdminLogon implements internal/otsapi.LogonDriver: logonConnection's
// administrative equivalent of the wire LogonUser flow. It authenticates
// connID directly (the caller's own token already carries the LOGON
// permission spec.md §6 requires), then reuses TaskLogonUser for session
// selection, module start, token issuance and parked-call drain instead of
// duplicating that sequence.
func (m *Manager) AdminLogon(ctx context.Context, connID uint32, user, domain string, ci session.ClientInfo) (pipeName string, sessionID uint32, err error) {
	conn, _ := m.connections.Create(connID, ci)
	if conn.AuthStatus() != session.AuthStatusUnauthenticated {
		return "", 0, fmt.Errorf("logon: connection %d already authenticated", connID)
	}
	if err := conn.Authenticate(user, domain, session.AuthStatusAuthenticated); err != nil {
		return "", 0, err
	}

	sess, err := m.selectSession(ctx, user, domain, ci.Hostname)
	if err != nil {
		return "", 0, err
	}

	completion := call.NewCompletion()
	task := &TaskLogonUser{
		mgr:           m,
		session:       sess,
		conn:          conn,
		authenticated: true,
		moduleName:    m.defaultModule,
		in: &call.LogonUser{
			ConnectionID: connID,
			User:         user,
			Domain:       domain,
			ClientHost:   ci.Hostname,
			ClientAddr:   ci.Address,
			Width:        uint32(ci.Width),
			Height:       uint32(ci.Height),
			ColorDepth:   uint32(ci.ColorDepth),
		},
		reply: func(status rpcwire.Status, payload []byte, errDesc string) {
			st := 0
			if status != rpcwire.StatusSuccess {
				st = 1
			}
			completion.Fire(st, payload, errDesc)
		},
	}
	if err := sess.Executor().Submit(task); err != nil {
		return "", 0, err
	}

	_, payload, errDesc, err := completion.Wait(ctx)
	if err != nil {
		return "", 0, err
	}
	if errDesc != "" {
		return "", 0, errors.New(errDesc)
	}

	var info call.LogonInfo
	if err := info.Decode(payload); err != nil {
		return "", 0, err
	}
	return info.PipeName, sess.ID(), nil
}

// startModule resolves and starts moduleName for sess, building the
// environment block from the ambient process environment and the
// connection's negotiated display parameters (spec §4.5 step d, §6's
// environment policy).
func (m *Manager) startModule(ctx context.Context, sess *session.Session, moduleName string, in *call.LogonUser, width, height uint32) (pipeName string, err error) {
	env := envblock.Build(os.Environ(), m.envPolicy, envblock.SessionInfo{
		SessionID:  sess.ID(),
		User:       in.User,
		Domain:     in.Domain,
		ClientHost: in.ClientHost,
		Width:      width,
		Height:     height,
		ColorDepth: in.ColorDepth,
	})

	userToken, err := m.userTokens.Issue(ctx, in.User, in.Domain)
	if err != nil {
		return "", fmt.Errorf("issue user token: %w", err)
	}

	return m.modules.StartModule(ctx, sess.ID(), moduleName, module.Context{
		UserName: in.User,
		Domain:   in.Domain,
		UserToken: userToken,
		Env:      toEnvMap(env),
		RemoteIP: in.ClientAddr,
	})
}
