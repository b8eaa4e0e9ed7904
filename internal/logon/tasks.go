package logon

import (
	"context"
	"fmt"

	"github.com/ogon-project/ogon-sessiond/internal/call"
	"github.com/ogon-project/ogon-sessiond/internal/rpcwire"
	"github.com/ogon-project/ogon-sessiond/internal/session"
)

// TaskLogonUser finishes the logon flow on the chosen session's own
// executor (spec §4.5): FSM transitions, module start, resolution clamp,
// token issuance, draining any calls parked on the connection, and the
// LogonInfo reply. It implements taskexec.Task.
type TaskLogonUser struct {
	mgr           *Manager
	session       *session.Session
	conn          *session.Connection
	authenticated bool
	moduleName    string
	in            *call.LogonUser
	reply         replyFunc
}

// PreProcess implements taskexec.Task; the logon flow has no setup phase
// distinct from Run.
func (t *TaskLogonUser) PreProcess(ctx context.Context) error { return nil }

// Run implements taskexec.Task.
func (t *TaskLogonUser) Run(ctx context.Context) error {
	sess := t.session

	// User/Domain record the session's confirmed identity and are only
	// set once authentication actually succeeds; AuthUser/AuthDomain
	// record who attempted to log on regardless of outcome, so a failed
	// attempt still leaves an audit trail without claiming the session.
	identity := session.Identity{
		AuthUser:   t.in.User,
		AuthDomain: t.in.Domain,
		ClientHost: t.in.ClientHost,
		ClientAddr: t.in.ClientAddr,
	}
	if t.authenticated {
		identity.User = t.in.User
		identity.Domain = t.in.Domain
	}
	sess.SetIdentity(identity)

	switch sess.State() {
	case session.StateInit:
		sess.Fire(ctx, session.EventConnect)
	case session.StateDisconnected:
		sess.Fire(ctx, session.EventQuery)
		sess.Fire(ctx, session.EventReconnect)
	}
	// A fresh or greeter-bound session only reaches StateConnected above;
	// a successful authentication still owes it the Connected->Active
	// transition. An unauthenticated (greeter) session stays in Connected,
	// and a reconnected session is already Active, so this only fires once.
	if t.authenticated && sess.State() == session.StateConnected {
		sess.Fire(ctx, session.EventLogon)
	}

	width, height := t.in.Width, t.in.Height
	if t.mgr.policy.MaxWidth > 0 && width > uint32(t.mgr.policy.MaxWidth) {
		width = uint32(t.mgr.policy.MaxWidth)
	}
	if t.mgr.policy.MaxHeight > 0 && height > uint32(t.mgr.policy.MaxHeight) {
		height = uint32(t.mgr.policy.MaxHeight)
	}

	pipeName, err := t.mgr.startModule(ctx, sess, t.moduleName, t.in, width, height)
	if err != nil {
		return fmt.Errorf("logon: start module %q: %w", t.moduleName, err)
	}

	if t.authenticated && sess.AuthToken() == "" {
		tok, err := t.mgr.tokens.RegisterSession(sess)
		if err != nil {
			return fmt.Errorf("logon: register session token: %w", err)
		}
		sess.SetAuthToken(tok)
		if t.mgr.metrics != nil {
			t.mgr.metrics.RegisterSession()
		}
	}

	t.conn.BindSession(sess.ID())
	t.mgr.drainParked(t.conn.ID(), sess)

	ogonCookie, backendCookie := sess.Cookies()
	info := &call.LogonInfo{
		PipeName:      pipeName,
		MaxWidth:      width,
		MaxHeight:     height,
		OgonCookie:    ogonCookie,
		BackendCookie: backendCookie,
	}
	payload, err := info.Encode()
	if err != nil {
		return fmt.Errorf("logon: encode response: %w", err)
	}

	t.reply(rpcwire.StatusSuccess, payload, "")
	return nil
}

// PostProcess implements taskexec.Task: a failed Run still owes the caller
// a reply, since Run only calls t.reply itself on the success path.
func (t *TaskLogonUser) PostProcess(ctx context.Context, runErr error) {
	if runErr != nil {
		t.reply(rpcwire.StatusFailed, nil, runErr.Error())
	}
}

// Abort implements taskexec.Task: the session's executor shut down before
// this task ran.
func (t *TaskLogonUser) Abort(err error) {
	t.reply(rpcwire.StatusTransportError, nil, err.Error())
}

// TaskEnd tears a session down on its own executor (spec §4.7's process
// monitor causality, §4.8's single-session policy, and the inbound
// LogoffUserSession call all end a session this way). completion may be
// nil for fire-and-forget callers (the process monitor); callers that need
// to wait (the single-session policy) supply one and block on Wait.
type TaskEnd struct {
	mgr        *Manager
	session    *session.Session
	completion *call.Completion
}

// PreProcess implements taskexec.Task.
func (t *TaskEnd) PreProcess(ctx context.Context) error { return nil }

// Run implements taskexec.Task.
func (t *TaskEnd) Run(ctx context.Context) error {
	return t.mgr.endSession(ctx, t.session)
}

// PostProcess implements taskexec.Task, firing the completion (if any)
// with the outcome of Run.
func (t *TaskEnd) PostProcess(ctx context.Context, runErr error) {
	if t.completion == nil {
		return
	}
	errDesc := ""
	status := 0
	if runErr != nil {
		status = int(rpcwire.StatusFailed)
		errDesc = runErr.Error()
	}
	t.completion.Fire(status, nil, errDesc)
}

// Abort implements taskexec.Task.
func (t *TaskEnd) Abort(err error) {
	if t.completion != nil {
		t.completion.Fire(int(rpcwire.StatusTransportError), nil, err.Error())
	}
}

// TaskCallIn runs a generic decoded call against its routed session (spec
// §4.4, §6's non-logon message families).
type TaskCallIn struct {
	mgr     *Manager
	session *session.Session
	in      call.CallIn
	reply   replyFunc
}

// PreProcess implements taskexec.Task.
func (t *TaskCallIn) PreProcess(ctx context.Context) error { return nil }

// Run implements taskexec.Task.
func (t *TaskCallIn) Run(ctx context.Context) error {
	status, payload, errDesc, err := t.mgr.dispatchCallIn(ctx, t.session, t.in)
	if err != nil {
		return err
	}
	t.reply(status, payload, errDesc)
	return nil
}

// PostProcess implements taskexec.Task.
func (t *TaskCallIn) PostProcess(ctx context.Context, runErr error) {
	if runErr != nil {
		t.reply(rpcwire.StatusFailed, nil, runErr.Error())
	}
}

// Abort implements taskexec.Task.
func (t *TaskCallIn) Abort(err error) {
	t.reply(rpcwire.StatusTransportError, nil, err.Error())
}

// dispatchCallIn implements the business logic for every non-logon call
// type routed onto a session's executor. SwitchTo and RemoteControlEnded
// treat sess as the shadowING (viewer) session: SwitchTo drives sess's own
// FSM into StateShadow and records the pairing on the watched session;
// RemoteControlEnded is the inverse, routed to the viewer session itself.
func (m *Manager) dispatchCallIn(ctx context.Context, sess *session.Session, in call.CallIn) (rpcwire.Status, []byte, string, error) {
	switch v := in.(type) {
	case *call.Ping:
		return rpcwire.StatusSuccess, nil, "", nil

	case *call.SwitchTo:
		target, ok := m.sessions.Lookup(v.TargetSessionID)
		if !ok {
			return rpcwire.StatusNotFound, nil, "logon: unknown switch target", nil
		}
		target.AddShadower(sess.ID())
		sess.Fire(ctx, session.EventShadowStart)
		return rpcwire.StatusSuccess, nil, "", nil

	case *call.DisconnectUserSession:
		sess.Fire(ctx, session.EventDisconnect)
		return rpcwire.StatusSuccess, nil, "", nil

	case *call.LogoffUserSession:
		if err := m.endSession(ctx, sess); err != nil {
			return 0, nil, "", err
		}
		return rpcwire.StatusSuccess, nil, "", nil

	case *call.PropertyBool:
		m.properties.SetSessionBool(sess.ID(), v.Path, v.Value)
		return rpcwire.StatusSuccess, nil, "", nil

	case *call.PropertyNumber:
		m.properties.SetSessionNumber(sess.ID(), v.Path, v.Value)
		return rpcwire.StatusSuccess, nil, "", nil

	case *call.PropertyString:
		m.properties.SetSessionString(sess.ID(), v.Path, v.Value)
		return rpcwire.StatusSuccess, nil, "", nil

	case *call.Message:
		// Inbound delivery of sendMessage's response travels through
		// internal/otsapi's own outgoing-call completion, not this path;
		// an inbound Message call here is just acknowledged.
		return rpcwire.StatusSuccess, nil, "", nil

	case *call.ConnectionStats:
		return rpcwire.StatusSuccess, nil, "", nil

	case *call.RemoteControlEnded:
		if target, ok := m.sessions.Lookup(v.TargetSessionID); ok {
			target.RemoveShadower(sess.ID())
		}
		sess.Fire(ctx, session.EventShadowStop)
		return rpcwire.StatusSuccess, nil, "", nil

	case *call.OtsApiVirtualChannelOpen, *call.OtsApiVirtualChannelClose,
		*call.OtsApiStartRemoteControl, *call.OtsApiStopRemoteControl:
		return rpcwire.StatusSuccess, nil, "", nil

	default:
		return rpcwire.StatusBadRequestData, nil, "logon: unhandled call type", nil
	}
}
