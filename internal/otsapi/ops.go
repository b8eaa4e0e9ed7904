package otsapi

import (
	"context"
	"errors"
	"time"

	"github.com/ogon-project/ogon-sessiond/internal/call"
	"github.com/ogon-project/ogon-sessiond/internal/rpcwire"
	"github.com/ogon-project/ogon-sessiond/internal/session"
	"github.com/ogon-project/ogon-sessiond/internal/token"
)

// SessionInfo is the read-only view of a session returned by
// enumerateSessions and querySessionInformation (spec.md §4.9).
type SessionInfo struct {
	ID             uint32
	State          string
	User           string
	Domain         string
	ClientHost     string
	ClientAddr     string
	PermissionMask uint32
	ConnectTime    time.Time
	DisconnectTime time.Time
	LogonTime      time.Time
}

func sessionInfo(sess *session.Session) SessionInfo {
	id := sess.Identity()
	connect, disconnect, logon := sess.Timestamps()
	return SessionInfo{
		ID:             sess.ID(),
		State:          sess.State().String(),
		User:           id.User,
		Domain:         id.Domain,
		ClientHost:     id.ClientHost,
		ClientAddr:     id.ClientAddr,
		PermissionMask: sess.PermissionMask(),
		ConnectTime:    connect,
		DisconnectTime: disconnect,
		LogonTime:      logon,
	}
}

// Ping verifies tok resolves to a live session or logon record. No
// permission bit is required beyond the token itself being valid (spec.md
// §6's permission table has no entry for ping).
func (s *Server) Ping(_ context.Context, tok string) error {
	_, err := s.resolvePrincipal(tok)
	s.recordCall("ping", time.Now(), err)
	return err
}

// EnumerateSessions lists every registered session, gated by
// QUERY_INFORMATION on the caller (spec.md §6).
func (s *Server) EnumerateSessions(_ context.Context, tok string) ([]SessionInfo, error) {
	start := time.Now()
	p, err := s.resolvePrincipal(tok)
	if err != nil {
		s.recordCall("enumerateSessions", start, err)
		return nil, err
	}
	if !hasPermission(p.mask, token.PermQueryInformation) {
		s.recordCall("enumerateSessions", start, ErrPermissionDenied)
		return nil, ErrPermissionDenied
	}

	all := s.sessions.All()
	out := make([]SessionInfo, 0, len(all))
	for _, sess := range all {
		out = append(out, sessionInfo(sess))
	}
	s.recordCall("enumerateSessions", start, nil)
	return out, nil
}

// QuerySessionInformation returns sessionID's current state, gated by
// QUERY_INFORMATION on the target session's identity.
func (s *Server) QuerySessionInformation(_ context.Context, tok string, sessionID uint32) (SessionInfo, error) {
	start := time.Now()
	target, ok := s.sessions.Lookup(sessionID)
	if !ok {
		s.recordCall("querySessionInformation", start, ErrUnknownSession)
		return SessionInfo{}, ErrUnknownSession
	}
	if _, err := s.authorizeTarget(tok, token.PermQueryInformation, target.Identity()); err != nil {
		s.recordCall("querySessionInformation", start, err)
		return SessionInfo{}, err
	}
	s.recordCall("querySessionInformation", start, nil)
	return sessionInfo(target), nil
}

// DisconnectSession fires EventDisconnect on sessionID, gated by DISCONNECT.
// wait=true blocks until the transition has run on the session's executor;
// wait=false enqueues it and returns immediately.
func (s *Server) DisconnectSession(ctx context.Context, tok string, sessionID uint32, wait bool) error {
	start := time.Now()
	target, ok := s.sessions.Lookup(sessionID)
	if !ok {
		s.recordCall("disconnectSession", start, ErrUnknownSession)
		return ErrUnknownSession
	}
	if _, err := s.authorizeTarget(tok, token.PermDisconnect, target.Identity()); err != nil {
		s.recordCall("disconnectSession", start, err)
		return err
	}

	fn := func(ctx context.Context) error {
		_, err := target.Fire(ctx, session.EventDisconnect)
		return err
	}
	var err error
	if wait {
		err = dispatchAndWait(ctx, target, fn)
	} else {
		err = dispatchAsync(target, fn)
	}
	s.recordCall("disconnectSession", start, err)
	return err
}

// LogoffSession tears sessionID down completely via the same path the
// inbound LogoffUserSession call uses, gated by LOGOFF.
func (s *Server) LogoffSession(ctx context.Context, tok string, sessionID uint32, wait bool) error {
	start := time.Now()
	target, ok := s.sessions.Lookup(sessionID)
	if !ok {
		s.recordCall("logoffSession", start, ErrUnknownSession)
		return ErrUnknownSession
	}
	if _, err := s.authorizeTarget(tok, token.PermLogoff, target.Identity()); err != nil {
		s.recordCall("logoffSession", start, err)
		return err
	}

	fn := func(ctx context.Context) error { return s.ender.EndSession(ctx, target) }
	var err error
	if wait {
		err = dispatchAndWait(ctx, target, fn)
	} else {
		err = dispatchAsync(target, fn)
	}
	s.vchannels.clearSession(sessionID)
	s.recordCall("logoffSession", start, err)
	return err
}

// LogonConnection administratively binds connID to a logged-on session for
// user/domain, gated by LOGON checked against the prospective user rather
// than the caller's own identity (spec.md §6: "logon itself requires LOGON
// on the prospective user").
func (s *Server) LogonConnection(ctx context.Context, tok string, connID uint32, user, domain string, ci session.ClientInfo) (pipeName string, sessionID uint32, err error) {
	start := time.Now()
	target := session.Identity{User: user, Domain: domain}
	if _, err = s.authorizeTarget(tok, token.PermLogon, target); err != nil {
		s.recordCall("logonConnection", start, err)
		return "", 0, err
	}

	pipeName, sessionID, err = s.logon.AdminLogon(ctx, connID, user, domain, ci)
	s.recordCall("logonConnection", start, err)
	return pipeName, sessionID, err
}

// LogoffConnection logs off whatever session connID is currently bound to
// and removes the connection record, gated by LOGOFF on that session's
// identity. A connection with no bound session is simply removed.
func (s *Server) LogoffConnection(ctx context.Context, tok string, connID uint32) error {
	start := time.Now()
	conn, ok := s.connections.Lookup(connID)
	if !ok {
		s.recordCall("logoffConnection", start, ErrUnknownConnection)
		return ErrUnknownConnection
	}

	var target *session.Session
	var identity session.Identity
	if conn.State() == session.ConnStateHasSession {
		target, ok = s.sessions.Lookup(conn.SessionID())
		if ok {
			identity = target.Identity()
		}
	}

	if _, err := s.authorizeTarget(tok, token.PermLogoff, identity); err != nil {
		s.recordCall("logoffConnection", start, err)
		return err
	}

	var err error
	if target != nil {
		err = dispatchAndWait(ctx, target, func(ctx context.Context) error {
			return s.ender.EndSession(ctx, target)
		})
	}
	s.connections.Remove(connID)
	s.recordCall("logoffConnection", start, err)
	return err
}

// StartRemoteControlSession drives viewerSessionID into shadow mode against
// targetSessionID, gated by REMOTE_CONTROL on the target's identity,
// matching the inbound SwitchTo call's pairing (target.AddShadower(viewer),
// viewer fires EventShadowStart).
func (s *Server) StartRemoteControlSession(ctx context.Context, tok string, viewerSessionID, targetSessionID uint32) error {
	start := time.Now()
	viewer, ok := s.sessions.Lookup(viewerSessionID)
	if !ok {
		s.recordCall("startRemoteControlSession", start, ErrUnknownSession)
		return ErrUnknownSession
	}
	target, ok := s.sessions.Lookup(targetSessionID)
	if !ok {
		s.recordCall("startRemoteControlSession", start, ErrUnknownSession)
		return ErrUnknownSession
	}
	if _, err := s.authorizeTarget(tok, token.PermRemoteControl, target.Identity()); err != nil {
		s.recordCall("startRemoteControlSession", start, err)
		return err
	}

	err := dispatchAndWait(ctx, viewer, func(ctx context.Context) error {
		target.AddShadower(viewer.ID())
		_, err := viewer.Fire(ctx, session.EventShadowStart)
		return err
	})
	s.recordCall("startRemoteControlSession", start, err)
	return err
}

// StopRemoteControlSession ends a remote-control pairing started by
// StartRemoteControlSession, gated by REMOTE_CONTROL on the target's
// identity. The shadow-list entry is always removed from target's
// ShadowedBy list, mirroring internal/logon's RemoteControlEnded handling
// (SPEC_FULL.md §6).
func (s *Server) StopRemoteControlSession(ctx context.Context, tok string, viewerSessionID, targetSessionID uint32) error {
	start := time.Now()
	viewer, ok := s.sessions.Lookup(viewerSessionID)
	if !ok {
		s.recordCall("stopRemoteControlSession", start, ErrUnknownSession)
		return ErrUnknownSession
	}
	target, ok := s.sessions.Lookup(targetSessionID)
	if !ok {
		s.recordCall("stopRemoteControlSession", start, ErrUnknownSession)
		return ErrUnknownSession
	}
	if _, err := s.authorizeTarget(tok, token.PermRemoteControl, target.Identity()); err != nil {
		s.recordCall("stopRemoteControlSession", start, err)
		return err
	}

	err := dispatchAndWait(ctx, viewer, func(ctx context.Context) error {
		target.RemoveShadower(viewer.ID())
		_, err := viewer.Fire(ctx, session.EventShadowStop)
		return err
	})
	s.recordCall("stopRemoteControlSession", start, err)
	return err
}

// VirtualChannelOpen opens a named virtual channel on sessionID, gated by
// VIRTUAL_CHANNEL. A channel absent from both the per-session override and
// the default whitelist returns ("", 0, nil): spec.md §8 scenario S4 treats
// this as a normal, non-error outcome.
func (s *Server) VirtualChannelOpen(ctx context.Context, tok string, sessionID uint32, name string, dynamic bool) (pipeName string, instance uint32, err error) {
	start := time.Now()
	target, ok := s.sessions.Lookup(sessionID)
	if !ok {
		s.recordCall("virtualChannelOpen", start, ErrUnknownSession)
		return "", 0, ErrUnknownSession
	}
	if _, err = s.authorizeTarget(tok, token.PermVirtualChannel, target.Identity()); err != nil {
		s.recordCall("virtualChannelOpen", start, err)
		return "", 0, err
	}

	if !s.vchannels.allowed(sessionID, name) {
		s.recordCall("virtualChannelOpen", start, nil)
		return "", 0, nil
	}

	err = dispatchAndWait(ctx, target, func(ctx context.Context) error {
		pipeName, instance = s.vchannels.open(sessionID, name, dynamic)
		return nil
	})
	s.recordCall("virtualChannelOpen", start, err)
	return pipeName, instance, err
}

// VirtualChannelClose closes a previously opened virtual channel instance,
// gated by VIRTUAL_CHANNEL. Returns false if instance was not open.
func (s *Server) VirtualChannelClose(ctx context.Context, tok string, sessionID uint32, instance uint32) (bool, error) {
	start := time.Now()
	target, ok := s.sessions.Lookup(sessionID)
	if !ok {
		s.recordCall("virtualChannelClose", start, ErrUnknownSession)
		return false, ErrUnknownSession
	}
	if _, err := s.authorizeTarget(tok, token.PermVirtualChannel, target.Identity()); err != nil {
		s.recordCall("virtualChannelClose", start, err)
		return false, err
	}

	var closed bool
	err := dispatchAndWait(ctx, target, func(ctx context.Context) error {
		closed = s.vchannels.close(sessionID, instance)
		return nil
	})
	s.recordCall("virtualChannelClose", start, err)
	return closed, err
}

// SendMessage posts a message box to sessionID's frontend and returns the
// user's chosen button id, or IDTIMEOUT if no response arrives within
// timeoutSeconds, gated by MESSAGE. It bypasses the target session's own
// executor entirely and goes straight through the RPC engine's active
// frontend connection (spec.md §4.9).
func (s *Server) SendMessage(ctx context.Context, tok string, sessionID uint32, text string, style, timeoutSeconds uint32) (uint32, error) {
	start := time.Now()
	target, ok := s.sessions.Lookup(sessionID)
	if !ok {
		s.recordCall("sendMessage", start, ErrUnknownSession)
		return 0, ErrUnknownSession
	}
	if _, err := s.authorizeTarget(tok, token.PermMessage, target.Identity()); err != nil {
		s.recordCall("sendMessage", start, err)
		return 0, err
	}

	conn, ok := s.frontend.Active()
	if !ok {
		s.recordCall("sendMessage", start, ErrNoFrontend)
		return 0, ErrNoFrontend
	}

	completion, err := conn.SendCall(&call.MessageOut{
		SessionID:      sessionID,
		Text:           text,
		Style:          style,
		TimeoutSeconds: timeoutSeconds,
	})
	if err != nil {
		s.recordCall("sendMessage", start, err)
		return 0, err
	}

	status, payload, errDesc, err := completion.Wait(ctx)
	if err != nil {
		s.recordCall("sendMessage", start, err)
		return 0, err
	}
	if rpcwire.Status(status) == rpcwire.StatusCallTimeout {
		s.recordCall("sendMessage", start, nil)
		return IDTIMEOUT, nil
	}
	if errDesc != "" {
		err := errors.New(errDesc)
		s.recordCall("sendMessage", start, err)
		return 0, err
	}

	var reply call.MessageReply
	if err := reply.Decode(payload); err != nil {
		s.recordCall("sendMessage", start, err)
		return 0, err
	}
	s.recordCall("sendMessage", start, nil)
	return reply.ButtonID, nil
}
