// Package otsapi implements the session manager's out-of-process
// administrative surface (spec.md §4.9): ping, session enumeration and
// query, disconnect/logoff, connection logon/logoff, remote control
// start/stop, virtual channel open/close, and sendMessage. Every operation
// is parameterized by an opaque auth token, resolved through
// internal/token.Store to a session or a logon record, and gated by the
// permission bit table in spec.md §6. Grounded on internal/logon.Manager's
// shape (a single orchestrating type, narrow collaborator interfaces,
// dispatch onto a target session's own executor) rather than reinventing a
// second dispatch style for the admin surface.
package otsapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ogon-project/ogon-sessiond/internal/call"
	"github.com/ogon-project/ogon-sessiond/internal/config"
	"github.com/ogon-project/ogon-sessiond/internal/metrics"
	"github.com/ogon-project/ogon-sessiond/internal/rpcengine"
	"github.com/ogon-project/ogon-sessiond/internal/session"
	"github.com/ogon-project/ogon-sessiond/internal/token"
)

// Errors returned by Server's operations. HTTP handlers in http.go map
// these to status codes; ogonsessctl prints them as-is.
var (
	ErrUnknownToken      = errors.New("otsapi: unknown or expired token")
	ErrUnknownSession    = errors.New("otsapi: unknown session")
	ErrUnknownConnection = errors.New("otsapi: unknown connection")
	ErrPermissionDenied  = errors.New("otsapi: permission denied")
	ErrNoFrontend        = errors.New("otsapi: no frontend connection")
)

// IDTIMEOUT is the button id sendMessage returns when the frontend does not
// respond before the caller-supplied timeout elapses, matching the original
// WTS_ value rather than inventing a new sentinel.
const IDTIMEOUT = 32000

// SessionEnder tears a session down completely. *internal/logon.Manager
// satisfies this via its exported EndSession method; otsapi depends only on
// this one-method view to avoid importing internal/logon (which would in
// turn need internal/otsapi for admin-initiated logon, an import cycle).
type SessionEnder interface {
	EndSession(ctx context.Context, sess *session.Session) error
}

// LogonDriver performs the administrative equivalent of the wire LogonUser
// flow for logonConnection: authenticate a connection, select or create its
// session, start its backend module and issue its session token, without
// going through the front end's own LogonUser call. *internal/logon.Manager
// implements this via its exported AdminLogon method.
type LogonDriver interface {
	AdminLogon(ctx context.Context, connID uint32, user, domain string, ci session.ClientInfo) (pipeName string, sessionID uint32, err error)
}

// OutboundSender sends an outbound call to a connected peer and returns a
// completion that fires on reply or timeout. *internal/rpcengine.Conn
// satisfies this; sendMessage is the one operation that needs it, since it
// bypasses the target session's own task executor entirely (spec.md §4.9:
// "sendMessage... goes through the RPC out-queue to the front end").
type OutboundSender interface {
	SendCall(out call.CallOut) (*call.Completion, error)
}

// Frontend resolves the single live main-RPC connection to the RDP front
// end, so sendMessage has something to send through without knowing a
// specific connection id. *internal/rpcengine.Server's own Active method
// returns a concrete *rpcengine.Conn rather than this interface (Go
// requires identical method signatures for interface satisfaction), so
// NewFrontend adapts it.
type Frontend interface {
	Active() (OutboundSender, bool)
}

// frontendAdapter adapts *internal/rpcengine.Server to Frontend by
// converting its concrete *rpcengine.Conn return value to OutboundSender at
// the call site.
type frontendAdapter struct {
	srv *rpcengine.Server
}

// NewFrontend wraps srv as a Frontend for Config.Frontend.
func NewFrontend(srv *rpcengine.Server) Frontend {
	return frontendAdapter{srv: srv}
}

func (f frontendAdapter) Active() (OutboundSender, bool) {
	conn, ok := f.srv.Active()
	if !ok {
		return nil, false
	}
	return conn, true
}

// Config seeds a Server with the collaborators it dispatches onto.
type Config struct {
	Sessions    *session.Store
	Connections *session.ConnectionStore
	Tokens      *token.Store
	Properties  *config.PropertyStore
	VChannels   []string

	Ender    SessionEnder
	Logon    LogonDriver
	Frontend Frontend

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Server is the otsapi surface's dispatcher, wrapped by http.go's HTTP
// handlers and directly callable from tests or an in-process embedding.
type Server struct {
	sessions    *session.Store
	connections *session.ConnectionStore
	tokens      *token.Store
	properties  *config.PropertyStore
	vchannels   *virtualChannelPolicy

	ender    SessionEnder
	logon    LogonDriver
	frontend Frontend

	metrics *metrics.Collector
	logger  *slog.Logger
}

// New constructs a Server. Logger defaults to slog.Default when left nil.
func New(cfg Config) *Server {
	s := &Server{
		sessions:    cfg.Sessions,
		connections: cfg.Connections,
		tokens:      cfg.Tokens,
		properties:  cfg.Properties,
		vchannels:   newVirtualChannelPolicy(cfg.VChannels, cfg.Properties),
		ender:       cfg.Ender,
		logon:       cfg.Logon,
		frontend:    cfg.Frontend,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// principal is the resolved identity and permission mask behind a presented
// token, collapsing the Resolve/Resolve-a-session-from-a-ref step every
// operation otherwise has to repeat.
type principal struct {
	mask   uint32
	user   string
	domain string
}

// resolvePrincipal resolves tok to the identity that authorizes a call:
// either the {user, domain, mask} of a logon record, or the current
// identity and mask of the session the token is bound to.
func (s *Server) resolvePrincipal(tok string) (principal, error) {
	sessRef, logon, err := s.tokens.Resolve(tok)
	if err != nil {
		return principal{}, ErrUnknownToken
	}
	if logon != nil {
		return principal{mask: logon.Mask, user: logon.User, domain: logon.Domain}, nil
	}
	sess, ok := s.sessions.Lookup(sessRef.ID())
	if !ok {
		return principal{}, ErrUnknownToken
	}
	id := sess.Identity()
	return principal{mask: sess.PermissionMask(), user: id.User, domain: id.Domain}, nil
}

// hasPermission checks an untargeted operation's requirement (ping,
// enumerateSessions) with a plain bitmask test, skipping the same-user
// bypass CheckPermission applies, since there is no target identity to
// compare the caller against.
func hasPermission(mask uint32, required token.Permission) bool {
	return mask&uint32(required) == uint32(required)
}

// authorizeTarget resolves tok and checks it grants required against
// target's identity, applying token.CheckPermission's same-user bypass.
func (s *Server) authorizeTarget(tok string, required token.Permission, target session.Identity) (principal, error) {
	p, err := s.resolvePrincipal(tok)
	if err != nil {
		return principal{}, err
	}
	if !token.CheckPermission(p.mask, uint32(required), p.user, p.domain, target.User, target.Domain) {
		return principal{}, ErrPermissionDenied
	}
	return p, nil
}

func (s *Server) recordCall(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordCall(op, status, time.Since(start).Seconds())
}
