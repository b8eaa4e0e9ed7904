package rpcengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/ogon-project/ogon-sessiond/internal/call"
)

// Server listens for backend module connections on a single Unix-domain
// socket (the module-side counterpart of a named pipe in
// original_source's createServerPipe/acceptClient) and runs one Conn per
// accepted client.
type Server struct {
	logger   *slog.Logger
	factory  *call.Factory
	router   Router
	endpoint string

	ln net.Listener

	mu    sync.Mutex
	conns map[uuid.UUID]*Conn
}

// NewServer constructs a Server bound to endpoint, a filesystem path for
// the Unix socket. factory and router are shared across every accepted
// connection.
func NewServer(endpoint string, logger *slog.Logger, factory *call.Factory, router Router) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger.With(slog.String("component", "rpcengine.server")),
		factory:  factory,
		router:   router,
		endpoint: endpoint,
		conns:    make(map[uuid.UUID]*Conn),
	}
}

// Start creates the listening socket. Any stale socket file left over from
// an unclean shutdown is removed first.
func (s *Server) Start() error {
	if err := os.Remove(s.endpoint); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rpcengine: remove stale endpoint: %w", err)
	}
	ln, err := net.Listen("unix", s.endpoint)
	if err != nil {
		return fmt.Errorf("rpcengine: listen %s: %w", s.endpoint, err)
	}
	s.ln = ln
	return nil
}

// Run accepts connections until ctx is cancelled or the listener is
// closed. Each connection is decoupled from ctx's own cancellation signal
// the moment it is accepted, the same way internal/bfd.Manager decouples
// a session's goroutine from its creating request: a client module that
// is mid-call when a caller's context ends should still finish its
// current RPC.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rpcengine: accept: %w", err)
		}
		s.handle(ctx, nc)
	}
}

func (s *Server) handle(ctx context.Context, nc net.Conn) {
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn := NewConn(nc, s.logger, s.factory, s.router)

	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn.ID())
			s.mu.Unlock()
		}()
		if err := conn.Serve(connCtx); err != nil {
			s.logger.Warn("rpc connection ended", slog.String("error", err.Error()))
		}
	}()
}

// Lookup returns the live connection with the given id, for callers that
// need to send an outgoing call to a specific peer.
func (s *Server) Lookup(id uuid.UUID) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	return c, ok
}

// Active returns the session-manager endpoint's current connection. Spec
// §4.3 models the main RPC endpoint as a single named pipe to the RDP front
// end (`\\.\pipe\ogon_SessionManager`); internal/otsapi's sendMessage is the
// one caller that needs "the" front end rather than a specific known id, so
// it uses whichever connection is live. With at most one accepted
// connection at a time this is unambiguous; a second concurrent connection
// (a reconnect racing a still-closing old one) makes the choice arbitrary,
// which is acceptable since the stale one is tearing down anyway.
func (s *Server) Active() (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		return c, true
	}
	return nil, false
}

// Close shuts every active connection down and closes the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}
