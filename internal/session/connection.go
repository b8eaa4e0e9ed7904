package session

import (
	"errors"
	"sync"
)

// ConnState is the pre-session connection's own small state machine
// (spec §3: "connection-state ∈ {Init, HasSession, SessionFailed}").
type ConnState uint8

const (
	ConnStateInit ConnState = iota
	ConnStateHasSession
	ConnStateSessionFailed
)

func (c ConnState) String() string {
	switch c {
	case ConnStateInit:
		return "Init"
	case ConnStateHasSession:
		return "HasSession"
	case ConnStateSessionFailed:
		return "SessionFailed"
	default:
		return "Unknown"
	}
}

// AuthStatus distinguishes "never attempted" from a successful or failed
// logon attempt. Per the Open Question decision in SPEC_FULL.md §6, the
// original's overloaded "mAuthStatus == 1" meaning is split here into two
// unambiguous states instead of one integer doing double duty.
type AuthStatus int8

const (
	AuthStatusUnauthenticated AuthStatus = -1
	AuthStatusAuthenticated   AuthStatus = 0
	AuthStatusFailed          AuthStatus = 1
)

// ErrAlreadyAuthenticated is returned when a second authentication attempt
// is made on a connection that already resolved one way or the other
// (spec §3: "A connection can be authenticated at most once").
var ErrAlreadyAuthenticated = errors.New("session: connection already authenticated")

// PendingCall is a minimal description of an inbound call parked on a
// connection awaiting session binding (spec §4.4). internal/call supplies
// the concrete payload; this package only needs enough to drain or abort
// the queue without importing internal/call.
type PendingCall struct {
	MsgType uint32
	Tag     uint32
	Payload []byte
}

// ClientInfo is the connection's immutable-after-creation client metadata.
type ClientInfo struct {
	Width, Height int
	ColorDepth    int
	Hostname      string
	Address       string
	Build         string
	ProductID     string
	HWID          string
	ProtocolType  string
}

// Connection is the pre-session RPC-pipe object described in spec §3.
type Connection struct {
	id uint32

	mu sync.Mutex

	client ClientInfo

	sessionID  uint32
	state      ConnState
	authStatus AuthStatus

	authUser   string
	authDomain string

	pending []PendingCall
}

func newConnection(id uint32, client ClientInfo) *Connection {
	return &Connection{
		id:         id,
		client:     client,
		state:      ConnStateInit,
		authStatus: AuthStatusUnauthenticated,
	}
}

// ID returns the connection's identity.
func (c *Connection) ID() uint32 { return c.id }

// ClientInfo returns the connection's client metadata.
func (c *Connection) ClientInfo() ClientInfo { return c.client }

// State returns the connection's current state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the bound session id, or 0 if unbound.
func (c *Connection) SessionID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// BindSession marks the connection as resolved to sessionID and drains its
// pending-call queue, returning the drained calls for the caller to
// re-enqueue on that session's executor.
func (c *Connection) BindSession(sessionID uint32) []PendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.state = ConnStateHasSession
	drained := c.pending
	c.pending = nil
	return drained
}

// FailSession marks the connection as failed and drains (without
// returning for re-enqueue) its pending-call queue; callers abort each
// drained call with a transport-style error back to its originator.
func (c *Connection) FailSession() []PendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnStateSessionFailed
	drained := c.pending
	c.pending = nil
	return drained
}

// Park appends a call to the connection's pending queue; valid only while
// State() == ConnStateInit.
func (c *Connection) Park(call PendingCall) {
	c.mu.Lock()
	c.pending = append(c.pending, call)
	c.mu.Unlock()
}

// Authenticate records an authentication attempt's outcome. It fails with
// ErrAlreadyAuthenticated if this connection already has a non-pending
// AuthStatus, enforcing the "at most once" invariant.
func (c *Connection) Authenticate(user, domain string, status AuthStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authStatus != AuthStatusUnauthenticated {
		return ErrAlreadyAuthenticated
	}
	c.authStatus = status
	c.authUser = user
	c.authDomain = domain
	return nil
}

// AuthStatus returns the connection's current authentication outcome.
func (c *Connection) AuthStatus() AuthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authStatus
}

// ConnectionStore is the process-wide connection registry (spec §2, §3).
type ConnectionStore struct {
	mu   sync.Mutex
	byID map[uint32]*Connection
	ids  *idAllocator
}

// NewConnectionStore constructs an empty connection store.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{
		byID: make(map[uint32]*Connection),
		ids:  newIDAllocator(),
	}
}

// Create registers a new connection for the given client metadata and
// returns it, created on "first RPC referencing its id" per spec §3 — the
// id itself, however, is caller-supplied here (it comes off the wire as
// the connection id the front end named), so Create takes it explicitly
// rather than allocating one.
func (cs *ConnectionStore) Create(id uint32, client ClientInfo) (*Connection, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.byID[id]; exists {
		return cs.byID[id], nil
	}
	c := newConnection(id, client)
	cs.byID[id] = c
	return c, nil
}

// Lookup returns the connection registered under id, if any.
func (cs *ConnectionStore) Lookup(id uint32) (*Connection, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.byID[id]
	return c, ok
}

// Remove deregisters a connection (spec §3: "destroyed after disconnect,
// after any successful session binding completes...").
func (cs *ConnectionStore) Remove(id uint32) {
	cs.mu.Lock()
	delete(cs.byID, id)
	cs.mu.Unlock()
}

// Reset wipes every registered connection, used on RPC pipe error (spec
// §4.3: "global reset wipes all connections and aborts pending calls").
// Callers abort each drained connection's pending calls themselves, since
// aborting requires the RPC engine's outgoing queue which this package
// does not depend on.
func (cs *ConnectionStore) Reset() []*Connection {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*Connection, 0, len(cs.byID))
	for _, c := range cs.byID {
		out = append(out, c)
	}
	cs.byID = make(map[uint32]*Connection)
	return out
}

// Len reports how many connections are currently registered.
func (cs *ConnectionStore) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.byID)
}
