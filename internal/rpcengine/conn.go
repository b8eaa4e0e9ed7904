// Package rpcengine implements the duplex RPC transport between the
// session manager and a backend module process (spec §4.2, §4.3): frame
// read/dispatch loop, outgoing-call tag correlation with timeout, and the
// global-reset cascade on transport failure. It is grounded on
// original_source's RpcEngine.cpp, adapted from winpr named-pipe I/O to a
// net.Conn (a Unix-domain socket plays the role of the module pipe), and
// on internal/bfd.Manager's decoupled-goroutine-lifetime idiom.
package rpcengine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ogon-project/ogon-sessiond/internal/call"
	"github.com/ogon-project/ogon-sessiond/internal/rpcwire"
)

// DefaultCallTimeout is the time an outgoing call waits for a reply before
// the pending entry is expired with StatusCallTimeout (spec §4.3).
const DefaultCallTimeout = 10 * time.Second

var (
	// ErrClosed is returned by SendCall once the connection has shut down.
	ErrClosed = errors.New("rpcengine: connection closed")
	// ErrVersionMismatch is returned by Serve when the peer's first frame
	// carries an ICP major version different from ours (spec §4.3 step
	// 3: "If the remote major differs from ours, close and loop").
	ErrVersionMismatch = errors.New("rpcengine: protocol version mismatch")
	// errNoVersionHandshake is returned when the first inbound frame
	// does not carry versioninfo at all, which the handshake also
	// treats as fatal: spec §4.3 step 3 requires it unconditionally.
	errNoVersionHandshake = errors.New("rpcengine: first frame missing version handshake")
)

// Router hands a decoded inbound call to its session or connection target.
// The engine stays transport-only; internal/session and internal/otsapi
// supply the concrete routing.
type Router interface {
	// RouteIn dispatches in to target. reply, if non-nil, must eventually
	// be invoked exactly once with the outcome; the engine uses it to
	// write the response envelope back onto the wire.
	RouteIn(ctx context.Context, target call.Target, in call.CallIn, reply func(status rpcwire.Status, payload []byte, errDesc string))
	// Reset is invoked once per connection when the transport fails, so
	// the router can drop any state (parked calls, connection record)
	// tied to this connection id.
	Reset(connID uuid.UUID)
}

// pendingCall is one outgoing call awaiting its reply.
type pendingCall struct {
	completion *call.Completion
	timer      *time.Timer
}

// Conn is one duplex RPC connection to a backend module process.
type Conn struct {
	id      uuid.UUID
	logger  *slog.Logger
	nc      net.Conn
	reader  *bufio.Reader
	router  Router
	factory *call.Factory

	writeMu sync.Mutex

	nextTag atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]*pendingCall
	closed  bool

	callTimeout time.Duration
}

// Option configures a Conn.
type Option func(*Conn)

// WithCallTimeout overrides DefaultCallTimeout, primarily for tests.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Conn) { c.callTimeout = d }
}

// NewConn wraps nc as an RPC connection. factory decodes inbound call
// payloads; router dispatches them.
func NewConn(nc net.Conn, logger *slog.Logger, factory *call.Factory, router Router, opts ...Option) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	c := &Conn{
		id:          id,
		logger:      logger.With(slog.String("component", "rpcengine"), slog.String("conn", id.String())),
		nc:          nc,
		reader:      bufio.NewReader(nc),
		router:      router,
		factory:     factory,
		pending:     make(map[uint32]*pendingCall),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID identifies this connection for Router.Reset and diagnostics.
func (c *Conn) ID() uuid.UUID { return c.id }

// Serve runs the read/dispatch loop until ctx is cancelled or the peer
// goes away. It always ends by tearing the connection down and firing the
// global reset cascade, matching original_source's resetStatus() behavior
// on any pipe error.
func (c *Conn) Serve(ctx context.Context) error {
	defer c.shutdown()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.readLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		c.nc.Close()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handshake performs the spec §4.3 step 3 version exchange: the first
// inbound frame on a fresh connection must carry versioninfo, and we
// reply with our own before any normal dispatch happens. A missing
// version or a major-version mismatch writes exactly one version reply
// (mismatch only) and returns an error, which Serve propagates so the
// caller tears the connection down without ever reaching dispatch —
// matching testable property 8, "no further inbound frames are
// dispatched".
func (c *Conn) handshake() error {
	env, err := rpcwire.ReadFrame(c.reader)
	if err != nil {
		return fmt.Errorf("rpcengine: read handshake frame: %w", err)
	}
	if !env.HasVersion {
		return errNoVersionHandshake
	}

	reply := rpcwire.Envelope{
		IsResponse: true,
		HasVersion: true,
		Version: rpcwire.VersionInfo{
			VMajor: rpcwire.ProtocolVersionMajor,
			VMinor: rpcwire.ProtocolVersionMinor,
		},
	}
	if err := c.writeFrame(reply); err != nil {
		return fmt.Errorf("rpcengine: write version reply: %w", err)
	}
	if env.Version.VMajor != rpcwire.ProtocolVersionMajor {
		return fmt.Errorf("%w: peer major %d, want %d", ErrVersionMismatch, env.Version.VMajor, rpcwire.ProtocolVersionMajor)
	}
	return nil
}

func (c *Conn) readLoop(ctx context.Context) error {
	if err := c.handshake(); err != nil {
		return err
	}
	for {
		env, err := rpcwire.ReadFrame(c.reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("rpcengine: read frame: %w", err)
		}
		c.dispatch(ctx, env)
	}
}

func (c *Conn) dispatch(ctx context.Context, env rpcwire.Envelope) {
	if env.IsResponse {
		c.completeOutgoing(env)
		return
	}
	c.dispatchInbound(ctx, env)
}

func (c *Conn) completeOutgoing(env rpcwire.Envelope) {
	c.mu.Lock()
	p, ok := c.pending[env.Tag]
	if ok {
		delete(c.pending, env.Tag)
	}
	c.mu.Unlock()
	if !ok {
		// The timeout already expired and removed this entry; the reply
		// arrived too late to matter (spec §4.3 race-avoidance rule).
		return
	}
	p.timer.Stop()
	p.completion.Fire(int(env.Status), env.Payload, env.ErrorDescription)
}

func (c *Conn) dispatchInbound(ctx context.Context, env rpcwire.Envelope) {
	in, err := c.factory.New(call.MsgType(env.MsgType), env.Payload)
	if err != nil {
		c.writeResponse(env.Tag, env.MsgType, rpcwire.StatusBadRequestData, nil, err.Error())
		return
	}
	target, err := in.Prepare()
	if err != nil {
		c.writeResponse(env.Tag, env.MsgType, rpcwire.StatusNotFound, nil, "prepare: "+err.Error())
		return
	}

	tag, msgType := env.Tag, env.MsgType
	c.router.RouteIn(ctx, target, in, func(status rpcwire.Status, payload []byte, errDesc string) {
		c.writeResponse(tag, msgType, status, payload, errDesc)
	})
}

func (c *Conn) writeResponse(tag, msgType uint32, status rpcwire.Status, payload []byte, errDesc string) {
	env := rpcwire.Envelope{
		Tag:        tag,
		MsgType:    msgType,
		IsResponse: true,
		Status:     status,
	}
	if payload != nil {
		env.Payload = payload
		env.HasPayload = true
	}
	if errDesc != "" {
		env.ErrorDescription = errDesc
		env.HasErrorDesc = true
	}
	if err := c.writeFrame(env); err != nil {
		c.logger.Warn("write response failed", slog.String("error", err.Error()))
	}
}

// SendCall writes out as an outgoing call and returns a Completion that
// fires on reply or on timeout with rpcwire.StatusCallTimeout.
func (c *Conn) SendCall(out call.CallOut) (*call.Completion, error) {
	payload, err := out.Encode()
	if err != nil {
		return nil, fmt.Errorf("rpcengine: encode call: %w", err)
	}

	tag := c.nextTag.Add(1)
	completion := call.NewCompletion()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	p := &pendingCall{completion: completion}
	p.timer = time.AfterFunc(c.callTimeout, func() { c.expire(tag) })
	c.pending[tag] = p
	c.mu.Unlock()

	env := rpcwire.Envelope{
		Tag:        tag,
		MsgType:    uint32(out.MsgType()),
		IsResponse: false,
		Payload:    payload,
		HasPayload: true,
	}
	if err := c.writeFrame(env); err != nil {
		c.mu.Lock()
		delete(c.pending, tag)
		c.mu.Unlock()
		p.timer.Stop()
		return nil, fmt.Errorf("rpcengine: write call: %w", err)
	}
	return completion, nil
}

// expire fires StatusCallTimeout for tag, unless the reply already arrived
// and removed the entry first (spec §4.3's explicit race-avoidance rule:
// "if the entry is gone, the reply already raced the timer — do nothing").
func (c *Conn) expire(tag uint32) {
	c.mu.Lock()
	p, ok := c.pending[tag]
	if ok {
		delete(c.pending, tag)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.completion.Fire(int(rpcwire.StatusCallTimeout), nil, "call timed out")
}

func (c *Conn) writeFrame(env rpcwire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return rpcwire.WriteFrame(c.nc, env)
}

// shutdown aborts every pending outgoing call with StatusTransportError and
// notifies the router, mirroring original_source's resetStatus() cascade.
func (c *Conn) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.completion.Fire(int(rpcwire.StatusTransportError), nil, "connection reset")
	}
	c.nc.Close()
	if c.router != nil {
		c.router.Reset(c.id)
	}
}
