// Package call implements the RPC call objects and their factory (spec
// §2 "Call objects (in/out) + call factory", §4.4 "Call routing"). Every
// inbound call type decodes its own payload and implements prepare(),
// which decides how the call routes onto a session's or connection's task
// executor; outbound calls encode a payload and carry a completion event.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MsgType is the wire call-type id (spec §4.3: "msgtype: u32"; spec §3
// calls it a 16-bit call-type id — kept as uint32 here since the wire
// envelope field is itself u32, with values restricted to the 16-bit
// range by convention).
type MsgType uint32

// Message families named in spec §6. SBP-family calls (≥ sbpFamilyStart)
// require a session's negotiated SBP-compatibility flag (spec §4.4).
const (
	MsgPing MsgType = iota + 1
	MsgLogonUser
	MsgSwitchTo
	MsgDisconnectUserSession
	MsgLogoffUserSession
	MsgPropertyBool
	MsgPropertyNumber
	MsgPropertyString
	MsgPropertyBulk
	MsgMessage
	MsgConnectionStats
	MsgRemoteControlEnded
	MsgLogonInfo
)

// sbpFamilyStart is the first call-type id in the SBP (subprocess
// protocol) family; spec §4.4: "An incoming SBP-family call (call-type ≥
// 200) requires SBP version compatibility on the target session."
const sbpFamilyStart MsgType = 200

const (
	MsgOtsApiVirtualChannelOpen MsgType = sbpFamilyStart + iota
	MsgOtsApiVirtualChannelClose
	MsgOtsApiStartRemoteControl
	MsgOtsApiStopRemoteControl
)

// IsSBPFamily reports whether t belongs to the SBP call-type range.
func (t MsgType) IsSBPFamily() bool { return t >= sbpFamilyStart }

// TargetKind distinguishes routing by session id from routing by
// connection id (spec §4.4).
type TargetKind uint8

const (
	TargetSession TargetKind = iota
	TargetConnection
)

// Target is what prepare() resolves a call's routing to.
type Target struct {
	Kind         TargetKind
	SessionID    uint32
	ConnectionID uint32
}

// ErrPrepareFailed is returned by CallIn.Prepare when the call cannot be
// routed (spec §4.3: "If prepare() returns false, the call object is
// placed on the outgoing queue to emit an error response").
var ErrPrepareFailed = errors.New("call: prepare failed")

// CallIn is an inbound RPC request. Decode populates the call from its
// wire payload; Prepare resolves where it routes. Implementations are
// constructed empty by the factory, then Decode is called once.
type CallIn interface {
	MsgType() MsgType
	Decode(payload []byte) error
	Prepare() (Target, error)
}

// CallOut is an outbound RPC request. Encode produces its wire payload.
// Tag and the completion event are managed by internal/rpcengine, not by
// the call object itself, so CallOut stays a pure payload.
type CallOut interface {
	MsgType() MsgType
	Encode() ([]byte, error)
}

// Factory constructs empty CallIn instances by MsgType, so the RPC
// engine's dispatch loop never needs a type switch over every call family.
type Factory struct {
	mu    sync.RWMutex
	ctors map[MsgType]func() CallIn
}

// NewFactory returns a Factory pre-registered with every built-in call
// type named in spec §6.
func NewFactory() *Factory {
	f := &Factory{ctors: make(map[MsgType]func() CallIn)}
	f.Register(MsgPing, func() CallIn { return &Ping{} })
	f.Register(MsgLogonUser, func() CallIn { return &LogonUser{} })
	f.Register(MsgSwitchTo, func() CallIn { return &SwitchTo{} })
	f.Register(MsgDisconnectUserSession, func() CallIn { return &DisconnectUserSession{} })
	f.Register(MsgLogoffUserSession, func() CallIn { return &LogoffUserSession{} })
	f.Register(MsgPropertyBool, func() CallIn { return &PropertyBool{} })
	f.Register(MsgPropertyNumber, func() CallIn { return &PropertyNumber{} })
	f.Register(MsgPropertyString, func() CallIn { return &PropertyString{} })
	f.Register(MsgMessage, func() CallIn { return &Message{} })
	f.Register(MsgConnectionStats, func() CallIn { return &ConnectionStats{} })
	f.Register(MsgRemoteControlEnded, func() CallIn { return &RemoteControlEnded{} })
	f.Register(MsgOtsApiVirtualChannelOpen, func() CallIn { return &OtsApiVirtualChannelOpen{} })
	f.Register(MsgOtsApiVirtualChannelClose, func() CallIn { return &OtsApiVirtualChannelClose{} })
	f.Register(MsgOtsApiStartRemoteControl, func() CallIn { return &OtsApiStartRemoteControl{} })
	f.Register(MsgOtsApiStopRemoteControl, func() CallIn { return &OtsApiStopRemoteControl{} })
	return f
}

// Register adds or replaces the constructor for msgType.
func (f *Factory) Register(msgType MsgType, ctor func() CallIn) {
	f.mu.Lock()
	f.ctors[msgType] = ctor
	f.mu.Unlock()
}

// ErrUnknownMsgType is returned by New for an unregistered call-type id.
var ErrUnknownMsgType = errors.New("call: unknown msgtype")

// New constructs and decodes a CallIn for msgType from payload.
func (f *Factory) New(msgType MsgType, payload []byte) (CallIn, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[msgType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMsgType, msgType)
	}
	c := ctor()
	if err := c.Decode(payload); err != nil {
		return nil, fmt.Errorf("call: decode msgtype %d: %w", msgType, err)
	}
	return c, nil
}

// Completion is the per-CallOut completion event (spec §3: "Out-calls
// additionally carry a completion event and an error-description slot").
type Completion struct {
	done    chan struct{}
	once    sync.Once
	status  int
	errDesc string
	reply   []byte
}

// NewCompletion returns an unfired Completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Fire records the outcome and unblocks any waiter. Only the first call
// takes effect, matching the spec's "its completion event fires exactly
// once" invariant.
func (c *Completion) Fire(status int, reply []byte, errDesc string) {
	c.once.Do(func() {
		c.status = status
		c.reply = reply
		c.errDesc = errDesc
		close(c.done)
	})
}

// Wait blocks until Fire is called or ctx is done, whichever comes first.
func (c *Completion) Wait(ctx context.Context) (status int, reply []byte, errDesc string, err error) {
	select {
	case <-c.done:
		return c.status, c.reply, c.errDesc, nil
	case <-ctx.Done():
		return 0, nil, "", ctx.Err()
	}
}

// Done exposes the completion channel for select-based callers (the RPC
// engine's own timeout-vs-race logic needs to distinguish "already fired"
// from "still pending" without consuming the result).
func (c *Completion) Done() <-chan struct{} { return c.done }
