package call

import "google.golang.org/protobuf/encoding/protowire"

// Ping is a liveness probe, routed onto its target session's executor
// (spec §6: "Ping").
type Ping struct {
	SessionID uint32
	Timestamp int64
}

func (c *Ping) MsgType() MsgType { return MsgPing }

func (c *Ping) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Timestamp = int64(v)
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

func (c *Ping) Prepare() (Target, error) {
	if c.SessionID == 0 {
		return Target{}, ErrPrepareFailed
	}
	return Target{Kind: TargetSession, SessionID: c.SessionID}, nil
}

func (c *Ping) Encode() ([]byte, error) {
	var w fieldWriter
	w.Uint32(1, c.SessionID)
	w.Int64(2, c.Timestamp)
	return w.Bytes(), nil
}

// LogonUser carries the logon flow's input (spec §4.5). It routes by
// connection id since no session may exist yet.
type LogonUser struct {
	ConnectionID    uint32
	User            string
	Domain          string
	Password        string
	ClientHost      string
	ClientAddr      string
	ClientBuild     string
	ClientProductID string
	ClientHwID      string
	ProtocolType    string
	Width           uint32
	Height          uint32
	ColorDepth      uint32
}

func (c *LogonUser) MsgType() MsgType { return MsgLogonUser }

func (c *LogonUser) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ConnectionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.User = v
			return n, nil
		case 3:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Domain = v
			return n, nil
		case 4:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Password = v
			return n, nil
		case 5:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ClientHost = v
			return n, nil
		case 6:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ClientAddr = v
			return n, nil
		case 7:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ClientBuild = v
			return n, nil
		case 8:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ClientProductID = v
			return n, nil
		case 9:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ClientHwID = v
			return n, nil
		case 10:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ProtocolType = v
			return n, nil
		case 11:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Width = uint32(v)
			return n, nil
		case 12:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Height = uint32(v)
			return n, nil
		case 13:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ColorDepth = uint32(v)
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

func (c *LogonUser) Prepare() (Target, error) {
	if c.ConnectionID == 0 {
		return Target{}, ErrPrepareFailed
	}
	return Target{Kind: TargetConnection, ConnectionID: c.ConnectionID}, nil
}

func (c *LogonUser) Encode() ([]byte, error) {
	var w fieldWriter
	w.Uint32(1, c.ConnectionID)
	w.String(2, c.User)
	w.String(3, c.Domain)
	w.String(4, c.Password)
	w.String(5, c.ClientHost)
	w.String(6, c.ClientAddr)
	w.String(7, c.ClientBuild)
	w.String(8, c.ClientProductID)
	w.String(9, c.ClientHwID)
	w.String(10, c.ProtocolType)
	w.Uint32(11, c.Width)
	w.Uint32(12, c.Height)
	w.Uint32(13, c.ColorDepth)
	return w.Bytes(), nil
}

// sessionTargetedCall factors the common "SessionID field, routes by
// session id, zero id fails prepare" shape shared by most call families.
type sessionTargetedCall struct {
	SessionID uint32
}

func (c *sessionTargetedCall) prepare() (Target, error) {
	if c.SessionID == 0 {
		return Target{}, ErrPrepareFailed
	}
	return Target{Kind: TargetSession, SessionID: c.SessionID}, nil
}

// SwitchTo requests shadowing another session (spec §6).
type SwitchTo struct {
	sessionTargetedCall
	TargetSessionID uint32
}

func (c *SwitchTo) MsgType() MsgType { return MsgSwitchTo }
func (c *SwitchTo) Prepare() (Target, error) { return c.prepare() }

func (c *SwitchTo) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.TargetSessionID = uint32(v)
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

func (c *SwitchTo) Encode() ([]byte, error) {
	var w fieldWriter
	w.Uint32(1, c.SessionID)
	w.Uint32(2, c.TargetSessionID)
	return w.Bytes(), nil
}

// DisconnectUserSession requests a session disconnect, optionally waiting
// for completion (spec §4.9: "disconnectSession(wait?)").
type DisconnectUserSession struct {
	sessionTargetedCall
	Wait bool
}

func (c *DisconnectUserSession) MsgType() MsgType     { return MsgDisconnectUserSession }
func (c *DisconnectUserSession) Prepare() (Target, error) { return c.prepare() }

func (c *DisconnectUserSession) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Wait = v != 0
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// LogoffUserSession requests a session logoff (spec §4.9: "logoffSession(wait?)").
type LogoffUserSession struct {
	sessionTargetedCall
	Wait bool
}

func (c *LogoffUserSession) MsgType() MsgType        { return MsgLogoffUserSession }
func (c *LogoffUserSession) Prepare() (Target, error) { return c.prepare() }

func (c *LogoffUserSession) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Wait = v != 0
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// PropertyBool sets or queries a boolean property (spec §6: "PropertyBool").
type PropertyBool struct {
	sessionTargetedCall
	Path  string
	Value bool
}

func (c *PropertyBool) MsgType() MsgType        { return MsgPropertyBool }
func (c *PropertyBool) Prepare() (Target, error) { return c.prepare() }

func (c *PropertyBool) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Path = v
			return n, nil
		case 3:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Value = v != 0
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// PropertyNumber sets or queries an integer property.
type PropertyNumber struct {
	sessionTargetedCall
	Path  string
	Value int64
}

func (c *PropertyNumber) MsgType() MsgType        { return MsgPropertyNumber }
func (c *PropertyNumber) Prepare() (Target, error) { return c.prepare() }

func (c *PropertyNumber) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Path = v
			return n, nil
		case 3:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Value = int64(v)
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// PropertyString sets or queries a string property.
type PropertyString struct {
	sessionTargetedCall
	Path  string
	Value string
}

func (c *PropertyString) MsgType() MsgType        { return MsgPropertyString }
func (c *PropertyString) Prepare() (Target, error) { return c.prepare() }

func (c *PropertyString) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Path = v
			return n, nil
		case 3:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Value = v
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// Message is sendMessage's wire payload (spec §4.9: "sendMessage bypasses
// the session executor and goes through the RPC out-queue... returning
// the user's button-id response or IDTIMEOUT"). It is still decoded here
// like any inbound call; internal/otsapi is responsible for routing it
// around the executor rather than onto it.
type Message struct {
	sessionTargetedCall
	Text           string
	Style          uint32
	TimeoutSeconds uint32
}

func (c *Message) MsgType() MsgType        { return MsgMessage }
func (c *Message) Prepare() (Target, error) { return c.prepare() }

func (c *Message) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Text = v
			return n, nil
		case 3:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.Style = uint32(v)
			return n, nil
		case 4:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.TimeoutSeconds = uint32(v)
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// ConnectionStats reports transfer counters for a connection (spec §6).
type ConnectionStats struct {
	ConnectionID  uint32
	BytesSent     uint64
	BytesReceived uint64
}

func (c *ConnectionStats) MsgType() MsgType { return MsgConnectionStats }

func (c *ConnectionStats) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ConnectionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.BytesSent = v
			return n, nil
		case 3:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.BytesReceived = v
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

func (c *ConnectionStats) Prepare() (Target, error) {
	if c.ConnectionID == 0 {
		return Target{}, ErrPrepareFailed
	}
	return Target{Kind: TargetConnection, ConnectionID: c.ConnectionID}, nil
}

// RemoteControlEnded notifies that a shadow session ended (spec §6).
type RemoteControlEnded struct {
	sessionTargetedCall
	TargetSessionID uint32
}

func (c *RemoteControlEnded) MsgType() MsgType        { return MsgRemoteControlEnded }
func (c *RemoteControlEnded) Prepare() (Target, error) { return c.prepare() }

func (c *RemoteControlEnded) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.TargetSessionID = uint32(v)
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// OtsApiVirtualChannelOpen is the SBP-family virtual channel open request.
type OtsApiVirtualChannelOpen struct {
	sessionTargetedCall
	ChannelName string
}

func (c *OtsApiVirtualChannelOpen) MsgType() MsgType        { return MsgOtsApiVirtualChannelOpen }
func (c *OtsApiVirtualChannelOpen) Prepare() (Target, error) { return c.prepare() }

func (c *OtsApiVirtualChannelOpen) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ChannelName = v
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// OtsApiVirtualChannelClose is the SBP-family virtual channel close request.
type OtsApiVirtualChannelClose struct {
	sessionTargetedCall
	ChannelName string
}

func (c *OtsApiVirtualChannelClose) MsgType() MsgType        { return MsgOtsApiVirtualChannelClose }
func (c *OtsApiVirtualChannelClose) Prepare() (Target, error) { return c.prepare() }

func (c *OtsApiVirtualChannelClose) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ChannelName = v
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// OtsApiStartRemoteControl is the SBP-family shadow-start request.
type OtsApiStartRemoteControl struct {
	sessionTargetedCall
	TargetSessionID uint32
}

func (c *OtsApiStartRemoteControl) MsgType() MsgType        { return MsgOtsApiStartRemoteControl }
func (c *OtsApiStartRemoteControl) Prepare() (Target, error) { return c.prepare() }

func (c *OtsApiStartRemoteControl) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.TargetSessionID = uint32(v)
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// LogonInfo is the logon flow's response payload (spec §4.5: "Response
// payload: {pipeName, maxWidth, maxHeight, ogonCookie, backendCookie}").
// It is a CallOut in shape (Encode only) but travels back as a response
// body rather than a fresh outgoing call, so internal/logon calls Encode
// directly instead of going through internal/rpcengine's SendCall path.
type LogonInfo struct {
	PipeName      string
	MaxWidth      uint32
	MaxHeight     uint32
	OgonCookie    string
	BackendCookie string
}

func (c *LogonInfo) MsgType() MsgType { return MsgLogonInfo }

func (c *LogonInfo) Encode() ([]byte, error) {
	var w fieldWriter
	w.String(1, c.PipeName)
	w.Uint32(2, c.MaxWidth)
	w.Uint32(3, c.MaxHeight)
	w.String(4, c.OgonCookie)
	w.String(5, c.BackendCookie)
	return w.Bytes(), nil
}

func (c *LogonInfo) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.PipeName = v
			return n, nil
		case 2:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.MaxWidth = uint32(v)
			return n, nil
		case 3:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.MaxHeight = uint32(v)
			return n, nil
		case 4:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.OgonCookie = v
			return n, nil
		case 5:
			v, n, err := consumeString(buf, typ)
			if err != nil {
				return 0, err
			}
			c.BackendCookie = v
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// OtsApiStopRemoteControl is the SBP-family shadow-stop request.
type OtsApiStopRemoteControl struct {
	sessionTargetedCall
}

func (c *OtsApiStopRemoteControl) MsgType() MsgType        { return MsgOtsApiStopRemoteControl }
func (c *OtsApiStopRemoteControl) Prepare() (Target, error) { return c.prepare() }

func (c *OtsApiStopRemoteControl) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.SessionID = uint32(v)
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}

// MessageOut is sendMessage's outbound call (spec §4.9: "sendMessage posts
// a message box to the session's frontend and returns the user's button-id
// response or IDTIMEOUT"). It is a CallOut in shape, sent with
// internal/rpcengine.Conn.SendCall rather than routed through a session's
// own executor, since the frontend (not a backend module) is the peer.
type MessageOut struct {
	SessionID      uint32
	Text           string
	Style          uint32
	TimeoutSeconds uint32
}

func (c *MessageOut) MsgType() MsgType { return MsgMessage }

func (c *MessageOut) Encode() ([]byte, error) {
	var w fieldWriter
	w.Uint32(1, c.SessionID)
	w.String(2, c.Text)
	w.Uint32(3, c.Style)
	w.Uint32(4, c.TimeoutSeconds)
	return w.Bytes(), nil
}

// MessageReply decodes a MessageOut's response payload: the button id the
// user dismissed the message box with, or IDTIMEOUT if no response arrived
// before TimeoutSeconds elapsed on the frontend side.
type MessageReply struct {
	ButtonID uint32
}

func (c *MessageReply) Decode(payload []byte) error {
	return newFieldReader(payload).Each(func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(buf, typ)
			if err != nil {
				return 0, err
			}
			c.ButtonID = uint32(v)
			return n, nil
		default:
			return skipField(num, typ, buf)
		}
	})
}
