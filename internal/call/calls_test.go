package call

import "testing"

func TestPingEncodeDecodeRoundTrip(t *testing.T) {
	in := &Ping{SessionID: 42, Timestamp: 1690000000}
	payload, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	out := &Ping{}
	if err := out.Decode(payload); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if *out != *in {
		t.Fatalf("Decode() = %+v, want %+v", out, in)
	}
}

func TestPingPrepareRequiresSessionID(t *testing.T) {
	if _, err := (&Ping{}).Prepare(); err != ErrPrepareFailed {
		t.Fatalf("Prepare() error = %v, want ErrPrepareFailed", err)
	}
	target, err := (&Ping{SessionID: 5}).Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if target.Kind != TargetSession || target.SessionID != 5 {
		t.Fatalf("Prepare() = %+v, want session target 5", target)
	}
}

func TestLogonUserEncodeDecodeRoundTrip(t *testing.T) {
	in := &LogonUser{
		ConnectionID:    3,
		User:            "alice",
		Domain:          "EXAMPLE",
		Password:        "hunter2",
		ClientHost:      "desktop-1",
		ClientAddr:      "198.51.100.9",
		ClientBuild:     "10.0.19041",
		ClientProductID: "00000-1",
		ClientHwID:      "hw-123",
		ProtocolType:    "RDP",
		Width:           1920,
		Height:          1080,
		ColorDepth:      32,
	}
	payload, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	out := &LogonUser{}
	if err := out.Decode(payload); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if *out != *in {
		t.Fatalf("Decode() = %+v, want %+v", out, in)
	}
}

func TestLogonUserPreparesOnConnectionID(t *testing.T) {
	if _, err := (&LogonUser{}).Prepare(); err != ErrPrepareFailed {
		t.Fatalf("Prepare() error = %v, want ErrPrepareFailed", err)
	}
	target, err := (&LogonUser{ConnectionID: 9}).Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if target.Kind != TargetConnection || target.ConnectionID != 9 {
		t.Fatalf("Prepare() = %+v, want connection target 9", target)
	}
}

func TestSwitchToEncodeDecodeRoundTrip(t *testing.T) {
	in := &SwitchTo{TargetSessionID: 77}
	in.SessionID = 12
	payload, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	out := &SwitchTo{}
	if err := out.Decode(payload); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.SessionID != in.SessionID || out.TargetSessionID != in.TargetSessionID {
		t.Fatalf("Decode() = %+v, want %+v", out, in)
	}
}

func TestSBPFamilyCallsRequireSBPCompatibility(t *testing.T) {
	cases := []MsgType{
		MsgOtsApiVirtualChannelOpen,
		MsgOtsApiVirtualChannelClose,
		MsgOtsApiStartRemoteControl,
		MsgOtsApiStopRemoteControl,
	}
	for _, mt := range cases {
		if !mt.IsSBPFamily() {
			t.Errorf("IsSBPFamily(%d) = false, want true", mt)
		}
	}
	nonSBP := []MsgType{MsgPing, MsgLogonUser, MsgMessage, MsgConnectionStats}
	for _, mt := range nonSBP {
		if mt.IsSBPFamily() {
			t.Errorf("IsSBPFamily(%d) = true, want false", mt)
		}
	}
}

func TestFactoryRoundTripsEveryRegisteredType(t *testing.T) {
	f := NewFactory()
	msgTypes := []MsgType{
		MsgPing, MsgLogonUser, MsgSwitchTo, MsgDisconnectUserSession,
		MsgLogoffUserSession, MsgPropertyBool, MsgPropertyNumber,
		MsgPropertyString, MsgMessage, MsgConnectionStats, MsgRemoteControlEnded,
		MsgOtsApiVirtualChannelOpen, MsgOtsApiVirtualChannelClose,
		MsgOtsApiStartRemoteControl, MsgOtsApiStopRemoteControl,
	}
	for _, mt := range msgTypes {
		c, err := f.New(mt, nil)
		if err != nil {
			t.Errorf("New(%d, nil) error = %v", mt, err)
			continue
		}
		if c.MsgType() != mt {
			t.Errorf("New(%d).MsgType() = %d", mt, c.MsgType())
		}
	}
}

func TestFactoryUnknownMsgType(t *testing.T) {
	f := NewFactory()
	if _, err := f.New(MsgType(9999), nil); err == nil {
		t.Fatal("New() with unknown msgtype want error, got nil")
	}
}

func TestMessageDecodeAndPrepare(t *testing.T) {
	var w fieldWriter
	w.Uint32(1, 4)
	w.String(2, "server restarting")
	w.Uint32(3, 1)
	w.Uint32(4, 30)

	m := &Message{}
	if err := m.Decode(w.Bytes()); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.SessionID != 4 || m.Text != "server restarting" || m.Style != 1 || m.TimeoutSeconds != 30 {
		t.Fatalf("Decode() = %+v, want SessionID=4 Text=%q Style=1 TimeoutSeconds=30", m, "server restarting")
	}
	target, err := m.Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if target.Kind != TargetSession || target.SessionID != 4 {
		t.Fatalf("Prepare() = %+v, want session target 4", target)
	}
}

func TestConnectionStatsPreparesOnConnectionID(t *testing.T) {
	if _, err := (&ConnectionStats{}).Prepare(); err != ErrPrepareFailed {
		t.Fatalf("Prepare() error = %v, want ErrPrepareFailed", err)
	}
	target, err := (&ConnectionStats{ConnectionID: 1}).Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if target.Kind != TargetConnection {
		t.Fatalf("Prepare().Kind = %v, want TargetConnection", target.Kind)
	}
}
