package otsapi

import (
	"context"
	"testing"

	"go.uber.org/goleak"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ogon-project/ogon-sessiond/internal/call"
	"github.com/ogon-project/ogon-sessiond/internal/config"
	"github.com/ogon-project/ogon-sessiond/internal/module"
	"github.com/ogon-project/ogon-sessiond/internal/module/greeter"
	"github.com/ogon-project/ogon-sessiond/internal/rpcwire"
	"github.com/ogon-project/ogon-sessiond/internal/session"
	"github.com/ogon-project/ogon-sessiond/internal/token"
)

// fakeEnder is a SessionEnder stand-in that just records which sessions it
// was asked to end and closes them, avoiding the full module-stop/token-purge
// machinery internal/logon.Manager.EndSession drives in production.
type fakeEnder struct {
	ended []uint32
}

func (f *fakeEnder) EndSession(_ context.Context, sess *session.Session) error {
	f.ended = append(f.ended, sess.ID())
	sess.Close()
	return nil
}

// fakeLogonDriver stands in for internal/logon.Manager.AdminLogon.
type fakeLogonDriver struct {
	pipeName string
	err      error
}

func (f *fakeLogonDriver) AdminLogon(_ context.Context, _ uint32, _, _ string, _ session.ClientInfo) (string, uint32, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	return f.pipeName, 99, nil
}

// fakeOutboundSender is an OutboundSender whose completion is controlled by
// the test directly, standing in for a real *rpcengine.Conn.
type fakeOutboundSender struct {
	completion *call.Completion
	sendErr    error
}

func (f *fakeOutboundSender) SendCall(_ call.CallOut) (*call.Completion, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.completion, nil
}

// fakeFrontend is a Frontend whose Active result the test controls.
type fakeFrontend struct {
	conn OutboundSender
	ok   bool
}

func (f *fakeFrontend) Active() (OutboundSender, bool) { return f.conn, f.ok }

type testHarness struct {
	srv         *Server
	sessions    *session.Store
	connections *session.ConnectionStore
	tokens      *token.Store
	properties  *config.PropertyStore
	ender       *fakeEnder
	logonDriver *fakeLogonDriver
	frontend    *fakeFrontend
}

func newTestHarness(t *testing.T, vchannels []string) *testHarness {
	t.Helper()
	mm := module.New(nil)
	if err := mm.Register(context.Background(), "greeter", module.KindBackend, greeter.New()); err != nil {
		t.Fatalf("register greeter: %v", err)
	}

	sessions := session.NewStore(nil, mm)
	connections := session.NewConnectionStore()
	tokens := token.New()
	properties := config.NewPropertyStore()
	ender := &fakeEnder{}
	logonDriver := &fakeLogonDriver{pipeName: "ogon_99_desktop"}
	frontend := &fakeFrontend{}

	srv := New(Config{
		Sessions:    sessions,
		Connections: connections,
		Tokens:      tokens,
		Properties:  properties,
		VChannels:   vchannels,
		Ender:       ender,
		Logon:       logonDriver,
		Frontend:    frontend,
	})

	return &testHarness{
		srv:         srv,
		sessions:    sessions,
		connections: connections,
		tokens:      tokens,
		properties:  properties,
		ender:       ender,
		logonDriver: logonDriver,
		frontend:    frontend,
	}
}

// newActiveSession creates a session, drives it to StateActive under the
// given identity and permission mask, and registers a token for it.
func newActiveSession(t *testing.T, h *testHarness, user, domain string, mask uint32) (*session.Session, string) {
	t.Helper()
	sess, err := h.sessions.Create(context.Background(), mask)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess.SetIdentity(session.Identity{User: user, Domain: domain, ClientHost: "host1"})
	if _, err := sess.Fire(context.Background(), session.EventConnect); err != nil {
		t.Fatalf("fire EventConnect: %v", err)
	}
	if _, err := sess.Fire(context.Background(), session.EventLogon); err != nil {
		t.Fatalf("fire EventLogon: %v", err)
	}

	tok, err := h.tokens.RegisterSession(sess)
	if err != nil {
		t.Fatalf("register session token: %v", err)
	}
	sess.SetAuthToken(tok)
	return sess, tok
}

func TestPingResolvesValidToken(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)
	sess, tok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermGuest))
	defer h.sessions.Remove(sess.ID())

	if err := h.srv.Ping(context.Background(), tok); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestPingRejectsUnknownToken(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	if err := h.srv.Ping(context.Background(), "bogus"); err != ErrUnknownToken {
		t.Fatalf("Ping err = %v, want ErrUnknownToken", err)
	}
}

func TestEnumerateSessionsRequiresQueryInformation(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	caller, callerTok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermMessage))
	defer h.sessions.Remove(caller.ID())
	other, _ := newActiveSession(t, h, "bob", "EXAMPLE", uint32(token.PermUser))
	defer h.sessions.Remove(other.ID())

	if _, err := h.srv.EnumerateSessions(context.Background(), callerTok); err != ErrPermissionDenied {
		t.Fatalf("err = %v, want ErrPermissionDenied (mask lacks QUERY_INFORMATION)", err)
	}
}

func TestEnumerateSessionsSucceedsWithPermission(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	caller, callerTok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermUser))
	defer h.sessions.Remove(caller.ID())
	other, _ := newActiveSession(t, h, "bob", "EXAMPLE", uint32(token.PermUser))
	defer h.sessions.Remove(other.ID())

	infos, err := h.srv.EnumerateSessions(context.Background(), callerTok)
	if err != nil {
		t.Fatalf("EnumerateSessions: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len(infos) = %d, want 2", len(infos))
	}
}

func TestQuerySessionInformationSameUserBypassesMask(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	sess, tok := newActiveSession(t, h, "alice", "EXAMPLE", 0) // no bits at all
	defer h.sessions.Remove(sess.ID())

	info, err := h.srv.QuerySessionInformation(context.Background(), tok, sess.ID())
	if err != nil {
		t.Fatalf("QuerySessionInformation: %v", err)
	}
	if info.User != "alice" {
		t.Fatalf("info.User = %q, want alice", info.User)
	}
}

func TestQuerySessionInformationDeniedForOtherUserWithoutMask(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	caller, callerTok := newActiveSession(t, h, "alice", "EXAMPLE", 0)
	defer h.sessions.Remove(caller.ID())
	target, _ := newActiveSession(t, h, "bob", "EXAMPLE", uint32(token.PermUser))
	defer h.sessions.Remove(target.ID())

	if _, err := h.srv.QuerySessionInformation(context.Background(), callerTok, target.ID()); err != ErrPermissionDenied {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestDisconnectSessionWaitTransitionsState(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	sess, tok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))
	defer h.sessions.Remove(sess.ID())

	if err := h.srv.DisconnectSession(context.Background(), tok, sess.ID(), true); err != nil {
		t.Fatalf("DisconnectSession: %v", err)
	}
	if sess.State() != session.StateDisconnected {
		t.Fatalf("state = %v, want Disconnected", sess.State())
	}
}

func TestLogoffSessionWaitEndsSessionViaEnder(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	sess, tok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))

	if err := h.srv.LogoffSession(context.Background(), tok, sess.ID(), true); err != nil {
		t.Fatalf("LogoffSession: %v", err)
	}
	if len(h.ender.ended) != 1 || h.ender.ended[0] != sess.ID() {
		t.Fatalf("ender.ended = %v, want [%d]", h.ender.ended, sess.ID())
	}
}

func TestStartAndStopRemoteControlSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	viewer, viewerTok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))
	defer h.sessions.Remove(viewer.ID())
	target, _ := newActiveSession(t, h, "bob", "EXAMPLE", uint32(token.PermUser))
	defer h.sessions.Remove(target.ID())

	if err := h.srv.StartRemoteControlSession(context.Background(), viewerTok, viewer.ID(), target.ID()); err != nil {
		t.Fatalf("StartRemoteControlSession: %v", err)
	}
	if viewer.State() != session.StateShadow {
		t.Fatalf("viewer state = %v, want Shadow", viewer.State())
	}
	shadowed := target.ShadowedBy()
	if len(shadowed) != 1 || shadowed[0] != viewer.ID() {
		t.Fatalf("target.ShadowedBy() = %v, want [%d]", shadowed, viewer.ID())
	}

	if err := h.srv.StopRemoteControlSession(context.Background(), viewerTok, viewer.ID(), target.ID()); err != nil {
		t.Fatalf("StopRemoteControlSession: %v", err)
	}
	if viewer.State() != session.StateActive {
		t.Fatalf("viewer state = %v, want Active", viewer.State())
	}
	if len(target.ShadowedBy()) != 0 {
		t.Fatalf("target.ShadowedBy() = %v, want empty after stop", target.ShadowedBy())
	}
}

func TestVirtualChannelOpenRespectsWhitelist(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, []string{"cliprdr"})

	sess, tok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))
	defer h.sessions.Remove(sess.ID())

	pipeName, instance, err := h.srv.VirtualChannelOpen(context.Background(), tok, sess.ID(), "cliprdr", false)
	if err != nil {
		t.Fatalf("VirtualChannelOpen: %v", err)
	}
	if pipeName == "" || instance == 0 {
		t.Fatalf("pipeName=%q instance=%d, want non-empty/nonzero for a whitelisted channel", pipeName, instance)
	}

	closed, err := h.srv.VirtualChannelClose(context.Background(), tok, sess.ID(), instance)
	if err != nil {
		t.Fatalf("VirtualChannelClose: %v", err)
	}
	if !closed {
		t.Fatal("expected VirtualChannelClose to report true for an open instance")
	}
}

func TestVirtualChannelOpenRejectsUnlistedChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, []string{"cliprdr"})

	sess, tok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))
	defer h.sessions.Remove(sess.ID())

	pipeName, instance, err := h.srv.VirtualChannelOpen(context.Background(), tok, sess.ID(), "rdpsnd", false)
	if err != nil {
		t.Fatalf("VirtualChannelOpen: %v", err)
	}
	if pipeName != "" || instance != 0 {
		t.Fatalf("pipeName=%q instance=%d, want empty/zero for a non-whitelisted channel", pipeName, instance)
	}
}

func TestVirtualChannelOpenSessionPropertyOverridesDefault(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, []string{"cliprdr"})

	sess, tok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))
	defer h.sessions.Remove(sess.ID())

	h.properties.SetSessionBool(sess.ID(), "vchannel.rdpdr", true)

	pipeName, instance, err := h.srv.VirtualChannelOpen(context.Background(), tok, sess.ID(), "rdpdr", true)
	if err != nil {
		t.Fatalf("VirtualChannelOpen: %v", err)
	}
	if pipeName == "" || instance == 0 {
		t.Fatal("expected the per-session override to allow a channel absent from the default whitelist")
	}
}

// encodeMessageReply builds the wire payload a MessageReply{ButtonID:
// buttonID} decodes back out of: field 1, varint wire type, matching the
// shape call.MessageReply.Decode reads (internal/call/calls.go). Production
// code never originates this payload itself (the frontend does), so the
// test constructs it directly with protowire rather than through an
// unexported encoder.
func encodeMessageReply(buttonID uint32) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(buttonID))
	return buf
}

func TestSendMessageReturnsButtonID(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	sess, tok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))
	defer h.sessions.Remove(sess.ID())

	completion := call.NewCompletion()
	h.frontend.ok = true
	h.frontend.conn = &fakeOutboundSender{completion: completion}

	completion.Fire(int(rpcwire.StatusSuccess), encodeMessageReply(7), "")

	buttonID, err := h.srv.SendMessage(context.Background(), tok, sess.ID(), "hello", 0, 30)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if buttonID != 7 {
		t.Fatalf("buttonID = %d, want 7", buttonID)
	}
}

func TestSendMessageReturnsIDTimeoutOnCallTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	sess, tok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))
	defer h.sessions.Remove(sess.ID())

	completion := call.NewCompletion()
	h.frontend.ok = true
	h.frontend.conn = &fakeOutboundSender{completion: completion}
	completion.Fire(int(rpcwire.StatusCallTimeout), nil, "")

	buttonID, err := h.srv.SendMessage(context.Background(), tok, sess.ID(), "hello", 0, 1)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if buttonID != IDTIMEOUT {
		t.Fatalf("buttonID = %d, want IDTIMEOUT (%d)", buttonID, IDTIMEOUT)
	}
}

func TestSendMessageNoFrontendConnected(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	sess, tok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))
	defer h.sessions.Remove(sess.ID())

	if _, err := h.srv.SendMessage(context.Background(), tok, sess.ID(), "hello", 0, 1); err != ErrNoFrontend {
		t.Fatalf("err = %v, want ErrNoFrontend", err)
	}
}

func TestLogonConnectionChecksLogonPermissionAgainstProspectiveUser(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	// admin has LOGON but is a different user than the one being logged on;
	// CheckPermission's same-user bypass must not apply here.
	admin, adminTok := newActiveSession(t, h, "admin", "EXAMPLE", uint32(token.PermLogon))
	defer h.sessions.Remove(admin.ID())

	pipeName, sessionID, err := h.srv.LogonConnection(context.Background(), adminTok, 5, "carol", "EXAMPLE", session.ClientInfo{})
	if err != nil {
		t.Fatalf("LogonConnection: %v", err)
	}
	if pipeName != h.logonDriver.pipeName || sessionID != 99 {
		t.Fatalf("got pipeName=%q sessionID=%d, want %q/99", pipeName, sessionID, h.logonDriver.pipeName)
	}
}

func TestLogonConnectionDeniedWithoutLogonBit(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	admin, adminTok := newActiveSession(t, h, "admin", "EXAMPLE", uint32(token.PermQueryInformation))
	defer h.sessions.Remove(admin.ID())

	if _, _, err := h.srv.LogonConnection(context.Background(), adminTok, 5, "carol", "EXAMPLE", session.ClientInfo{}); err != ErrPermissionDenied {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestLogoffConnectionEndsBoundSessionAndRemovesConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	sess, _ := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))
	conn, err := h.connections.Create(5, session.ClientInfo{})
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	if err := conn.Authenticate("alice", "EXAMPLE", session.AuthStatusAuthenticated); err != nil {
		t.Fatalf("authenticate connection: %v", err)
	}
	conn.BindSession(sess.ID())

	admin, adminTok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermLogoff))
	defer h.sessions.Remove(admin.ID())

	if err := h.srv.LogoffConnection(context.Background(), adminTok, 5); err != nil {
		t.Fatalf("LogoffConnection: %v", err)
	}
	if len(h.ender.ended) != 1 || h.ender.ended[0] != sess.ID() {
		t.Fatalf("ender.ended = %v, want [%d]", h.ender.ended, sess.ID())
	}
	if _, ok := h.connections.Lookup(5); ok {
		t.Fatal("expected connection 5 to be removed after logoff")
	}
}

func TestLogoffConnectionUnknownConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHarness(t, nil)

	admin, adminTok := newActiveSession(t, h, "alice", "EXAMPLE", uint32(token.PermFull))
	defer h.sessions.Remove(admin.ID())

	if err := h.srv.LogoffConnection(context.Background(), adminTok, 404); err != ErrUnknownConnection {
		t.Fatalf("err = %v, want ErrUnknownConnection", err)
	}
}
