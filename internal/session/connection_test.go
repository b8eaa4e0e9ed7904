package session

import (
	"errors"
	"testing"
)

func TestConnectionAuthenticateOnlyOnce(t *testing.T) {
	c := newConnection(1, ClientInfo{Hostname: "host"})
	if err := c.Authenticate("alice", "corp", AuthStatusAuthenticated); err != nil {
		t.Fatalf("first Authenticate() error = %v", err)
	}
	if err := c.Authenticate("alice", "corp", AuthStatusAuthenticated); !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Fatalf("second Authenticate() error = %v, want ErrAlreadyAuthenticated", err)
	}
	if got := c.AuthStatus(); got != AuthStatusAuthenticated {
		t.Fatalf("AuthStatus() = %v, want Authenticated", got)
	}
}

func TestConnectionBindSessionDrainsPending(t *testing.T) {
	c := newConnection(1, ClientInfo{})
	c.Park(PendingCall{MsgType: 1, Tag: 10})
	c.Park(PendingCall{MsgType: 2, Tag: 11})

	drained := c.BindSession(42)
	if len(drained) != 2 {
		t.Fatalf("BindSession() drained = %v, want 2 entries", drained)
	}
	if c.SessionID() != 42 {
		t.Fatalf("SessionID() = %d, want 42", c.SessionID())
	}
	if c.State() != ConnStateHasSession {
		t.Fatalf("State() = %v, want HasSession", c.State())
	}
	// A second bind should observe an already-empty queue.
	if drained := c.BindSession(42); len(drained) != 0 {
		t.Fatalf("second BindSession() drained = %v, want empty", drained)
	}
}

func TestConnectionFailSessionDrainsAndMarksFailed(t *testing.T) {
	c := newConnection(1, ClientInfo{})
	c.Park(PendingCall{MsgType: 1})

	drained := c.FailSession()
	if len(drained) != 1 {
		t.Fatalf("FailSession() drained = %v, want 1 entry", drained)
	}
	if c.State() != ConnStateSessionFailed {
		t.Fatalf("State() = %v, want SessionFailed", c.State())
	}
}

func TestConnectionStoreCreateIsIdempotentByID(t *testing.T) {
	cs := NewConnectionStore()
	c1, err := cs.Create(5, ClientInfo{Hostname: "a"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	c2, err := cs.Create(5, ClientInfo{Hostname: "b"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c1 != c2 {
		t.Fatalf("Create() with existing id returned a different connection")
	}
	if got := c1.ClientInfo().Hostname; got != "a" {
		t.Fatalf("ClientInfo().Hostname = %q, want %q (first Create wins)", got, "a")
	}
}

func TestConnectionStoreResetWipesAll(t *testing.T) {
	cs := NewConnectionStore()
	cs.Create(1, ClientInfo{})
	cs.Create(2, ClientInfo{})

	drained := cs.Reset()
	if len(drained) != 2 {
		t.Fatalf("Reset() returned %d connections, want 2", len(drained))
	}
	if cs.Len() != 0 {
		t.Fatalf("Len() after Reset() = %d, want 0", cs.Len())
	}
}
