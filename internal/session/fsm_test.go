package session

import (
	"reflect"
	"testing"
)

func TestApplyEventKnownTransitions(t *testing.T) {
	cases := []struct {
		name    string
		state   State
		event   Event
		want    State
		actions []Action
	}{
		{"init connects", StateInit, EventConnect, StateConnected,
			[]Action{ActionEmitRemoteConnect, ActionModuleConnect, ActionSetConnectTime}},
		{"connected logs on", StateConnected, EventLogon, StateActive,
			[]Action{ActionEmitSessionLogon, ActionSetLogonTimeIfUnset}},
		{"connected terminates", StateConnected, EventTerminate, StateDown,
			[]Action{ActionEmitRemoteDisconnect}},
		{"active disconnects", StateActive, EventDisconnect, StateDisconnected,
			[]Action{ActionEmitRemoteDisconnect, ActionModuleDisconnect, ActionSetDisconnectTime}},
		{"active shadows", StateActive, EventShadowStart, StateShadow,
			[]Action{ActionEmitSessionRemoteControl}},
		{"shadow resumes", StateShadow, EventShadowStop, StateActive,
			[]Action{ActionEmitSessionRemoteControl}},
		{"disconnected queries", StateDisconnected, EventQuery, StateConnectQuery, nil},
		{"disconnected reconnects directly", StateDisconnected, EventReconnect, StateActive,
			[]Action{ActionEmitRemoteConnect, ActionSetConnectTime, ActionModuleConnect}},
		{"disconnected terminates", StateDisconnected, EventTerminate, StateDown,
			[]Action{ActionEmitSessionLogoff}},
		{"connect query reconnects", StateConnectQuery, EventReconnect, StateActive,
			[]Action{ActionEmitRemoteConnect, ActionSetConnectTime, ActionModuleConnect}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyEvent(tc.state, tc.event)
			if got.NewState != tc.want {
				t.Fatalf("NewState = %v, want %v", got.NewState, tc.want)
			}
			if !got.Changed {
				t.Fatalf("Changed = false, want true")
			}
			if !reflect.DeepEqual(got.Actions, tc.actions) {
				t.Fatalf("Actions = %v, want %v", got.Actions, tc.actions)
			}
			if got.OldState != tc.state {
				t.Fatalf("OldState = %v, want %v", got.OldState, tc.state)
			}
		})
	}
}

func TestApplyEventUnknownTransitionIgnored(t *testing.T) {
	got := ApplyEvent(StateDown, EventConnect)
	if got.Changed {
		t.Fatalf("Changed = true for unlisted transition, want false")
	}
	if got.NewState != StateDown {
		t.Fatalf("NewState = %v, want unchanged Down", got.NewState)
	}
	if got.Actions != nil {
		t.Fatalf("Actions = %v, want nil", got.Actions)
	}
}

func TestReservedStatesAreUnreachable(t *testing.T) {
	for _, from := range []State{StateInit, StateConnected, StateActive, StateDisconnected, StateConnectQuery, StateShadow} {
		for _, ev := range []Event{EventConnect, EventLogon, EventDisconnect, EventQuery, EventReconnect, EventShadowStart, EventShadowStop, EventTerminate} {
			got := ApplyEvent(from, ev)
			switch got.NewState {
			case StateIdle, StateListen, StateReset:
				t.Fatalf("transition (%v, %v) reached reserved state %v", from, ev, got.NewState)
			}
		}
	}
}

func TestStateStringCoversAllValues(t *testing.T) {
	for s := StateInit; s <= StateReset; s++ {
		if got := s.String(); got == "Unknown" {
			t.Fatalf("State(%d).String() = Unknown, want a name", s)
		}
	}
}
