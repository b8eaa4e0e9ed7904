package session

// The session connect-state machine is expressed as a pure function over a
// transition table, independent of *Session, so it can be tested against
// the state diagram directly without constructing a full session.
//
// State diagram:
//
//	 Init ──► Connected ──► Active ◄──► Shadow
//	             │             ▲
//	             ▼             │
//	           Down        Disconnected ──► ConnectQuery ──► Active
//	                           │
//	                           ▼
//	                          Down

// State is a session connect-state.
type State uint8

const (
	StateInit State = iota
	StateConnected
	StateActive
	StateDisconnected
	StateConnectQuery
	StateShadow
	StateDown

	// StateIdle, StateListen and StateReset are reserved wire-compatible
	// state values. No transition in this implementation ever produces
	// them; see the Open Question decision on reserved states.
	StateIdle
	StateListen
	StateReset
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateConnected:
		return "Connected"
	case StateActive:
		return "Active"
	case StateDisconnected:
		return "Disconnected"
	case StateConnectQuery:
		return "ConnectQuery"
	case StateShadow:
		return "Shadow"
	case StateDown:
		return "Down"
	case StateIdle:
		return "Idle"
	case StateListen:
		return "Listen"
	case StateReset:
		return "Reset"
	default:
		return "Unknown"
	}
}

// Event drives a connect-state transition.
type Event uint8

const (
	// EventConnect is the front end's initial pipe attach: Init -> Connected.
	EventConnect Event = iota

	// EventLogon completes authentication: Connected -> Active.
	EventLogon

	// EventDisconnect is a client-initiated or network disconnect: Active -> Disconnected.
	EventDisconnect

	// EventQuery starts a reconnect probe: Disconnected -> ConnectQuery.
	EventQuery

	// EventReconnect re-establishes the front end connection: Disconnected -> Active,
	// or ConnectQuery -> Active.
	EventReconnect

	// EventShadowStart begins remote control: Active -> Shadow.
	EventShadowStart

	// EventShadowStop ends remote control, resuming the shadowed session: Shadow -> Active.
	EventShadowStop

	// EventTerminate tears the session down: Connected -> Down, Disconnected -> Down.
	EventTerminate
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "Connect"
	case EventLogon:
		return "Logon"
	case EventDisconnect:
		return "Disconnect"
	case EventQuery:
		return "Query"
	case EventReconnect:
		return "Reconnect"
	case EventShadowStart:
		return "ShadowStart"
	case EventShadowStop:
		return "ShadowStop"
	case EventTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// Action is a side-effect the caller must execute after a transition. The
// FSM itself never touches a notifier, module, or clock.
type Action uint8

const (
	ActionEmitRemoteConnect Action = iota + 1
	ActionEmitRemoteDisconnect
	ActionEmitSessionLogon
	ActionEmitSessionLogoff
	ActionEmitSessionRemoteControl
	ActionModuleConnect
	ActionModuleDisconnect
	ActionSetConnectTime
	ActionSetDisconnectTime
	ActionSetLogonTimeIfUnset
)

func (a Action) String() string {
	switch a {
	case ActionEmitRemoteConnect:
		return "EmitRemoteConnect"
	case ActionEmitRemoteDisconnect:
		return "EmitRemoteDisconnect"
	case ActionEmitSessionLogon:
		return "EmitSessionLogon"
	case ActionEmitSessionLogoff:
		return "EmitSessionLogoff"
	case ActionEmitSessionRemoteControl:
		return "EmitSessionRemoteControl"
	case ActionModuleConnect:
		return "ModuleConnect"
	case ActionModuleDisconnect:
		return "ModuleDisconnect"
	case ActionSetConnectTime:
		return "SetConnectTime"
	case ActionSetDisconnectTime:
		return "SetDisconnectTime"
	case ActionSetLogonTimeIfUnset:
		return "SetLogonTimeIfUnset"
	default:
		return "Unknown"
	}
}

type stateEvent struct {
	state State
	event Event
}

type transition struct {
	newState State
	actions  []Action
}

// FSMResult is the outcome of applying an Event to a State.
type FSMResult struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

// fsmTable encodes §4.1's diagram plus its per-transition entry actions.
// Down's action depends on which state it came from (Connected ->
// RemoteDisconnect, anything else -> SessionLogoff), so StateDown has two
// table entries distinguished by the originating state.
var fsmTable = map[stateEvent]transition{
	{StateInit, EventConnect}: {
		newState: StateConnected,
		actions:  []Action{ActionEmitRemoteConnect, ActionModuleConnect, ActionSetConnectTime},
	},
	{StateConnected, EventLogon}: {
		newState: StateActive,
		actions:  []Action{ActionEmitSessionLogon, ActionSetLogonTimeIfUnset},
	},
	{StateConnected, EventTerminate}: {
		newState: StateDown,
		actions:  []Action{ActionEmitRemoteDisconnect},
	},
	{StateActive, EventDisconnect}: {
		newState: StateDisconnected,
		actions:  []Action{ActionEmitRemoteDisconnect, ActionModuleDisconnect, ActionSetDisconnectTime},
	},
	{StateActive, EventShadowStart}: {
		newState: StateShadow,
		actions:  []Action{ActionEmitSessionRemoteControl},
	},
	{StateShadow, EventShadowStop}: {
		newState: StateActive,
		actions:  []Action{ActionEmitSessionRemoteControl},
	},
	{StateDisconnected, EventQuery}: {
		newState: StateConnectQuery,
		actions:  nil,
	},
	{StateDisconnected, EventReconnect}: {
		newState: StateActive,
		actions:  []Action{ActionEmitRemoteConnect, ActionSetConnectTime, ActionModuleConnect},
	},
	{StateDisconnected, EventTerminate}: {
		newState: StateDown,
		actions:  []Action{ActionEmitSessionLogoff},
	},
	{StateConnectQuery, EventReconnect}: {
		newState: StateActive,
		actions:  []Action{ActionEmitRemoteConnect, ActionSetConnectTime, ActionModuleConnect},
	},
}

// ApplyEvent applies event to currentState and returns the transition
// outcome. A (state, event) pair absent from the table is silently ignored
// per §4.1 ("unexpected transitions are logged but not rejected"): the
// caller is expected to log at the call site, since the FSM itself has no
// logger dependency.
func ApplyEvent(currentState State, event Event) FSMResult {
	tr, ok := fsmTable[stateEvent{state: currentState, event: event}]
	if !ok {
		return FSMResult{OldState: currentState, NewState: currentState, Changed: false}
	}
	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
