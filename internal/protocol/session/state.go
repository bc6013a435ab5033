package session

// State is one node of the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateConnecting
	StateHandshaking
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateResolving:   "resolving",
	StateConnecting:  "connecting",
	StateHandshaking: "handshaking",
	StateOpen:        "open",
	StateClosing:     "closing",
	StateClosed:      "closed",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions can leave s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// dialing covers the states before the websocket is open.
func (s State) dialing() bool {
	return s == StateResolving || s == StateConnecting || s == StateHandshaking
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	switch from {
	case StateIdle:
		return to == StateResolving || to == StateClosed
	case StateResolving:
		return to == StateConnecting || to == StateClosed
	case StateConnecting:
		return to == StateHandshaking || to == StateClosed
	case StateHandshaking:
		return to == StateOpen || to == StateClosed
	case StateOpen:
		return to == StateOpen || to == StateClosing
	case StateClosing:
		return to == StateClosing || to == StateClosed
	}
	return false
}

// Op names the transport operation an error came from.
type Op string

const (
	OpResolve   Op = "resolve"
	OpConnect   Op = "connect"
	OpHandshake Op = "handshake"
	OpRead      Op = "read"
	OpWrite     Op = "write"
	OpClose     Op = "close"
	// OpBroker marks ERROR frames reported by the broker.
	OpBroker Op = "broker"
)

// ErrorHandler receives transport and broker errors.
type ErrorHandler func(op Op, err error)

func opForState(s State) Op {
	switch s {
	case StateResolving:
		return OpResolve
	case StateConnecting:
		return OpConnect
	case StateHandshaking:
		return OpHandshake
	case StateClosing:
		return OpClose
	default:
		return OpRead
	}
}
