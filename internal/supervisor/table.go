package supervisor

// action is what the supervisor does when a combined state is entered.
type action int

const (
	actionNone action = iota
	actionShutdownBackend
	actionGraceKillUser
	actionShutdownData
	actionKillUser
	actionTerminate
)

func (a action) String() string {
	switch a {
	case actionNone:
		return "none"
	case actionShutdownBackend:
		return "shutdown backend"
	case actionGraceKillUser:
		return "kill user after grace period"
	case actionShutdownData:
		return "shutdown data"
	case actionKillUser:
		return "kill user"
	case actionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// row is one entry of the transition table.  The pattern may use
// StateTerminated as a wildcard matching both terminated variants.
type row struct {
	pattern CombinedState
	action  action

	// failure marks the run as failed when this row is entered.  The
	// flag accumulates: a later success-terminal row does not clear it.
	failure bool
}

// transitionTable is exhaustive over all combined states the system is
// designed to reach.  Sampling a state not covered here is an invariant
// violation.
//
// While the backend keeps running after the user code has stopped, the
// backend is shut down right away.  When the backend stops first, the user
// code gets a grace period to notice and stop by itself before it is
// killed.  The data node is always the last one to be shut down.  A data
// node terminating while anything else still runs is always an error.
var transitionTable = []row{
	// steady state
	{pattern: CombinedState{StateRunning, StateRunning, StateRunning}, action: actionNone},

	// user code stopped first (for whatever reason)
	{pattern: CombinedState{StateRunning, StateRunning, StateTerminated}, action: actionShutdownBackend},

	// backend stopped before the user code
	{pattern: CombinedState{StateRunning, StateTerminatedSuccess, StateRunning}, action: actionGraceKillUser},
	{pattern: CombinedState{StateRunning, StateTerminatedError, StateRunning}, action: actionGraceKillUser, failure: true},

	// backend and user code are done, stop the data node
	{pattern: CombinedState{StateRunning, StateTerminatedSuccess, StateTerminated}, action: actionShutdownData},
	{pattern: CombinedState{StateRunning, StateTerminatedError, StateTerminated}, action: actionShutdownData, failure: true},

	// data node died while others still run
	{pattern: CombinedState{StateTerminated, StateRunning, StateRunning}, action: actionKillUser, failure: true},
	{pattern: CombinedState{StateTerminated, StateRunning, StateTerminated}, action: actionShutdownBackend, failure: true},
	{pattern: CombinedState{StateTerminated, StateTerminated, StateRunning}, action: actionKillUser, failure: true},

	// terminal states
	{pattern: CombinedState{StateTerminatedSuccess, StateTerminatedSuccess, StateTerminated}, action: actionTerminate},
	{pattern: CombinedState{StateTerminatedError, StateTerminatedSuccess, StateTerminated}, action: actionTerminate, failure: true},
	{pattern: CombinedState{StateTerminated, StateTerminatedError, StateTerminated}, action: actionTerminate, failure: true},
}

// lookup finds the table row matching the sampled combined state.
func lookup(state CombinedState) (row, bool) {
	for _, r := range transitionTable {
		if state.matches(r.pattern) {
			return r, true
		}
	}
	return row{}, false
}
