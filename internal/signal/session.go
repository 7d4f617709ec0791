package signal

import "time"

// State of a call session. Terminal states (Ended, Declined, TimedOut) are
// never stored: reaching one discards the session.
type State int

const (
	StateRinging State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// pairKey identifies a session by the ordered (caller, callee) pair. Ordering
// by caller means cross-initiation (A calls B while B calls A) yields two
// independent sessions that never collide.
type pairKey struct {
	callerID string
	calleeID string
}

type session struct {
	state State

	// ringTimer fires the timeout transition; gen disarms a timer that raced
	// with accept/decline/hangup.
	ringTimer *time.Timer
	gen       uint64
}
