package session

import "ksession/internal/protocol"

// ServerStatus is the externally visible session status.  It is always
// derived from the kernel's native status, never stored.
type ServerStatus int

const (
	NotStarted ServerStatus = iota
	Starting
	Idle
	Busy
	Restarting
	Dead
)

var statusNames = [...]string{
	NotStarted: "not started",
	Starting:   "starting",
	Idle:       "idle",
	Busy:       "busy",
	Restarting: "restarting",
	Dead:       "dead",
}

func (s ServerStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// MapStatus converts a native kernel status.  Anything not listed maps
// to NotStarted.
func MapStatus(native protocol.Status) ServerStatus {
	switch native {
	case protocol.StatusBusy:
		return Busy
	case protocol.StatusDead:
		return Dead
	case protocol.StatusIdle, protocol.StatusConnected:
		return Idle
	case protocol.StatusRestarting, protocol.StatusAutoRestarting, protocol.StatusReconnecting:
		return Restarting
	case protocol.StatusStarting:
		return Starting
	default:
		return NotStarted
	}
}
