// ABOUTME: Gateway lifecycle states
// ABOUTME: Stopped -> Starting -> Running -> Stopping -> Stopped

package gateway

// State is the gateway lifecycle state
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
