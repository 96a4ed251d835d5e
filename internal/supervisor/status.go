package supervisor

import "time"

// State is a service lifecycle state.
type State string

// Service lifecycle states. Transitions are
// Stopped → Starting → {Running | Crashed} and Running → Stopping → Stopped.
// Crashed and Stopped are terminal for a spawn attempt.
const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
)

// Status is a point-in-time snapshot of one supervised service.
type Status struct {
	Name      string
	State     State
	Running   bool
	Port      int
	PID       int
	StartedAt time.Time
	Err       string
}
