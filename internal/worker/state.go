package worker

import "fmt"

// State is the run state of a Worker.
type State int32

const (
	// Idle reads and discards live data.
	Idle State = iota
	// Fitting fits every live profile and emits results.
	Fitting
	// Aborted is terminal. The loop exits and every channel is closed.
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Fitting:
		return "Fitting"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
