package domain

// Status is the status carried by a MissionEvent.
type Status string

const (
	// StatusRunning is recorded when the mission loop starts.
	StatusRunning Status = "RUNNING"
	// StatusStop is an external request to interrupt the mission. The loop
	// polls for it at the top of each iteration.
	StatusStop Status = "STOP"
	// StatusStopped is the terminal status after honoring a STOP request.
	StatusStopped Status = "STOPPED"
	// StatusFinished is the terminal status for a completed mission, including
	// one that ran out of steps.
	StatusFinished Status = "FINISHED"
	// StatusFailed is the terminal status after an unrecoverable error.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether no further events are expected after s.
func (s Status) Terminal() bool {
	switch s {
	case StatusStopped, StatusFinished, StatusFailed:
		return true
	}
	return false
}
