package model

// ThreadStatus represents the run state of a kernel thread.
type ThreadStatus string

const (
	ThreadRunning ThreadStatus = "RUNNING"
	ThreadReady   ThreadStatus = "READY"
	ThreadBlocked ThreadStatus = "BLOCKED"
	ThreadDying   ThreadStatus = "DYING"
)

// String returns the string representation of the thread status.
func (s ThreadStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the thread is about to be destroyed.
func (s ThreadStatus) IsTerminal() bool {
	return s == ThreadDying
}

// ValidThreadTransitions defines the allowed thread state transitions.
// Only a READY thread may start running; only the RUNNING thread may block or die.
var ValidThreadTransitions = map[ThreadStatus][]ThreadStatus{
	ThreadRunning: {ThreadReady, ThreadBlocked, ThreadDying},
	ThreadReady:   {ThreadRunning},
	ThreadBlocked: {ThreadReady},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s ThreadStatus) CanTransitionTo(next ThreadStatus) bool {
	for _, allowed := range ValidThreadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SchedulingMode selects which priority policy the kernel runs with.
// The two policies are alternatives chosen at boot, never combined.
type SchedulingMode string

const (
	ModePriority SchedulingMode = "priority"
	ModeMLFQS    SchedulingMode = "mlfqs"
)

// ParseSchedulingMode converts a string to a SchedulingMode.
// Returns ModePriority for empty input and false for unknown values.
func ParseSchedulingMode(s string) (SchedulingMode, bool) {
	switch SchedulingMode(s) {
	case "", ModePriority:
		return ModePriority, true
	case ModeMLFQS:
		return ModeMLFQS, true
	}
	return "", false
}
