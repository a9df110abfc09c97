package model

// Thread priorities.
const (
	PriMin     = 0  // Lowest priority.
	PriDefault = 31 // Default priority.
	PriMax     = 63 // Highest priority.
)

// Nice values used by the feedback-queue scheduler.
const (
	NiceMin     = -20
	NiceDefault = 0
	NiceMax     = 20
)

// ValidPriority reports whether p lies in [PriMin, PriMax].
func ValidPriority(p int) bool {
	return p >= PriMin && p <= PriMax
}

// ValidNice reports whether n lies in [NiceMin, NiceMax].
func ValidNice(n int) bool {
	return n >= NiceMin && n <= NiceMax
}

// ThreadInfo is a point-in-time snapshot of a thread control block.
// RecentCPU is reported multiplied by 100 and rounded.
type ThreadInfo struct {
	ID           int          `json:"id"`
	Name         string       `json:"name"`
	Status       ThreadStatus `json:"status"`
	BasePriority int          `json:"base_priority"`
	Priority     int          `json:"priority"`
	Nice         int          `json:"nice"`
	RecentCPU    int          `json:"recent_cpu"`
	WaitingOn    string       `json:"waiting_on,omitempty"`
	Donors       []int        `json:"donors,omitempty"`
	RunTicks     int64        `json:"run_ticks"`
	CreatedTick  int64        `json:"created_tick"`
	ExitTick     *int64       `json:"exit_tick,omitempty"`
}
