package model

// EventKind identifies a scheduler event recorded in a trace.
type EventKind string

const (
	EventSpawn    EventKind = "spawn"
	EventDispatch EventKind = "dispatch"
	EventYield    EventKind = "yield"
	EventBlock    EventKind = "block"
	EventUnblock  EventKind = "unblock"
	EventSleep    EventKind = "sleep"
	EventWake     EventKind = "wake"
	EventDonate   EventKind = "donate"
	EventPriority EventKind = "priority"
	EventNice     EventKind = "nice"
	EventLoadAvg  EventKind = "load_avg"
	EventExit     EventKind = "exit"
	EventNote     EventKind = "note"
)

// Event is one entry of a scheduling trace.
type Event struct {
	Seq        int64     `json:"seq"`
	Tick       int64     `json:"tick"`
	Kind       EventKind `json:"kind"`
	ThreadID   int       `json:"thread_id"`
	ThreadName string    `json:"thread_name"`
	Priority   int       `json:"priority"`
	Detail     string    `json:"detail,omitempty"`
}
