package downloader

// Event represents a state change or progress update from a worker.
//
// Type indicates what kind of event occurred. Every event carries the lease
// it was produced under; the scheduler drops events whose lease no longer
// matches the task (for example after a cancel). Progress events carry the
// absolute byte count so a dropped progress event is superseded by the next.
type Event struct {
	TaskID   string
	Lease    string
	Slot     int
	Type     EventType
	Progress *Progress
	Attempt  int
	Err      error
}

// EventType defines the set of events that workers may emit.
type EventType string

const (
	EventStart     EventType = "Start"
	EventProgress  EventType = "Progress"
	EventRetry     EventType = "Retry"
	EventPaused    EventType = "Paused"
	EventCancelled EventType = "Cancelled"
	EventComplete  EventType = "Complete"
	EventFailed    EventType = "Failed"
)

// Terminal reports whether the event releases the worker's lease.
func (t EventType) Terminal() bool {
	switch t {
	case EventPaused, EventCancelled, EventComplete, EventFailed:
		return true
	}
	return false
}

// Progress provides details about an in-progress transfer.
type Progress struct {
	Completed int64
	Total     int64
	// Speed is the current transfer speed in bytes/sec, if available.
	// A value of 0 indicates it was not measured.
	Speed int64
}
