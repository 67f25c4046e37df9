package data

import "strings"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusActive    Status = "Active"
	StatusPaused    Status = "Paused"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusActive:    true,
		StatusPaused:    true,
		StatusCancelled: true,
	},
	StatusActive: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
		StatusPaused:    true,
	},
	StatusPaused: {
		StatusPending:   true,
		StatusCancelled: true,
	},
	// Failed -> Pending is only reachable through an explicit retry.
	StatusFailed: {
		StatusPending:   true,
		StatusCancelled: true,
	},
}

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusPending, StatusActive, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// IsActive reports whether a worker currently holds a lease on the task.
func (s Status) IsActive() bool { return s == StatusActive }

// IsFinished reports whether the task reached a terminal state.
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}
