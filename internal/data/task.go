package data

import (
	"encoding/json"
	"errors"
	"io"
	"maps"
	"time"

	"github.com/tinoosan/fetchq/internal/media"
)

// UnknownSize marks a descriptor whose byte size was not reported by the
// extraction step.
const UnknownSize int64 = -1

// ResourceDescriptor is one resolved item to fetch. It is produced by the
// extraction step and never modified after it has been enqueued.
type ResourceDescriptor struct {
	ID           string            `json:"id"`
	Source       string            `json:"source"`
	Target       string            `json:"target"`
	ExpectedSize int64             `json:"expectedSize"`
	Kind         media.Kind        `json:"kind"`
	Site         string            `json:"site,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// SizeKnown reports whether the descriptor carries an expected byte size.
func (d ResourceDescriptor) SizeKnown() bool { return d.ExpectedSize >= 0 }

// Task is the runtime state of a descriptor. Tasks are owned by the
// scheduler; everything handed out to callers is a clone.
type Task struct {
	ResourceDescriptor

	Status     Status    `json:"status"`
	BytesDone  int64     `json:"bytesDone"`
	RetryCount int       `json:"retryCount"`
	LastError  string    `json:"lastError,omitempty"`
	Lease      string    `json:"-"`
	Slot       int       `json:"slot,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Tasks []*Task

var (
	ErrNotFound            = errors.New("task not found")
	ErrUnknownTask         = ErrNotFound
	ErrDuplicateTarget     = errors.New("duplicate target path")
	ErrQueueClosed         = errors.New("queue closed")
	ErrBadStatus           = errors.New("invalid status")
	ErrInvalidSource       = errors.New("source must be an http(s) URL")
	ErrTargetPath          = errors.New("target is required")
	ErrUnsafePath          = errors.New("target escapes download root")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
)

// NewTask wraps a descriptor into a Pending task.
func NewTask(d ResourceDescriptor, now time.Time) *Task {
	return &Task{
		ResourceDescriptor: d,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Headers != nil {
		cp.Headers = maps.Clone(t.Headers)
	}
	return &cp
}

func (ts Tasks) Clone() Tasks {
	out := make(Tasks, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}

func (ts *Tasks) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(ts) }

func (t *Task) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(t) }

func (d *ResourceDescriptor) FromJSON(r io.Reader) error { return json.NewDecoder(r).Decode(d) }
