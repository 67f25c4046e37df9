// Package progress keeps running queue totals. Every update is O(1): the
// aggregator remembers the last value it saw per task and applies deltas,
// it never rescans the queue.
package progress

import (
	"maps"
	"sync"

	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/media"
)

// KindTotals counts tasks of one media kind.
type KindTotals struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Totals is a point-in-time view of the aggregate.
type Totals struct {
	// Bytes over tasks whose size is known. Cancelled tasks do not count.
	BytesDone     int64 `json:"bytesDone"`
	BytesExpected int64 `json:"bytesExpected"`
	// Tasks whose size is unknown are tracked by count instead.
	CountDone  int `json:"countDone"`
	CountTotal int `json:"countTotal"`
	// UnsizedBytes is what unknown-size tasks transferred so far.
	UnsizedBytes int64 `json:"unsizedBytes"`

	Tasks    int                       `json:"tasks"`
	ByStatus map[data.Status]int       `json:"byStatus"`
	ByKind   map[media.Kind]KindTotals `json:"byKind"`
}

// Fraction returns overall completion in [0,1], weighting sized tasks by
// bytes and unsized tasks as one unit each.
func (t Totals) Fraction() float64 {
	var num, den float64
	if t.BytesExpected > 0 {
		num += float64(t.BytesDone) / float64(t.BytesExpected)
		den++
	}
	if t.CountTotal > 0 {
		num += float64(t.CountDone) / float64(t.CountTotal)
		den++
	}
	if den == 0 {
		return 0
	}
	return num / den
}

type entry struct {
	kind     media.Kind
	sized    bool
	expected int64
	done     int64
	status   data.Status
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	entries map[string]*entry
	t       Totals
}

func New() *Aggregator {
	return &Aggregator{
		entries: make(map[string]*entry),
		t: Totals{
			ByStatus: make(map[data.Status]int),
			ByKind:   make(map[media.Kind]KindTotals),
		},
	}
}

// Add registers a task, including its current status and byte count.
func (a *Aggregator) Add(task *data.Task) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[task.ID]; ok {
		return
	}
	e := &entry{
		kind:     task.Kind,
		sized:    task.SizeKnown(),
		expected: task.ExpectedSize,
		status:   task.Status,
	}
	a.entries[task.ID] = e
	a.t.Tasks++
	a.t.ByStatus[e.status]++
	kt := a.t.ByKind[e.kind]
	kt.Total++
	a.t.ByKind[e.kind] = kt
	if e.status != data.StatusCancelled {
		if e.sized {
			a.t.BytesExpected += e.expected
		} else {
			a.t.CountTotal++
		}
	}
	a.countStatus(e, e.status, 1)
	a.setDone(e, task.BytesDone)
}

// Progress records the absolute byte count of a task.
func (a *Aggregator) Progress(id string, done int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[id]; ok {
		a.setDone(e, done)
	}
}

// Status records a status change of a task.
func (a *Aggregator) Status(id string, to data.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[id]
	if !ok || e.status == to {
		return
	}
	from := e.status
	a.t.ByStatus[from]--
	a.t.ByStatus[to]++
	a.countStatus(e, from, -1)
	a.countStatus(e, to, 1)

	// Cancelled tasks leave the byte and count totals for good.
	if to == data.StatusCancelled {
		if e.sized {
			a.t.BytesExpected -= e.expected
			a.t.BytesDone -= e.done
		} else {
			a.t.CountTotal--
			a.t.UnsizedBytes -= e.done
		}
		e.done = 0
	}
	e.status = to
	if to == data.StatusCompleted && e.sized {
		a.setDone(e, e.expected)
	}
}

// Remove forgets a task entirely.
func (a *Aggregator) Remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[id]
	if !ok {
		return
	}
	a.setDone(e, 0)
	a.countStatus(e, e.status, -1)
	if e.status != data.StatusCancelled {
		if e.sized {
			a.t.BytesExpected -= e.expected
		} else {
			a.t.CountTotal--
		}
	}
	a.t.ByStatus[e.status]--
	kt := a.t.ByKind[e.kind]
	kt.Total--
	a.t.ByKind[e.kind] = kt
	a.t.Tasks--
	delete(a.entries, id)
}

// Snapshot returns a copy of the current totals.
func (a *Aggregator) Snapshot() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.t
	t.ByStatus = maps.Clone(a.t.ByStatus)
	t.ByKind = maps.Clone(a.t.ByKind)
	return t
}

// countStatus adjusts the per-kind and unsized completion counters for a
// task entering (sign 1) or leaving (sign -1) status s.
func (a *Aggregator) countStatus(e *entry, s data.Status, sign int) {
	kt := a.t.ByKind[e.kind]
	switch s {
	case data.StatusCompleted:
		kt.Completed += sign
		if !e.sized {
			a.t.CountDone += sign
		}
	case data.StatusFailed:
		kt.Failed += sign
	}
	a.t.ByKind[e.kind] = kt
}

func (a *Aggregator) setDone(e *entry, done int64) {
	if e.status == data.StatusCancelled {
		return
	}
	if done < 0 {
		done = 0
	}
	if e.sized {
		if done > e.expected {
			done = e.expected
		}
		a.t.BytesDone += done - e.done
	} else {
		a.t.UnsizedBytes += done - e.done
	}
	e.done = done
}
