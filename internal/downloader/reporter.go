package downloader

import (
	"sync"
	"sync/atomic"
)

// Reporter publishes worker events.
type Reporter interface {
	Report(Event)
}

// ChanReporter writes events to a bounded channel. Progress events never
// block: when the channel is full they are dropped and the next one
// supersedes them. Lease-releasing events block until they are accepted or
// the reporter is closed.
type ChanReporter struct {
	ch      chan<- Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func NewChanReporter(ch chan<- Event) *ChanReporter {
	return &ChanReporter{ch: ch, done: make(chan struct{})}
}

func (r *ChanReporter) Report(e Event) {
	if r == nil {
		return
	}
	if e.Type == EventProgress {
		select {
		case r.ch <- e:
		default:
			r.dropped.Add(1)
		}
		return
	}
	select {
	case r.ch <- e:
	case <-r.done:
	}
}

// Close unblocks pending reports; later reports of non-progress events are
// discarded.
func (r *ChanReporter) Close() {
	r.once.Do(func() { close(r.done) })
}

// Dropped returns how many progress events were discarded.
func (r *ChanReporter) Dropped() int64 { return r.dropped.Load() }
