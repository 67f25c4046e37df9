package scheduler

import (
	"errors"
	"os"
	"strings"

	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/downloader"
	"github.com/tinoosan/fetchq/internal/events"
	"github.com/tinoosan/fetchq/internal/fsguard"
	"github.com/tinoosan/fetchq/internal/metrics"
)

// handle applies one worker event to the queue state.
func (s *Scheduler) handle(e downloader.Event) {
	metrics.TaskEvents.WithLabelValues(strings.ToLower(string(e.Type))).Inc()

	var r *run
	if e.Type.Terminal() {
		r = s.release(e)
	}

	t, ok := s.tasks[e.TaskID]
	if !ok || t.Lease == "" || t.Lease != e.Lease {
		if e.Type != downloader.EventProgress {
			s.log.Info("ignoring stale event", "task_id", e.TaskID, "type", e.Type, "event_lease", e.Lease)
		}
		if ok && e.Type.Terminal() && t.Status == data.StatusCancelled {
			if e.Type == downloader.EventComplete {
				// The rename already happened; the task stays Cancelled.
				s.log.Warn("transfer finished after cancel, file kept at target", "task_id", t.ID, "path", t.Target)
			} else {
				s.dropPartial(t)
			}
		}
		if ok && r != nil && r.remove {
			s.forget(t.ID)
		}
		if e.Type.Terminal() {
			s.dispatch()
		}
		return
	}

	switch e.Type {
	case downloader.EventStart:
		s.log.Info("transfer started", "task_id", t.ID, "lease", e.Lease, "slot", e.Slot)
		return
	case downloader.EventProgress:
		if e.Progress == nil {
			return
		}
		s.setBytes(t, e.Progress.Completed)
		tot := s.agg.Snapshot()
		s.hub.Publish(events.Notice{Type: events.NoticeProgress, Task: t.Clone(), Totals: &tot, Running: s.running})
		return
	case downloader.EventRetry:
		kind, _ := downloader.Classify(e.Err)
		metrics.Retries.WithLabelValues(string(kind)).Inc()
		t.RetryCount++
		t.LastError = errString(e.Err)
		s.persist(t)
		s.notifyTask(t)
		s.log.Info("task retrying", "task_id", t.ID, "retry", t.RetryCount, "err", e.Err)
		return
	}

	// Terminal: the task gives up its lease.
	t.Lease = ""
	t.Slot = 0
	switch e.Type {
	case downloader.EventComplete:
		// A finished sized task holds exactly its expected bytes, matching
		// what the aggregate counts for it.
		switch {
		case t.SizeKnown():
			s.setBytes(t, t.ExpectedSize)
		case e.Progress != nil:
			s.setBytes(t, e.Progress.Completed)
		}
		t.LastError = ""
		s.transition(t, data.StatusCompleted)
	case downloader.EventFailed:
		t.LastError = errString(e.Err)
		s.transition(t, data.StatusFailed)
	case downloader.EventPaused:
		s.transition(t, data.StatusPaused)
		if r != nil && r.after == data.StatusPending && !s.closed {
			s.transition(t, data.StatusPending)
		}
	case downloader.EventCancelled:
		s.transition(t, data.StatusCancelled)
	}
	s.log.Info("reconciled event", "task_id", t.ID, "type", e.Type, "status", t.Status)
	s.dispatch()
}

// release returns the worker slot of a finished lease.
func (s *Scheduler) release(e downloader.Event) *run {
	r, ok := s.busy[e.TaskID]
	if !ok || r.lease != e.Lease {
		return nil
	}
	delete(s.busy, e.TaskID)
	r.cancel(nil)
	s.free = append(s.free, r.slot)
	metrics.ActiveWorkers.Set(float64(len(s.busy)))
	return r
}

func (s *Scheduler) setBytes(t *data.Task, done int64) {
	if t.SizeKnown() && done > t.ExpectedSize {
		done = t.ExpectedSize
	}
	t.BytesDone = done
	s.agg.Progress(t.ID, done)
}

// dropPartial removes the partial file of a cancelled task unless the
// policy keeps it.
func (s *Scheduler) dropPartial(t *data.Task) {
	if s.cfg.Options.KeepPartial() || t.Target == "" {
		return
	}
	if err := os.Remove(fsguard.PartPath(t.Target)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("remove partial file", "task_id", t.ID, "err", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
