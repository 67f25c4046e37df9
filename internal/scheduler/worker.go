package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tinoosan/fetchq/internal/downloader"
)

// job is one lease handed to a worker.
type job struct {
	ctx   context.Context
	lease string
	req   downloader.Request
}

// worker runs jobs one at a time. It never touches queue state: everything
// it learns goes back to the scheduler as events.
type worker struct {
	slot       int
	jobs       chan job
	fetcher    downloader.Fetcher
	reporter   downloader.Reporter
	maxRetries int
	backoff    Backoff
	log        *slog.Logger
}

func (w *worker) run() {
	for j := range w.jobs {
		w.execute(j)
	}
}

func (w *worker) emit(j job, typ downloader.EventType, mut func(*downloader.Event)) {
	e := downloader.Event{TaskID: j.req.TaskID, Lease: j.lease, Slot: w.slot, Type: typ}
	if mut != nil {
		mut(&e)
	}
	w.reporter.Report(e)
}

// execute retries retryable failures under the same lease, so the task stays
// Active until it completes, fails for good, or is stopped.
func (w *worker) execute(j job) {
	lg := w.log.With("task_id", j.req.TaskID, "lease", j.lease, "slot", w.slot)
	w.emit(j, downloader.EventStart, nil)

	for attempt := 0; ; attempt++ {
		started := time.Now()
		var base int64 = -1
		onProgress := func(done int64) {
			if base < 0 {
				base = done
			}
			var speed int64
			if secs := time.Since(started).Seconds(); secs > 0 {
				speed = int64(float64(done-base) / secs)
			}
			w.emit(j, downloader.EventProgress, func(e *downloader.Event) {
				e.Attempt = attempt
				e.Progress = &downloader.Progress{Completed: done, Total: j.req.ExpectedSize, Speed: speed}
			})
		}

		n, err := w.fetcher.Fetch(j.ctx, j.req, onProgress)
		if err == nil {
			lg.Info("fetch complete", "bytes", n, "attempt", attempt)
			w.emit(j, downloader.EventComplete, func(e *downloader.Event) {
				e.Attempt = attempt
				e.Progress = &downloader.Progress{Completed: n, Total: j.req.ExpectedSize}
			})
			return
		}
		if j.ctx.Err() != nil {
			w.stopped(j, lg)
			return
		}

		kind, retryable := downloader.Classify(err)
		if !retryable || attempt >= w.maxRetries {
			lg.Warn("fetch failed", "kind", kind, "attempt", attempt, "err", err)
			w.emit(j, downloader.EventFailed, func(e *downloader.Event) {
				e.Attempt = attempt
				e.Err = err
			})
			return
		}

		lg.Info("fetch attempt failed, retrying", "kind", kind, "attempt", attempt+1, "err", err)
		w.emit(j, downloader.EventRetry, func(e *downloader.Event) {
			e.Attempt = attempt + 1
			e.Err = err
		})
		if werr := w.backoff.wait(j.ctx, attempt+1); werr != nil {
			w.stopped(j, lg)
			return
		}
	}
}

// stopped reports why the lease context ended.
func (w *worker) stopped(j job, lg *slog.Logger) {
	cause := context.Cause(j.ctx)
	typ := downloader.EventCancelled
	if errors.Is(cause, downloader.ErrPaused) {
		typ = downloader.EventPaused
	}
	lg.Info("fetch stopped", "cause", cause)
	w.emit(j, typ, func(e *downloader.Event) { e.Err = cause })
}
