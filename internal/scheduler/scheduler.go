// Package scheduler owns the queue state. A single actor goroutine mutates
// tasks in response to controller commands and worker events; a fixed pool
// of workers performs the transfers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/downloadcfg"
	"github.com/tinoosan/fetchq/internal/downloader"
	"github.com/tinoosan/fetchq/internal/events"
	"github.com/tinoosan/fetchq/internal/metrics"
	"github.com/tinoosan/fetchq/internal/progress"
	"github.com/tinoosan/fetchq/internal/repo"
)

// Config tunes the worker pool.
type Config struct {
	// Workers is the maximum number of concurrent transfers.
	// Default: 4
	Workers int
	// MaxRetries is how often a retryable failure is retried before the
	// task is marked Failed.
	MaxRetries int
	Backoff    Backoff
	Options    downloadcfg.Options
	// EventBuffer bounds the worker event channel.
	// Default: 256
	EventBuffer int
	// StoreTimeout bounds every write-through to the repository.
	// Default: 5s
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		MaxRetries:   3,
		Backoff:      DefaultBackoff(),
		Options:      downloadcfg.Options{Collision: downloadcfg.CollisionError, Partial: downloadcfg.PartialDelete},
		EventBuffer:  256,
		StoreTimeout: 5 * time.Second,
	}
}

// Snapshot is a consistent copy of the queue state.
type Snapshot struct {
	Tasks   data.Tasks      `json:"tasks"`
	Totals  progress.Totals `json:"totals"`
	Running bool            `json:"running"`
	Closed  bool            `json:"closed"`
}

// run tracks a lease that a worker is still executing. It outlives the
// task's own lease when the task was cancelled: the slot is only free once
// the worker reports back.
type run struct {
	lease  string
	slot   int
	cancel context.CancelCauseFunc
	// after is the status a task moves to when the worker reports that it
	// stopped on a pause: Paused, or Pending when the queue was resumed in
	// the meantime.
	after    data.Status
	stopping bool
	// remove drops the task from the queue once the worker returns.
	remove bool
}

type command struct {
	fn    func() error
	reply chan error
}

// Scheduler is safe for concurrent use. All state below the actor marker is
// owned by the actor goroutine.
type Scheduler struct {
	cfg      Config
	fetcher  downloader.Fetcher
	repo     repo.TaskRepo
	hub      *events.Hub
	agg      *progress.Aggregator
	log      *slog.Logger
	cmds     chan command
	events   chan downloader.Event
	reporter *downloader.ChanReporter
	workers  []*worker
	wg       sync.WaitGroup
	started  atomic.Bool
	quit     chan struct{}
	drained  chan struct{}
	final    atomic.Pointer[Snapshot]

	// actor
	tasks   map[string]*data.Task
	order   []string
	busy    map[string]*run
	free    []int
	running bool
	closed  bool
}

// New creates a scheduler. Call Load to restore persisted tasks, then Run.
func New(cfg Config, f downloader.Fetcher, r repo.TaskRepo, hub *events.Hub, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if r == nil {
		r = repo.NewInMemoryTaskRepo()
	}
	if hub == nil {
		hub = events.NewHub()
	}
	ch := make(chan downloader.Event, cfg.EventBuffer)
	s := &Scheduler{
		cfg:      cfg,
		fetcher:  f,
		repo:     r,
		hub:      hub,
		agg:      progress.New(),
		log:      log,
		cmds:     make(chan command),
		events:   ch,
		reporter: downloader.NewChanReporter(ch),
		quit:     make(chan struct{}),
		drained:  make(chan struct{}),
		tasks:    make(map[string]*data.Task),
		busy:     make(map[string]*run),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.workers = append(s.workers, &worker{
			slot:       i + 1,
			jobs:       make(chan job, 1),
			fetcher:    f,
			reporter:   s.reporter,
			maxRetries: cfg.MaxRetries,
			backoff:    cfg.Backoff,
			log:        log.With("component", "worker", "slot", i+1),
		})
		s.free = append(s.free, i)
	}
	return s
}

// Load restores tasks from the repository. Tasks that were Active when the
// previous process stopped go back to Pending; their partial files are
// resumed or restarted by the fetcher.
func (s *Scheduler) Load(ctx context.Context) error {
	if s.started.Load() {
		return errors.New("scheduler: Load after Run")
	}
	list, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	restored := 0
	for _, t := range list {
		if t.Status == data.StatusActive {
			t.Status = data.StatusPending
			t.UpdatedAt = time.Now()
			if _, err := s.repo.Update(ctx, t.ID, func(x *data.Task) error {
				x.Status = data.StatusPending
				x.UpdatedAt = t.UpdatedAt
				return nil
			}); err != nil {
				return fmt.Errorf("restore task %s: %w", t.ID, err)
			}
			restored++
		}
		if !t.Status.Valid() {
			s.log.Warn("skipping stored task with unknown status", "task_id", t.ID, "status", t.Status)
			continue
		}
		if t.Status == data.StatusCompleted && t.SizeKnown() {
			t.BytesDone = t.ExpectedSize
		}
		t.Lease = ""
		t.Slot = 0
		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)
		s.agg.Add(t)
	}
	s.log.Info("loaded tasks", "count", len(s.order), "requeued", restored)
	s.updateDepth()
	return nil
}

// Run starts the actor and the worker pool.
func (s *Scheduler) Run() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	opID := uuid.NewString()
	s.log = s.log.With("operation_id", opID)
	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			w.run()
		}(w)
	}
	go s.loop()
}

func (s *Scheduler) loop() {
	defer close(s.quit)
	for {
		select {
		case c := <-s.cmds:
			c.reply <- c.fn()
		case e := <-s.events:
			s.handle(e)
		}
		if s.closed && len(s.busy) == 0 {
			s.finish()
			return
		}
	}
}

// finish stops the pool once the queue is closed and every lease returned.
func (s *Scheduler) finish() {
	for _, w := range s.workers {
		close(w.jobs)
	}
	s.wg.Wait()
	s.reporter.Close()
	snap := s.snapshot()
	s.final.Store(&snap)
	metrics.ActiveWorkers.Set(0)
	s.hub.Publish(events.Notice{Type: events.NoticeQueue, Totals: &snap.Totals, Closed: true})
	s.log.Info("scheduler stopped", "tasks", len(snap.Tasks))
	close(s.drained)
}

// do runs fn on the actor goroutine.
func (s *Scheduler) do(ctx context.Context, fn func() error) error {
	if !s.started.Load() {
		return errors.New("scheduler: not running")
	}
	c := command{fn: fn, reply: make(chan error, 1)}
	select {
	case s.cmds <- c:
	case <-s.quit:
		return data.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-s.quit:
		return data.ErrQueueClosed
	}
}

// Enqueue appends tasks in order. The returned slice holds one error per
// task; a nil entry means the task was accepted.
func (s *Scheduler) Enqueue(ctx context.Context, tasks []*data.Task) ([]error, error) {
	errs := make([]error, len(tasks))
	err := s.do(ctx, func() error {
		if s.closed {
			return data.ErrQueueClosed
		}
		for i, t := range tasks {
			errs[i] = s.add(t)
		}
		s.dispatch()
		return nil
	})
	return errs, err
}

func (s *Scheduler) add(t *data.Task) error {
	t = t.Clone()
	t.Status = data.StatusPending
	t.Lease, t.Slot = "", 0
	ctx, cancel := s.storeCtx()
	defer cancel()
	if _, err := s.repo.Add(ctx, t); err != nil {
		return err
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	s.agg.Add(t)
	metrics.TaskEvents.WithLabelValues("enqueued").Inc()
	s.notifyTask(t)
	return nil
}

// Start resumes dispatching and moves Paused tasks back to Pending.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.closed {
			return data.ErrQueueClosed
		}
		s.running = true
		for _, id := range s.order {
			s.resume(s.tasks[id])
		}
		s.notifyQueue()
		s.dispatch()
		return nil
	})
}

// Pause without ids stops dispatching and pauses every Active task. With
// ids it pauses just those tasks.
func (s *Scheduler) Pause(ctx context.Context, ids ...string) error {
	return s.do(ctx, func() error {
		if s.closed {
			return data.ErrQueueClosed
		}
		if len(ids) == 0 {
			s.running = false
			for _, id := range s.order {
				if t := s.tasks[id]; t.Status == data.StatusActive {
					s.stop(t, downloader.ErrPaused)
				}
			}
			s.notifyQueue()
			return nil
		}
		return s.each(ids, func(t *data.Task) error {
			switch t.Status {
			case data.StatusActive:
				s.stop(t, downloader.ErrPaused)
			case data.StatusPending:
				s.transition(t, data.StatusPaused)
			case data.StatusPaused:
			default:
				return fmt.Errorf("%w: cannot pause %s task", data.ErrBadStatus, t.Status)
			}
			return nil
		})
	})
}

// Resume moves the given Paused tasks back to Pending. Without ids it is
// Start.
func (s *Scheduler) Resume(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return s.Start(ctx)
	}
	return s.do(ctx, func() error {
		if s.closed {
			return data.ErrQueueClosed
		}
		err := s.each(ids, func(t *data.Task) error {
			switch t.Status {
			case data.StatusPaused, data.StatusActive, data.StatusPending:
				s.resume(t)
			default:
				return fmt.Errorf("%w: cannot resume %s task", data.ErrBadStatus, t.Status)
			}
			return nil
		})
		s.dispatch()
		return err
	})
}

// Cancel stops the given tasks, or every task when ids is empty. Cancelling
// a Completed or Cancelled task is a no-op. A transfer that finishes its
// final rename before it observes the cancel leaves the complete file at
// the target while the task stays Cancelled.
func (s *Scheduler) Cancel(ctx context.Context, ids ...string) error {
	return s.do(ctx, func() error {
		if s.closed {
			return data.ErrQueueClosed
		}
		if len(ids) == 0 {
			ids = append([]string(nil), s.order...)
		}
		err := s.each(ids, func(t *data.Task) error {
			s.cancelTask(t)
			return nil
		})
		s.dispatch()
		return err
	})
}

// Retry puts a Failed task back in the queue with a fresh retry budget.
func (s *Scheduler) Retry(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		if s.closed {
			return data.ErrQueueClosed
		}
		t, ok := s.tasks[id]
		if !ok {
			return fmt.Errorf("%w: %s", data.ErrUnknownTask, id)
		}
		if t.Status != data.StatusFailed {
			return fmt.Errorf("%w: cannot retry %s task", data.ErrBadStatus, t.Status)
		}
		t.RetryCount = 0
		t.LastError = ""
		t.BytesDone = 0
		s.agg.Progress(t.ID, 0)
		s.transition(t, data.StatusPending)
		s.dispatch()
		return nil
	})
}

// ClearFinished forgets Completed, Failed and Cancelled tasks whose workers
// have returned. It reports how many tasks were removed.
func (s *Scheduler) ClearFinished(ctx context.Context) (int, error) {
	removed := 0
	err := s.do(ctx, func() error {
		if s.closed {
			return data.ErrQueueClosed
		}
		for _, id := range append([]string(nil), s.order...) {
			t := s.tasks[id]
			if _, working := s.busy[id]; working || !t.Status.IsFinished() {
				continue
			}
			if s.forget(id) {
				removed++
			}
		}
		if removed > 0 {
			s.notifyQueue()
		}
		return nil
	})
	return removed, err
}

// Remove cancels a task if it is still running and drops it from the queue.
// It returns the task as it was before removal.
func (s *Scheduler) Remove(ctx context.Context, id string) (*data.Task, error) {
	var out *data.Task
	err := s.do(ctx, func() error {
		if s.closed {
			return data.ErrQueueClosed
		}
		t, ok := s.tasks[id]
		if !ok {
			return fmt.Errorf("%w: %s", data.ErrUnknownTask, id)
		}
		out = t.Clone()
		s.cancelTask(t)
		if r, working := s.busy[id]; working {
			r.remove = true
		} else {
			s.forget(id)
		}
		s.notifyQueue()
		s.dispatch()
		return nil
	})
	return out, err
}

// forget deletes a task from the store and from memory.
func (s *Scheduler) forget(id string) bool {
	ctx, cancel := s.storeCtx()
	defer cancel()
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, data.ErrNotFound) {
		s.log.Error("delete task", "task_id", id, "err", err)
		return false
	}
	delete(s.tasks, id)
	s.agg.Remove(id)
	for i, x := range s.order {
		if x == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.updateDepth()
	return true
}

// Get returns a copy of one task.
func (s *Scheduler) Get(ctx context.Context, id string) (*data.Task, error) {
	var out *data.Task
	err := s.do(ctx, func() error {
		t, ok := s.tasks[id]
		if !ok {
			return fmt.Errorf("%w: %s", data.ErrUnknownTask, id)
		}
		out = t.Clone()
		return nil
	})
	if errors.Is(err, data.ErrQueueClosed) {
		if snap := s.final.Load(); snap != nil {
			for _, t := range snap.Tasks {
				if t.ID == id {
					return t.Clone(), nil
				}
			}
			return nil, fmt.Errorf("%w: %s", data.ErrUnknownTask, id)
		}
	}
	return out, err
}

// Snapshot returns the ordered task list, totals and running flag. After
// shutdown it returns the final state.
func (s *Scheduler) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	if errors.Is(err, data.ErrQueueClosed) {
		if final := s.final.Load(); final != nil {
			cp := *final
			cp.Tasks = final.Tasks.Clone()
			return cp, nil
		}
	}
	return snap, err
}

// Totals reads the aggregate without going through the actor.
func (s *Scheduler) Totals() progress.Totals { return s.agg.Snapshot() }

// Shutdown closes the queue and waits for in-flight transfers. When ctx
// expires first the remaining transfers are aborted; their tasks end up
// Paused and resume on the next start.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	err := s.do(context.Background(), func() error {
		if s.closed {
			return data.ErrQueueClosed
		}
		s.closed = true
		s.running = false
		s.log.Info("shutting down", "in_flight", len(s.busy))
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case <-s.drained:
		return nil
	case <-ctx.Done():
	}
	s.log.Warn("shutdown deadline reached, aborting transfers", "err", ctx.Err())
	_ = s.do(context.Background(), func() error {
		for id, r := range s.busy {
			if !r.stopping {
				r.stopping = true
				r.after = data.StatusPaused
				r.cancel(downloader.ErrShutdown)
				s.log.Info("aborting transfer", "task_id", id)
			}
		}
		return nil
	})
	<-s.drained
	return ctx.Err()
}

// Done is closed once the scheduler has stopped.
func (s *Scheduler) Done() <-chan struct{} { return s.drained }

// Actor helpers below run on the actor goroutine only.

func (s *Scheduler) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
}

func (s *Scheduler) each(ids []string, fn func(*data.Task) error) error {
	var errs []error
	for _, id := range ids {
		t, ok := s.tasks[id]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", data.ErrUnknownTask, id))
			continue
		}
		if err := fn(t); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// transition moves t to status to, persists it and notifies subscribers.
func (s *Scheduler) transition(t *data.Task, to data.Status) bool {
	if t.Status == to {
		return false
	}
	if !data.CanTransition(t.Status, to) {
		s.log.Warn("refusing status transition", "task_id", t.ID, "from", t.Status, "to", to)
		return false
	}
	s.log.Debug("status transition", "task_id", t.ID, "from", t.Status, "to", to)
	s.agg.Status(t.ID, to)
	t.Status = to
	t.UpdatedAt = time.Now()
	s.persist(t)
	s.updateDepth()
	s.notifyTask(t)
	return true
}

func (s *Scheduler) persist(t *data.Task) {
	ctx, cancel := s.storeCtx()
	defer cancel()
	cp := t.Clone()
	if _, err := s.repo.Update(ctx, t.ID, func(x *data.Task) error {
		x.Status = cp.Status
		x.BytesDone = cp.BytesDone
		x.RetryCount = cp.RetryCount
		x.LastError = cp.LastError
		x.UpdatedAt = cp.UpdatedAt
		return nil
	}); err != nil {
		s.log.Error("persist task", "task_id", t.ID, "err", err)
	}
}

// resume makes t dispatchable again.
func (s *Scheduler) resume(t *data.Task) {
	switch t.Status {
	case data.StatusPaused:
		s.transition(t, data.StatusPending)
	case data.StatusActive:
		if r, ok := s.busy[t.ID]; ok && r.stopping && r.after == data.StatusPaused {
			r.after = data.StatusPending
		}
	}
}

// stop asks the worker holding t to stop with cause. The task changes
// status when the worker reports back.
func (s *Scheduler) stop(t *data.Task, cause error) {
	r, ok := s.busy[t.ID]
	if !ok || r.stopping {
		return
	}
	r.stopping = true
	r.after = data.StatusPaused
	r.cancel(cause)
}

func (s *Scheduler) cancelTask(t *data.Task) {
	switch t.Status {
	case data.StatusCompleted, data.StatusCancelled:
		return
	case data.StatusActive:
		if r, ok := s.busy[t.ID]; ok {
			if !r.stopping {
				r.stopping = true
				r.cancel(downloader.ErrCancelled)
			}
			r.after = data.StatusCancelled
		}
	}
	// The lease is gone; anything the worker still reports is stale.
	t.Lease = ""
	t.Slot = 0
	s.transition(t, data.StatusCancelled)
	if _, working := s.busy[t.ID]; !working {
		s.dropPartial(t)
	}
}

// dispatch hands Pending tasks to free workers in enqueue order.
func (s *Scheduler) dispatch() {
	if !s.running || s.closed {
		return
	}
	for _, id := range s.order {
		if len(s.free) == 0 {
			break
		}
		t := s.tasks[id]
		if t.Status != data.StatusPending {
			continue
		}
		if _, working := s.busy[id]; working {
			continue
		}
		slot := s.free[0]
		s.free = s.free[1:]
		lease := uuid.NewString()
		ctx, cancel := context.WithCancelCause(context.Background())
		s.busy[id] = &run{lease: lease, slot: slot, cancel: cancel}
		t.Lease = lease
		t.Slot = s.workers[slot].slot
		s.transition(t, data.StatusActive)
		s.workers[slot].jobs <- job{ctx: ctx, lease: lease, req: downloader.Request{
			TaskID:       t.ID,
			Source:       t.Source,
			Path:         t.Target,
			ExpectedSize: t.ExpectedSize,
			Headers:      t.Headers,
			Options:      s.cfg.Options,
		}}
		s.log.Info("dispatched task", "task_id", id, "lease", lease, "slot", t.Slot)
	}
	metrics.ActiveWorkers.Set(float64(len(s.busy)))
}

func (s *Scheduler) snapshot() Snapshot {
	out := Snapshot{
		Tasks:   make(data.Tasks, 0, len(s.order)),
		Totals:  s.agg.Snapshot(),
		Running: s.running,
		Closed:  s.closed,
	}
	for _, id := range s.order {
		out.Tasks = append(out.Tasks, s.tasks[id].Clone())
	}
	return out
}

func (s *Scheduler) updateDepth() {
	tot := s.agg.Snapshot()
	for _, st := range []data.Status{data.StatusPending, data.StatusActive, data.StatusPaused, data.StatusCompleted, data.StatusFailed, data.StatusCancelled} {
		metrics.QueueDepth.WithLabelValues(string(st)).Set(float64(tot.ByStatus[st]))
	}
}

func (s *Scheduler) notifyTask(t *data.Task) {
	tot := s.agg.Snapshot()
	s.hub.Publish(events.Notice{Type: events.NoticeTask, Task: t.Clone(), Totals: &tot, Running: s.running})
}

func (s *Scheduler) notifyQueue() {
	tot := s.agg.Snapshot()
	s.hub.Publish(events.Notice{Type: events.NoticeQueue, Totals: &tot, Running: s.running, Closed: s.closed})
}
