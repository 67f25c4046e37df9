package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/events"
	"github.com/tinoosan/fetchq/internal/fsguard"
	"github.com/tinoosan/fetchq/internal/media"
	"github.com/tinoosan/fetchq/internal/scheduler"
)

// Queue is the control surface used by the API and the CLI.
type Queue interface {
	Enqueue(ctx context.Context, ds []data.ResourceDescriptor) ([]string, error)
	Start(ctx context.Context) error
	Pause(ctx context.Context, ids ...string) error
	Resume(ctx context.Context, ids ...string) error
	Cancel(ctx context.Context, ids ...string) error
	Retry(ctx context.Context, id string) error
	ClearFinished(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string, deleteFiles bool) error
	Get(ctx context.Context, id string) (*data.Task, error)
	Status(ctx context.Context) (scheduler.Snapshot, error)
	Subscribe(buf int) (<-chan events.Notice, func())
	Shutdown(ctx context.Context) error
}

// EnqueueError reports why one descriptor of a batch was rejected.
type EnqueueError struct {
	Index  int
	Target string
	Err    error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.Target, e.Err)
}

func (e *EnqueueError) Unwrap() error { return e.Err }

// Options configures the Manager.
type Options struct {
	// Root is the download root every target is resolved under.
	Root string
	// Allow restricts the kinds of files that may be enqueued.
	// Default: every known kind
	Allow *media.AllowList
}

// Manager validates requests and forwards them to the scheduler.
type Manager struct {
	root  string
	allow media.AllowList
	sched *scheduler.Scheduler
	hub   *events.Hub
	log   *slog.Logger
	now   func() time.Time
}

var _ Queue = (*Manager)(nil)

func NewManager(opts Options, sched *scheduler.Scheduler, hub *events.Hub, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	allow := media.NewAllowList()
	if opts.Allow != nil {
		allow = *opts.Allow
	}
	return &Manager{
		root:  opts.Root,
		allow: allow,
		sched: sched,
		hub:   hub,
		log:   log,
		now:   time.Now,
	}
}

// Enqueue validates and appends descriptors in order. Valid descriptors are
// enqueued even when others fail; the returned ids hold "" for rejected
// items and the error joins one *EnqueueError per rejection.
func (m *Manager) Enqueue(ctx context.Context, ds []data.ResourceDescriptor) ([]string, error) {
	ids := make([]string, len(ds))
	var (
		errs    []error
		tasks   []*data.Task
		indexes []int
	)
	now := m.now()
	for i, d := range ds {
		t, err := m.prepare(d, now)
		if err != nil {
			errs = append(errs, &EnqueueError{Index: i, Target: d.Target, Err: err})
			continue
		}
		tasks = append(tasks, t)
		indexes = append(indexes, i)
	}
	if len(tasks) > 0 {
		results, err := m.sched.Enqueue(ctx, tasks)
		if err != nil {
			return ids, err
		}
		for j, rerr := range results {
			i := indexes[j]
			if rerr != nil {
				errs = append(errs, &EnqueueError{Index: i, Target: ds[i].Target, Err: rerr})
				continue
			}
			ids[i] = tasks[j].ID
		}
	}
	if len(errs) > 0 {
		m.log.Info("enqueue rejected items", "rejected", len(errs), "accepted", len(ds)-len(errs))
	}
	return ids, errors.Join(errs...)
}

func (m *Manager) prepare(d data.ResourceDescriptor, now time.Time) (*data.Task, error) {
	u, err := url.Parse(strings.TrimSpace(d.Source))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, data.ErrInvalidSource
	}
	target, err := fsguard.Resolve(m.root, d.Target)
	if err != nil {
		return nil, err
	}
	if !m.allow.Allowed(target) {
		return nil, fmt.Errorf("%w: %s", data.ErrExtensionNotAllowed, media.KindOf(target))
	}
	if d.Kind == "" {
		d.Kind = media.KindOf(target)
	}
	if d.ExpectedSize < 0 {
		d.ExpectedSize = data.UnknownSize
	}
	d.Source = u.String()
	d.Target = target
	d.ID = uuid.NewString()
	return data.NewTask(d, now), nil
}

func (m *Manager) Start(ctx context.Context) error { return m.sched.Start(ctx) }

func (m *Manager) Pause(ctx context.Context, ids ...string) error {
	return m.sched.Pause(ctx, ids...)
}

func (m *Manager) Resume(ctx context.Context, ids ...string) error {
	return m.sched.Resume(ctx, ids...)
}

func (m *Manager) Cancel(ctx context.Context, ids ...string) error {
	return m.sched.Cancel(ctx, ids...)
}

func (m *Manager) Retry(ctx context.Context, id string) error { return m.sched.Retry(ctx, id) }

func (m *Manager) ClearFinished(ctx context.Context) (int, error) {
	return m.sched.ClearFinished(ctx)
}

// Delete removes a task from the queue, cancelling it first if needed. With
// deleteFiles the downloaded file is removed as well; it must still resolve
// inside the download root.
func (m *Manager) Delete(ctx context.Context, id string, deleteFiles bool) error {
	t, err := m.sched.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !deleteFiles {
		return nil
	}
	path, err := fsguard.Resolve(m.root, t.Target)
	if err != nil {
		m.log.Warn("refusing to delete file outside root", "task_id", id, "target", t.Target, "err", err)
		return err
	}
	for _, p := range []string{path, fsguard.PartPath(path)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	m.log.Info("deleted task files", "task_id", id, "path", path)
	return nil
}

func (m *Manager) Get(ctx context.Context, id string) (*data.Task, error) {
	return m.sched.Get(ctx, id)
}

func (m *Manager) Status(ctx context.Context) (scheduler.Snapshot, error) {
	return m.sched.Snapshot(ctx)
}

func (m *Manager) Subscribe(buf int) (<-chan events.Notice, func()) {
	return m.hub.Subscribe(buf)
}

// Shutdown closes the queue and then the subscription hub.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.sched.Shutdown(ctx)
	if !errors.Is(err, data.ErrQueueClosed) {
		m.hub.Close()
	}
	return err
}
