package repo

import (
	"context"
	"sync"

	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/fp"
)

// InMemoryTaskRepo keeps tasks in enqueue order. State is lost on restart.
type InMemoryTaskRepo struct {
	mu      sync.RWMutex
	tasks   data.Tasks
	byID    map[string]*data.Task
	targets map[string]string // fingerprint -> task id
}

var _ TaskRepo = (*InMemoryTaskRepo)(nil)

func NewInMemoryTaskRepo() *InMemoryTaskRepo {
	return &InMemoryTaskRepo{
		tasks:   make(data.Tasks, 0),
		byID:    make(map[string]*data.Task),
		targets: make(map[string]string),
	}
}

func (r *InMemoryTaskRepo) List(ctx context.Context) (data.Tasks, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks.Clone(), nil
}

func (r *InMemoryTaskRepo) Get(ctx context.Context, id string) (*data.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *InMemoryTaskRepo) Add(ctx context.Context, t *data.Task) (*data.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[t.ID]; ok {
		return nil, data.ErrDuplicateTarget
	}
	key := fp.Fingerprint(t.Target)
	if _, ok := r.targets[key]; ok {
		return nil, data.ErrDuplicateTarget
	}
	stored := t.Clone()
	r.tasks = append(r.tasks, stored)
	r.byID[stored.ID] = stored
	r.targets[key] = stored.ID
	return stored.Clone(), nil
}

func (r *InMemoryTaskRepo) Update(ctx context.Context, id string, mutate func(*data.Task) error) (*data.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.ID = cur.ID
	oldKey, newKey := fp.Fingerprint(cur.Target), fp.Fingerprint(next.Target)
	if oldKey != newKey {
		if _, taken := r.targets[newKey]; taken {
			return nil, data.ErrDuplicateTarget
		}
		delete(r.targets, oldKey)
		r.targets[newKey] = id
	}
	*cur = *next
	return cur.Clone(), nil
}

func (r *InMemoryTaskRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return data.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.targets, fp.Fingerprint(t.Target))
	for i, x := range r.tasks {
		if x.ID == id {
			r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
			break
		}
	}
	return nil
}
