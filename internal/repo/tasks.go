package repo

import (
	"context"

	"github.com/tinoosan/fetchq/internal/data"
)

// TaskRepo persists queue state. Only the scheduler writes to it.
type TaskRepo interface {
	TaskReader
	TaskWriter
}

type TaskReader interface {
	// List returns every task in enqueue order.
	List(ctx context.Context) (data.Tasks, error)
	Get(ctx context.Context, id string) (*data.Task, error)
}

type TaskWriter interface {
	// Add stores a new task. A task whose target matches an existing task's
	// target yields data.ErrDuplicateTarget.
	Add(ctx context.Context, t *data.Task) (*data.Task, error)
	// Update applies mutate to a copy of the stored task and writes it back.
	// If mutate returns an error nothing is written.
	Update(ctx context.Context, id string, mutate func(*data.Task) error) (*data.Task, error)
	Delete(ctx context.Context, id string) error
}

// Pinger is implemented by stores backed by an external database.
type Pinger interface {
	Ping(ctx context.Context) error
}
