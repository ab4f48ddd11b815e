// Package store provides keyed persistence for task records. The durable
// backend is Redis; a process-local in-memory store serves as fallback when
// Redis is unreachable.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nadmax/harvest/internal/task"
)

// ErrNotFound is returned when a task id was never created or has expired.
var ErrNotFound = errors.New("task not found")

type Store interface {
	Create(ctx context.Context, source, query string, cfg task.Config) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	Update(ctx context.Context, id string, upd Update) (*task.Task, error)
	List(ctx context.Context, limit int) ([]*task.Task, error)
	Clear(ctx context.Context) error
	DurableAvailable(ctx context.Context) bool
	Close() error
}

// Update holds the fields the runner may merge into an existing record.
// Nil pointers leave the current value untouched.
type Update struct {
	Status           *task.Status
	Result           *string
	ResultJSON       []byte
	Error            *string
	CompletedAt      *time.Time
	ProcessingTimeMs *int64
}

func (u Update) apply(t *task.Task) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Result != nil {
		t.Result = *u.Result
	}
	if u.ResultJSON != nil {
		t.ResultJSON = u.ResultJSON
	}
	if u.Error != nil {
		t.Error = *u.Error
	}
	if u.CompletedAt != nil {
		t.CompletedAt = u.CompletedAt
	}
	if u.ProcessingTimeMs != nil {
		t.ProcessingTimeMs = *u.ProcessingTimeMs
	}
}
