package store

import (
	"context"
	"sort"
	"sync"

	"github.com/nadmax/harvest/internal/task"
)

// MemoryStore is the process-local fallback backend. Records persist for
// the process lifetime; there is no retention expiry.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]*task.Task
	order    map[string]uint64
	seq      uint64
	defaults task.Defaults
}

func NewMemoryStore(defaults task.Defaults) *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]*task.Task),
		order:    make(map[string]uint64),
		defaults: defaults,
	}
}

func (s *MemoryStore) Create(_ context.Context, source, query string, cfg task.Config) (*task.Task, error) {
	t := task.New(source, query, cfg.WithDefaults(s.defaults))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.tasks[t.ID] = t.Clone()
	s.order[t.ID] = s.seq

	return t, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, upd Update) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	upd.apply(t)

	return t.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t.Clone())
	}

	// Newest first; insertion order breaks creation-time ties so the
	// listing stays stable within one process lifetime.
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return s.order[tasks[i].ID] > s.order[tasks[j].ID]
	})

	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*task.Task)
	s.order = make(map[string]uint64)
	return nil
}

func (s *MemoryStore) DurableAvailable(_ context.Context) bool {
	return false
}

func (s *MemoryStore) Close() error {
	return nil
}
