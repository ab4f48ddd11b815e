package store

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/nadmax/harvest/internal/metrics"
	"github.com/nadmax/harvest/internal/task"
)

// FallbackStore is the store handed to the rest of the system. It prefers
// the Redis backend and degrades to the in-memory backend in two ways:
//
//   - If Redis is unreachable when the store is built, the process runs on
//     the in-memory backend for its whole lifetime. The downgrade is
//     re-evaluated only on a fresh start, never mid-process, to avoid a
//     retry storm against a dead server.
//   - If an individual Redis operation errors while the connection is
//     established, that one operation is retried on the in-memory backend.
//     Task state is best-effort; losing a single update must not fail
//     request handling.
//
// Reads consult the in-memory backend as well, so a record written there by
// a fallen-back operation stays visible to the same process.
type FallbackStore struct {
	durable *RedisStore
	memory  *MemoryStore
}

func NewFallbackStore(redisAddr string, retention time.Duration, defaults task.Defaults) *FallbackStore {
	s := &FallbackStore{memory: NewMemoryStore(defaults)}

	durable, err := NewRedisStore(redisAddr, retention, defaults)
	if err != nil {
		log.Printf("Redis unavailable at %s, using in-memory task store for this process: %v", redisAddr, err)
		metrics.RecordStoreFallback("connect")
		return s
	}

	s.durable = durable
	return s
}

func (s *FallbackStore) Create(ctx context.Context, source, query string, cfg task.Config) (*task.Task, error) {
	if s.durable != nil {
		t, err := s.durable.Create(ctx, source, query, cfg)
		if err == nil {
			return t, nil
		}
		log.Printf("Redis create failed, falling back to in-memory store: %v", err)
		metrics.RecordStoreFallback("create")
	}
	return s.memory.Create(ctx, source, query, cfg)
}

func (s *FallbackStore) Get(ctx context.Context, id string) (*task.Task, error) {
	if s.durable != nil {
		t, err := s.durable.Get(ctx, id)
		if err == nil {
			return t, nil
		}
		if err != ErrNotFound {
			log.Printf("Redis get failed, falling back to in-memory store: %v", err)
			metrics.RecordStoreFallback("get")
		}
		// Not found in Redis may still mean the record was written to
		// the in-memory store by an earlier fallen-back operation.
	}
	return s.memory.Get(ctx, id)
}

func (s *FallbackStore) Update(ctx context.Context, id string, upd Update) (*task.Task, error) {
	if s.durable != nil {
		t, err := s.durable.Update(ctx, id, upd)
		if err == nil {
			return t, nil
		}
		if err != ErrNotFound {
			log.Printf("Redis update failed, falling back to in-memory store: %v", err)
			metrics.RecordStoreFallback("update")
		}
	}
	return s.memory.Update(ctx, id, upd)
}

func (s *FallbackStore) List(ctx context.Context, limit int) ([]*task.Task, error) {
	var durableTasks []*task.Task
	if s.durable != nil {
		var err error
		durableTasks, err = s.durable.List(ctx, limit)
		if err != nil {
			log.Printf("Redis list failed, falling back to in-memory store: %v", err)
			metrics.RecordStoreFallback("list")
			durableTasks = nil
		}
	}

	memoryTasks, _ := s.memory.List(ctx, limit)
	if len(memoryTasks) == 0 {
		return durableTasks, nil
	}

	seen := make(map[string]bool, len(durableTasks))
	merged := make([]*task.Task, 0, len(durableTasks)+len(memoryTasks))
	for _, t := range durableTasks {
		seen[t.ID] = true
		merged = append(merged, t)
	}
	for _, t := range memoryTasks {
		if !seen[t.ID] {
			merged = append(merged, t)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (s *FallbackStore) Clear(ctx context.Context) error {
	if err := s.memory.Clear(ctx); err != nil {
		return err
	}
	if s.durable != nil {
		return s.durable.Clear(ctx)
	}
	return nil
}

func (s *FallbackStore) DurableAvailable(ctx context.Context) bool {
	return s.durable != nil && s.durable.DurableAvailable(ctx)
}

func (s *FallbackStore) Close() error {
	if s.durable != nil {
		return s.durable.Close()
	}
	return nil
}
