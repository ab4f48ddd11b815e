package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nadmax/harvest/internal/task"
)

const (
	taskKeyPrefix = "harvest:task:"
	indexKey      = "harvest:tasks:index"
)

// RedisStore is the durable backend. Each record lives under its own key
// with the retention TTL; a ZSET scored by creation time supports the
// newest-first listing without scanning all entries.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
	defaults  task.Defaults

	// Guards read-modify-write updates. Only the runner mutates a given
	// id, so a single process-wide mutex is enough to keep per-key
	// updates atomic.
	mu sync.Mutex
}

func NewRedisStore(addr string, retention time.Duration, defaults task.Defaults) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		retention: retention,
		defaults:  defaults,
	}, nil
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, source, query string, cfg task.Config) (*task.Task, error) {
	t := task.New(source, query, cfg.WithDefaults(s.defaults))
	data, err := t.ToJSON()
	if err != nil {
		return nil, err
	}

	if err := s.client.Set(ctx, taskKey(t.ID), data, s.retention).Err(); err != nil {
		return nil, err
	}
	if err := s.client.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(t.CreatedAt.UnixMilli()),
		Member: t.ID,
	}).Err(); err != nil {
		return nil, err
	}

	return t, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*task.Task, error) {
	data, err := s.client.Get(ctx, taskKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task.FromJSON(data)
}

func (s *RedisStore) Update(ctx context.Context, id string, upd Update) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	upd.apply(t)
	data, err := t.ToJSON()
	if err != nil {
		return nil, err
	}

	// KEEPTTL preserves the retention clock set at creation. If the key
	// somehow carries no expiry, re-apply the configured retention.
	if err := s.client.Set(ctx, taskKey(id), data, redis.KeepTTL).Err(); err != nil {
		return nil, err
	}
	if ttl, err := s.client.TTL(ctx, taskKey(id)).Result(); err == nil && ttl < 0 {
		s.client.Expire(ctx, taskKey(id), s.retention)
	}

	return t, nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*task.Task, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err == ErrNotFound {
			// Record expired; drop the stale index entry.
			s.client.ZRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.client.Del(ctx, taskKey(id)).Err(); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, indexKey).Err()
}

func (s *RedisStore) DurableAvailable(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
