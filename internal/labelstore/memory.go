package labelstore

import (
	"context"
	"sort"
	"sync"

	"github.com/endwaste/db-of-objects/internal/task"
)

// MemStore is an in-memory Store used by tests and local development.
type MemStore struct {
	mu    sync.RWMutex
	items map[task.Shard]map[string]task.Task
}

// NewMemStore creates an empty in-memory task store.
func NewMemStore() *MemStore {
	items := make(map[task.Shard]map[string]task.Task, len(task.Shards))
	for _, s := range task.Shards {
		items[s] = make(map[string]task.Task)
	}
	return &MemStore{items: items}
}

func (s *MemStore) Get(ctx context.Context, shard task.Shard, key string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[shard][key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := t
	return &cp, nil
}

func (s *MemStore) Put(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[t.Shard][t.IdentityKey] = *t
	return nil
}

func (s *MemStore) Delete(ctx context.Context, shard task.Shard, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[shard], key)
	return nil
}

func (s *MemStore) List(ctx context.Context, shard task.Shard) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]task.Task, 0, len(s.items[shard]))
	for _, t := range s.items[shard] {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].IdentityKey < tasks[j].IdentityKey })
	return tasks, nil
}

func (s *MemStore) Lookup(ctx context.Context, keys []string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range keys {
		for _, shard := range task.Shards {
			if t, ok := s.items[shard][key]; ok {
				cp := t
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) Move(ctx context.Context, fromShard task.Shard, fromKey string, to *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[fromShard], fromKey)
	s.items[to.Shard][to.IdentityKey] = *to
	return nil
}
