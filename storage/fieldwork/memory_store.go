package fieldwork

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fieldproof-backend/core/fieldwork"
)

// MemoryStore holds task aggregates in memory. The single mutex makes
// every Update a serialised read-modify-write over one aggregate, and the
// callback works on a copy so a failed command never leaks partial state.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*fieldwork.Aggregate
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*fieldwork.Aggregate)}
}

func (s *MemoryStore) Create(ctx context.Context, agg *fieldwork.Aggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, err := agg.Clone()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[agg.Task.TaskID]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, agg.Task.TaskID)
	}
	stored.Version = 1
	agg.Version = 1
	s.tasks[agg.Task.TaskID] = stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, taskID string) (*fieldwork.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", fieldwork.ErrNotFound, taskID)
	}
	return agg.Clone()
}

// Update applies fn to a copy of the aggregate and commits it with a bumped
// version only when fn succeeds. The returned aggregate keeps the events
// and ledger entries fn staged.
func (s *MemoryStore) Update(ctx context.Context, taskID string, fn func(*fieldwork.Aggregate) error) (*fieldwork.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", fieldwork.ErrNotFound, taskID)
	}
	work, err := cur.Clone()
	if err != nil {
		return nil, err
	}
	if err := fn(work); err != nil {
		return nil, err
	}
	work.Version = cur.Version + 1
	stored, err := work.Clone()
	if err != nil {
		return nil, err
	}
	s.tasks[taskID] = stored
	return work, nil
}

func (s *MemoryStore) List(ctx context.Context, filter fieldwork.TaskFilter) ([]*fieldwork.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]*fieldwork.Aggregate, 0, len(s.tasks))
	for _, agg := range s.tasks {
		if filter.Status != "" && agg.Task.Status != filter.Status {
			continue
		}
		if filter.RequesterID != "" && agg.Task.RequesterID != filter.RequesterID {
			continue
		}
		if filter.WorkerID != "" && !agg.HasParticipant(filter.WorkerID) {
			continue
		}
		matched = append(matched, agg)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Task.CreatedAt.Equal(matched[j].Task.CreatedAt) {
			return matched[i].Task.TaskID < matched[j].Task.TaskID
		}
		return matched[i].Task.CreatedAt.After(matched[j].Task.CreatedAt)
	})
	matched = page(matched, filter.Offset, filter.Limit)

	out := make([]*fieldwork.Aggregate, 0, len(matched))
	for _, agg := range matched {
		c, err := agg.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListActive returns ids of aggregates the sweeper still has work for.
func (s *MemoryStore) ListActive(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, agg := range s.tasks {
		if Active(agg) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Close() {}

// Active reports whether an aggregate can still change without a user command.
func Active(agg *fieldwork.Aggregate) bool {
	if agg.Task.Status == fieldwork.TaskDraft {
		return agg.NeedsProvider()
	}
	return !agg.Task.Status.Terminal() || agg.NeedsProvider()
}

const defaultPageSize = 50

func page(items []*fieldwork.Aggregate, offset, limit int) []*fieldwork.Aggregate {
	if limit <= 0 || limit > 500 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
