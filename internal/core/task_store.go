package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTaskTTL is how long a finished task stays queryable.
const DefaultTaskTTL = time.Hour

// TaskStore holds import task snapshots keyed by task id.
type TaskStore interface {
	// Create registers a new task. The id must be unused.
	Create(ctx context.Context, status TaskStatus) error

	// Get returns a copy of the current snapshot or ErrTaskNotFound.
	Get(ctx context.Context, taskID string) (TaskStatus, error)

	// Update applies fn under the store's lock and returns the resulting
	// snapshot. It returns ErrTaskFinalized without calling fn when the task
	// is already COMPLETED or FAILED. fn may only append to the slice
	// fields, never rewrite existing elements.
	Update(ctx context.Context, taskID string, fn func(*TaskStatus)) (TaskStatus, error)

	// Sweep evicts finished tasks whose TTL elapsed before now and
	// returns how many were removed.
	Sweep(ctx context.Context, now time.Time) int
}

// MemoryTaskStore is a TaskStore backed by a map. Updates mutate the
// stored status in place; snapshots handed out by Update share its
// append-only slices up to their length, so a row update costs the same
// however many rows failed before it.
type MemoryTaskStore struct {
	ttl time.Duration

	mu    sync.RWMutex
	tasks map[string]*TaskStatus
}

var _ TaskStore = (*MemoryTaskStore)(nil)

// NewMemoryTaskStore creates a store that keeps finished tasks for ttl.
func NewMemoryTaskStore(ttl time.Duration) *MemoryTaskStore {
	if ttl <= 0 {
		ttl = DefaultTaskTTL
	}
	return &MemoryTaskStore{
		ttl:   ttl,
		tasks: make(map[string]*TaskStatus),
	}
}

func (s *MemoryTaskStore) Create(_ context.Context, status TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[status.TaskID]; exists {
		return fmt.Errorf("task %s already registered", status.TaskID)
	}
	stored := status.clone()
	s.tasks[status.TaskID] = &stored
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, taskID string) (TaskStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.tasks[taskID]
	if !ok {
		return TaskStatus{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return status.clone(), nil
}

func (s *MemoryTaskStore) Update(_ context.Context, taskID string, fn func(*TaskStatus)) (TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[taskID]
	if !ok {
		return TaskStatus{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if current.State.Terminal() {
		return current.share(), fmt.Errorf("%w: %s is %s", ErrTaskFinalized, taskID, current.State)
	}

	id := current.TaskID
	fn(current)
	current.TaskID = id
	if current.State.Terminal() && current.FinishedAt == nil {
		now := time.Now()
		current.FinishedAt = &now
	}
	return current.share(), nil
}

func (s *MemoryTaskStore) Sweep(_ context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, status := range s.tasks {
		if !status.State.Terminal() || status.FinishedAt == nil {
			continue
		}
		if now.Sub(*status.FinishedAt) > s.ttl {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked tasks.
func (s *MemoryTaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
