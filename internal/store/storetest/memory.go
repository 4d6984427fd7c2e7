// Package storetest provides an in-memory task store for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/podushkina/taskflow/internal/store"
	"github.com/podushkina/taskflow/internal/task"
)

// Memory mirrors the Postgres store semantics: ids are assigned once and never reused,
// lists are ordered by created_at descending.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]task.Task
	now    func() time.Time

	err       error
	listCalls int
}

func NewMemory() *Memory {
	return &Memory{
		nextID: 1,
		tasks:  make(map[int64]task.Task),
		now:    time.Now,
	}
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *Memory) ListTasks(context.Context) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	if m.err != nil {
		return nil, m.err
	}

	out := make([]task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) GetTask(_ context.Context, id int64) (task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return task.Task{}, m.err
	}
	t, ok := m.tasks[id]
	if !ok {
		return task.Task{}, store.ErrNotFound
	}
	return t, nil
}

func (m *Memory) CreateTask(_ context.Context, in task.NewTask) (task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return task.Task{}, m.err
	}
	if in.Title == "" {
		return task.Task{}, store.ErrInvalidEntity
	}

	priority := in.Priority
	if priority == "" {
		priority = task.DefaultPriority
	}

	t := task.Task{
		ID:          m.nextID,
		Title:       in.Title,
		Description: in.Description,
		Status:      task.DefaultStatus,
		Priority:    priority,
		CreatedAt:   m.now().UTC(),
	}
	m.nextID++
	m.tasks[t.ID] = t
	return t, nil
}

func (m *Memory) UpdateTaskStatus(_ context.Context, id int64, status task.Status) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	t.Status = status
	m.tasks[id] = t
	return &t, nil
}

func (m *Memory) DeleteTask(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.tasks[id]; !ok {
		return false, nil
	}
	delete(m.tasks, id)
	return true, nil
}

func (m *Memory) Stats(context.Context) ([]task.StatusCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}

	counts := make(map[task.Status]int64)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	out := make([]task.StatusCount, 0, len(counts))
	for s, n := range counts {
		out = append(out, task.StatusCount{Status: s, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

// SetErr makes every following call fail with err; nil clears it.
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// ListCalls returns how many times ListTasks ran.
func (m *Memory) ListCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls
}
