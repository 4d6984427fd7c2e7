package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/taskflow/internal/cache"
	"github.com/podushkina/taskflow/internal/logger"
	"github.com/podushkina/taskflow/internal/queue"
	"github.com/podushkina/taskflow/internal/store/storetest"
	"github.com/podushkina/taskflow/internal/task"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []task.DispatchMessage
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg task.DispatchMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

type fixture struct {
	svc   *Tasks
	store *storetest.Memory
	pub   *fakePublisher
	mr    *miniredis.Miniredis
}

func setupTest(t *testing.T) *fixture {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := cache.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { client.Close() })

	f := &fixture{
		store: storetest.NewMemory(),
		pub:   &fakePublisher{},
		mr:    mr,
	}
	f.svc = NewTasks(logger.Discard(), f.store, cache.NewTaskList(client, "", 0), f.pub)
	return f
}

func TestListTasks_StoreThenCache(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	_, err := f.svc.CreateTask(ctx, task.NewTask{Title: "Write spec", Priority: "high"})
	require.NoError(t, err)

	tasks, source, err := f.svc.ListTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, source)
	require.Len(t, tasks, 1)
	assert.True(t, f.mr.Exists(cache.DefaultKey))

	tasks, source, err = f.svc.ListTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, source)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Write spec", tasks[0].Title)

	assert.Equal(t, 1, f.store.ListCalls())
}

func TestListTasks_EmptyListIsCached(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	tasks, source, err := f.svc.ListTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, source)
	assert.NotNil(t, tasks)

	_, source, err = f.svc.ListTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, source)
}

func TestListTasks_CacheUnavailable(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	_, err := f.svc.CreateTask(ctx, task.NewTask{Title: "a"})
	require.NoError(t, err)
	f.mr.Close()

	for i := 0; i < 2; i++ {
		tasks, source, err := f.svc.ListTasks(ctx)
		require.NoError(t, err)
		assert.Equal(t, SourceStore, source)
		assert.Len(t, tasks, 1)
	}
}

func TestListTasks_CorruptEntryIsReplaced(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	require.NoError(t, f.mr.Set(cache.DefaultKey, "garbage"))

	_, source, err := f.svc.ListTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, source)

	_, source, err = f.svc.ListTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, source)
}

func TestListTasks_StoreError(t *testing.T) {
	f := setupTest(t)
	f.store.SetErr(errors.New("db down"))

	_, _, err := f.svc.ListTasks(context.Background())
	assert.Error(t, err)
	assert.False(t, f.mr.Exists(cache.DefaultKey))
}

func TestMutations_InvalidateCache(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	created, err := f.svc.CreateTask(ctx, task.NewTask{Title: "a"})
	require.NoError(t, err)

	mutations := []struct {
		name string
		run  func() error
	}{
		{"create", func() error {
			_, err := f.svc.CreateTask(ctx, task.NewTask{Title: "b"})
			return err
		}},
		{"update", func() error {
			_, err := f.svc.UpdateTaskStatus(ctx, created.ID, task.StatusCompleted)
			return err
		}},
		{"delete", func() error { return f.svc.DeleteTask(ctx, created.ID) }},
	}

	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			_, _, err := f.svc.ListTasks(ctx)
			require.NoError(t, err)
			require.True(t, f.mr.Exists(cache.DefaultKey))

			require.NoError(t, m.run())
			assert.False(t, f.mr.Exists(cache.DefaultKey))

			_, source, err := f.svc.ListTasks(ctx)
			require.NoError(t, err)
			assert.Equal(t, SourceStore, source)
		})
	}
}

func TestReadAfterWriteSeesWrite(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	_, _, err := f.svc.ListTasks(ctx)
	require.NoError(t, err)

	created, err := f.svc.CreateTask(ctx, task.NewTask{Title: "fresh"})
	require.NoError(t, err)

	tasks, _, err := f.svc.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, created.ID, tasks[0].ID)
}

func TestCreateTask_PublishesOnce(t *testing.T) {
	f := setupTest(t)

	created, err := f.svc.CreateTask(context.Background(), task.NewTask{Title: "Write spec", Priority: "high"})
	require.NoError(t, err)

	assert.Equal(t, task.StatusPending, created.Status)
	assert.Equal(t, "high", created.Priority)
	assert.Equal(t, []task.DispatchMessage{{TaskID: created.ID, Action: task.ActionCreated}}, f.pub.msgs)
}

func TestCreateTask_PublishFailureIsNotFatal(t *testing.T) {
	f := setupTest(t)
	f.pub.err = queue.ErrPublishFailed

	created, err := f.svc.CreateTask(context.Background(), task.NewTask{Title: "a"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Len(t, f.pub.msgs, 1)
}

func TestCreateTask_StoreFailureSkipsSideEffects(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	_, _, err := f.svc.ListTasks(ctx)
	require.NoError(t, err)
	f.store.SetErr(errors.New("db down"))

	_, err = f.svc.CreateTask(ctx, task.NewTask{Title: "a"})
	assert.Error(t, err)
	assert.Empty(t, f.pub.msgs)
	assert.True(t, f.mr.Exists(cache.DefaultKey))
}

func TestCreateTask_CacheDownStillSucceeds(t *testing.T) {
	f := setupTest(t)
	f.mr.Close()

	created, err := f.svc.CreateTask(context.Background(), task.NewTask{Title: "a"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Len(t, f.pub.msgs, 1)
}

func TestUpdateTaskStatus_UnknownID(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	_, _, err := f.svc.ListTasks(ctx)
	require.NoError(t, err)

	updated, err := f.svc.UpdateTaskStatus(ctx, 999, task.StatusCompleted)
	require.NoError(t, err)
	assert.Nil(t, updated)
	assert.False(t, f.mr.Exists(cache.DefaultKey))
}

func TestDeleteTask_UnknownID(t *testing.T) {
	f := setupTest(t)

	assert.NoError(t, f.svc.DeleteTask(context.Background(), 999))
}

func TestStats(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	a, err := f.svc.CreateTask(ctx, task.NewTask{Title: "a"})
	require.NoError(t, err)
	_, err = f.svc.CreateTask(ctx, task.NewTask{Title: "b"})
	require.NoError(t, err)
	_, err = f.svc.UpdateTaskStatus(ctx, a.ID, task.StatusCompleted)
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []task.StatusCount{
		{Status: task.StatusCompleted, Count: 1},
		{Status: task.StatusPending, Count: 1},
	}, stats)
}

func TestHealth(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	assert.Equal(t, Health{Status: "healthy", Database: "healthy", Redis: "healthy"}, f.svc.Health(ctx))

	f.mr.Close()
	f.store.SetErr(errors.New("db down"))
	assert.Equal(t, Health{Status: "healthy", Database: "unhealthy", Redis: "unhealthy"}, f.svc.Health(ctx))
}
