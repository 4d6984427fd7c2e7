package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/taskflow/internal/logger"
	"github.com/podushkina/taskflow/internal/queue"
	"github.com/podushkina/taskflow/internal/task"
)

func TestWorker_RedisQueueEndToEnd(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := queue.NewRedis(logger.Discard(), client, "task_queue", "worker-1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, q.Publish(ctx, task.NewCreatedMessage(id)))
	}

	var (
		mu   sync.Mutex
		seen []int64
	)
	w := New(logger.Discard(), q, 1, time.Millisecond)
	w.Register(task.ActionCreated, func(_ context.Context, msg task.DispatchMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.TaskID)
		if len(seen) == 3 {
			cancel()
		}
		return nil
	})

	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []int64{1, 2, 3}, seen)
	assert.False(t, mr.Exists("taskflow:queue:task_queue"))
	assert.False(t, mr.Exists("taskflow:queue:task_queue:processing:worker-1"))
}
