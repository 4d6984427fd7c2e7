package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/podushkina/taskflow/internal/task"
)

var (
	// ErrUnavailable wraps every Redis failure; callers degrade instead of failing.
	ErrUnavailable = errors.New("cache unavailable")
	// ErrCorrupt means the cached value could not be decoded.
	ErrCorrupt = errors.New("cache entry corrupt")
)

const (
	DefaultKey = "all_tasks"
	DefaultTTL = 60 * time.Second

	versionSuffix = ":version"
	noVersion     = "0"
)

// storeIfCurrent writes the snapshot only if no invalidation happened since the
// caller's Load, so a slow reader cannot resurrect a list older than a committed write.
var storeIfCurrent = redis.NewScript(`
local current = redis.call("GET", KEYS[2]) or "0"
if current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaxRetries:   1,
	})
}

// Snapshot is the result of a Load. Version must be handed back to Store.
type Snapshot struct {
	Tasks   []task.Task
	Version string
	Hit     bool
}

// TaskList holds one aggregate snapshot of the task list under a fixed key. The
// snapshot is written only after a miss and evicted whole by Invalidate.
type TaskList struct {
	client     redis.Cmdable
	key        string
	versionKey string
	ttl        time.Duration
}

func NewTaskList(client redis.Cmdable, key string, ttl time.Duration) *TaskList {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TaskList{
		client:     client,
		key:        key,
		versionKey: key + versionSuffix,
		ttl:        ttl,
	}
}

func (c *TaskList) Key() string {
	return c.key
}

func (c *TaskList) Load(ctx context.Context) (Snapshot, error) {
	vals, err := c.client.MGet(ctx, c.key, c.versionKey).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: mget %s: %v", ErrUnavailable, c.key, err)
	}

	snap := Snapshot{Version: noVersion}
	if v, ok := vals[1].(string); ok {
		snap.Version = v
	}

	raw, ok := vals[0].(string)
	if !ok {
		return snap, nil
	}

	var tasks []task.Task
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		return snap, fmt.Errorf("%w: %s: %v", ErrCorrupt, c.key, err)
	}
	if tasks == nil {
		tasks = []task.Task{}
	}

	snap.Tasks = tasks
	snap.Hit = true
	return snap, nil
}

// Store writes tasks with the configured TTL unless the list was invalidated after
// the Load that produced version. stored reports whether the write happened.
func (c *TaskList) Store(ctx context.Context, version string, tasks []task.Task) (stored bool, err error) {
	if tasks == nil {
		tasks = []task.Task{}
	}

	data, err := json.Marshal(tasks)
	if err != nil {
		return false, fmt.Errorf("marshal tasks: %w", err)
	}

	n, err := storeIfCurrent.Run(ctx, c.client, []string{c.key, c.versionKey},
		version, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: set %s: %v", ErrUnavailable, c.key, err)
	}
	return n == 1, nil
}

// Invalidate evicts the snapshot and bumps the version. Deleting an absent key is
// not an error.
func (c *TaskList) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.versionKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrUnavailable, c.key, err)
	}
	return nil
}

func (c *TaskList) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}
