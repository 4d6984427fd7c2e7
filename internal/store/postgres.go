package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/podushkina/taskflow/internal/task"
)

const taskColumns = `id, title, description, status, priority, created_at`

// Postgres is the durable task store and the source of truth for the task set.
type Postgres struct {
	log  *slog.Logger
	conn *sqlx.DB
}

// Open connects to PostgreSQL through the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, log *slog.Logger, url string) (*Postgres, error) {
	db, err := sqlx.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return New(log, db), nil
}

func New(log *slog.Logger, db *sqlx.DB) *Postgres {
	return &Postgres{log: log, conn: db}
}

func (p *Postgres) Close() error {
	return p.conn.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.conn.PingContext(ctx)
}

// ListTasks returns every task, newest first.
func (p *Postgres) ListTasks(ctx context.Context) ([]task.Task, error) {
	const q = `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC, id DESC`

	out := []task.Task{}
	if err := p.conn.SelectContext(ctx, &out, q); err != nil {
		return nil, mapError("list tasks", err)
	}
	return out, nil
}

func (p *Postgres) GetTask(ctx context.Context, id int64) (task.Task, error) {
	const q = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	var t task.Task
	if err := p.conn.GetContext(ctx, &t, q, id); err != nil {
		return task.Task{}, mapError("get task", err)
	}
	return t, nil
}

func (p *Postgres) CreateTask(ctx context.Context, in task.NewTask) (task.Task, error) {
	const q = `
		INSERT INTO tasks (title, description, priority)
		VALUES ($1, $2, $3)
		RETURNING ` + taskColumns

	priority := in.Priority
	if priority == "" {
		priority = task.DefaultPriority
	}

	var t task.Task
	if err := p.conn.GetContext(ctx, &t, q, in.Title, in.Description, priority); err != nil {
		return task.Task{}, mapError("insert task", err)
	}

	p.log.Debug("task inserted", "task_id", t.ID)
	return t, nil
}

// UpdateTaskStatus returns nil without error when no row has the given id.
func (p *Postgres) UpdateTaskStatus(ctx context.Context, id int64, status task.Status) (*task.Task, error) {
	const q = `UPDATE tasks SET status = $1 WHERE id = $2 RETURNING ` + taskColumns

	var t task.Task
	if err := p.conn.GetContext(ctx, &t, q, status, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			p.log.Debug("no task to update", "task_id", id)
			return nil, nil
		}
		return nil, mapError("update task status", err)
	}
	return &t, nil
}

// DeleteTask reports whether a row was removed.
func (p *Postgres) DeleteTask(ctx context.Context, id int64) (bool, error) {
	const q = `DELETE FROM tasks WHERE id = $1`

	res, err := p.conn.ExecContext(ctx, q, id)
	if err != nil {
		return false, mapError("delete task", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete task: rows affected: %w", err)
	}
	return aff > 0, nil
}

func (p *Postgres) Stats(ctx context.Context) ([]task.StatusCount, error) {
	const q = `SELECT status, COUNT(*) AS count FROM tasks GROUP BY status ORDER BY status`

	out := []task.StatusCount{}
	if err := p.conn.SelectContext(ctx, &out, q); err != nil {
		return nil, mapError("task stats", err)
	}
	return out, nil
}
