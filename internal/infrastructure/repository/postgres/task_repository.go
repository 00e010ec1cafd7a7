package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/resilience"
)

type TaskRepository struct {
	db     *sql.DB
	runner runner
}

func NewTaskRepository(db *sql.DB, executor *resilience.Executor) *TaskRepository {
	return &TaskRepository{db: db, runner: runner{executor: executor}}
}

func (r *TaskRepository) CreateTask(ctx context.Context, task *domain.Task) error {
	errJSON, err := marshalTaskError(task.Error)
	if err != nil {
		return err
	}
	return r.runner.run(ctx, "create_task", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (
	uid, index_uid, type, status, payload_key, received_documents, indexed_documents, error, enqueued_at, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
			task.UID, task.IndexUID, task.Type, string(task.Status), task.PayloadKey, task.ReceivedDocuments,
			task.IndexedDocuments, errJSON, task.EnqueuedAt, task.StartedAt, task.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	})
}

func (r *TaskRepository) GetTask(ctx context.Context, uid string) (*domain.Task, error) {
	var task domain.Task
	err := r.runner.run(ctx, "get_task", func(ctx context.Context) error {
		row := r.db.QueryRowContext(ctx, `
SELECT uid, index_uid, type, status, payload_key, received_documents, indexed_documents, error, enqueued_at, started_at, finished_at
FROM tasks
WHERE uid = $1
`, uid)
		var err error
		task, err = scanTask(row)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewCodedError(domain.ErrTaskNotFound, domain.CodeTaskNotFound, "Task `%s` not found.", uid)
		}
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) UpdateTask(ctx context.Context, task *domain.Task) error {
	errJSON, err := marshalTaskError(task.Error)
	if err != nil {
		return err
	}
	var affected int64
	err = r.runner.run(ctx, "update_task", func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET status = $2, indexed_documents = $3, error = $4, started_at = $5, finished_at = $6
WHERE uid = $1
`, task.UID, string(task.Status), task.IndexedDocuments, errJSON, task.StartedAt, task.FinishedAt)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update task rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.NewCodedError(domain.ErrTaskNotFound, domain.CodeTaskNotFound, "Task `%s` not found.", task.UID)
	}
	return nil
}

func marshalTaskError(taskErr *domain.TaskError) ([]byte, error) {
	if taskErr == nil {
		return nil, nil
	}
	raw, err := json.Marshal(taskErr)
	if err != nil {
		return nil, fmt.Errorf("marshal task error: %w", err)
	}
	return raw, nil
}

func scanTask(row rowScanner) (domain.Task, error) {
	var task domain.Task
	var status string
	var errRaw []byte
	err := row.Scan(
		&task.UID,
		&task.IndexUID,
		&task.Type,
		&status,
		&task.PayloadKey,
		&task.ReceivedDocuments,
		&task.IndexedDocuments,
		&errRaw,
		&task.EnqueuedAt,
		&task.StartedAt,
		&task.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, err
		}
		return domain.Task{}, fmt.Errorf("scan task: %w", err)
	}
	task.Status = domain.TaskStatus(status)
	if len(errRaw) > 0 {
		task.Error = &domain.TaskError{}
		if err := json.Unmarshal(errRaw, task.Error); err != nil {
			return domain.Task{}, fmt.Errorf("unmarshal task error: %w", err)
		}
	}
	return task, nil
}
