package repositoryimpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/taskdesk/taskdesk/internal/task"
	"github.com/taskdesk/taskdesk/pkg/cerr"
	"github.com/taskdesk/taskdesk/pkg/storage"
)

const tasksPath = "tasks.json"

// JSONRepository keeps the whole task collection in one JSON document.
// Writes replace the document; the mutex covers the full read-modify-write
// span so two concurrent transitions cannot lose each other's updates.
type JSONRepository struct {
	storage storage.Storage
	mu      sync.Mutex
}

func NewJSONRepository(s storage.Storage) *JSONRepository {
	return &JSONRepository{storage: s}
}

func (r *JSONRepository) load(ctx context.Context) ([]*task.Task, error) {
	data, err := r.storage.Read(ctx, tasksPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, cerr.WrapStorageReadError("tasks", err)
	}
	var tasks []*task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal tasks: %w", err))
	}
	return tasks, nil
}

func (r *JSONRepository) store(ctx context.Context, tasks []*task.Task) error {
	if tasks == nil {
		tasks = []*task.Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal tasks: %w", err))
	}
	if err := r.storage.Write(ctx, tasksPath, data); err != nil {
		return cerr.WrapStorageWriteError("tasks", err)
	}
	return nil
}

func (r *JSONRepository) List(ctx context.Context) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

func (r *JSONRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	tasks, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
}

func (r *JSONRepository) Mutate(ctx context.Context, fn task.MutateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks, err := r.load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(tasks)
	if err != nil {
		return err
	}
	return r.store(ctx, next)
}
