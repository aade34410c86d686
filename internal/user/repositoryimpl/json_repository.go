package repositoryimpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/taskdesk/taskdesk/internal/user"
	"github.com/taskdesk/taskdesk/pkg/cerr"
	"github.com/taskdesk/taskdesk/pkg/storage"
)

const usersPath = "users.json"

// JSONRepository keeps the whole user collection in one JSON document. A
// single mutex serializes every read-modify-write cycle so concurrent
// writers cannot lose each other's updates.
type JSONRepository struct {
	storage storage.Storage
	mu      sync.Mutex
}

func NewJSONRepository(s storage.Storage) *JSONRepository {
	return &JSONRepository{storage: s}
}

func (r *JSONRepository) load(ctx context.Context) ([]*user.User, error) {
	data, err := r.storage.Read(ctx, usersPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, cerr.WrapStorageReadError("users", err)
	}
	var users []*user.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal users: %w", err))
	}
	return users, nil
}

func (r *JSONRepository) store(ctx context.Context, users []*user.User) error {
	if users == nil {
		users = []*user.User{}
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal users: %w", err))
	}
	if err := r.storage.Write(ctx, usersPath, data); err != nil {
		return cerr.WrapStorageWriteError("users", err)
	}
	return nil
}

func (r *JSONRepository) List(ctx context.Context) ([]*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

func (r *JSONRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	users, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "user not found", nil)
}

func (r *JSONRepository) GetByName(ctx context.Context, name string) (*user.User, error) {
	if name == "" {
		return nil, cerr.NewError(cerr.NotFound, "user not found", nil)
	}
	users, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Name == name {
			return u, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "user not found", nil)
}

func (r *JSONRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*user.User, error) {
	users, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.TelegramID == telegramID && telegramID != 0 {
			return u, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "user not found", nil)
}

func (r *JSONRepository) Mutate(ctx context.Context, fn user.MutateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(users)
	if err != nil {
		return err
	}
	return r.store(ctx, next)
}
