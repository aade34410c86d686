package repositoryimpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/taskdesk/taskdesk/internal/pushsubscription"
	"github.com/taskdesk/taskdesk/pkg/cerr"
	"github.com/taskdesk/taskdesk/pkg/storage"
)

const subscriptionsPath = "push_subscriptions.json"

// JSONRepository keeps the whole subscription collection in one JSON
// document, serialized by a single mutex.
type JSONRepository struct {
	storage storage.Storage
	mu      sync.Mutex
}

func NewJSONRepository(s storage.Storage) *JSONRepository {
	return &JSONRepository{storage: s}
}

func (r *JSONRepository) load(ctx context.Context) ([]*pushsubscription.Subscription, error) {
	data, err := r.storage.Read(ctx, subscriptionsPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, cerr.WrapStorageReadError("push subscriptions", err)
	}
	var subs []*pushsubscription.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal push subscriptions: %w", err))
	}
	return subs, nil
}

func (r *JSONRepository) store(ctx context.Context, subs []*pushsubscription.Subscription) error {
	if subs == nil {
		subs = []*pushsubscription.Subscription{}
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal push subscriptions: %w", err))
	}
	if err := r.storage.Write(ctx, subscriptionsPath, data); err != nil {
		return cerr.WrapStorageWriteError("push subscriptions", err)
	}
	return nil
}

func (r *JSONRepository) List(ctx context.Context) ([]*pushsubscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

func (r *JSONRepository) Mutate(ctx context.Context, fn pushsubscription.MutateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, err := r.load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(subs)
	if err != nil {
		return err
	}
	return r.store(ctx, next)
}
