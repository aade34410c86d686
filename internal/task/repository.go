package task

import "context"

// MutateFunc receives the full decoded collection and returns the
// replacement collection. Returning an error aborts without writing.
type MutateFunc func(tasks []*Task) ([]*Task, error)

type Repository interface {
	List(ctx context.Context) ([]*Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	// Mutate runs fn inside the collection's critical section, covering the
	// whole read-modify-write span. Short-id uniqueness checks and every
	// transition run here.
	Mutate(ctx context.Context, fn MutateFunc) error
}
