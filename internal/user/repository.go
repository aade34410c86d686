package user

import "context"

// MutateFunc receives the full decoded collection and returns the
// replacement collection. Returning an error aborts without writing.
type MutateFunc func(users []*User) ([]*User, error)

type Repository interface {
	List(ctx context.Context) ([]*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByName(ctx context.Context, name string) (*User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	// Mutate runs fn inside the collection's critical section, covering the
	// whole read-modify-write span.
	Mutate(ctx context.Context, fn MutateFunc) error
}
