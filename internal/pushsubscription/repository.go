package pushsubscription

import "context"

type MutateFunc func(subs []*Subscription) ([]*Subscription, error)

// Repository has no point lookup: subscribe and unsubscribe both scan the
// collection inside Mutate so the endpoint check and the write share one
// critical section.
type Repository interface {
	List(ctx context.Context) ([]*Subscription, error)
	// Mutate runs fn over the full collection inside one critical section
	// and persists the returned slice.
	Mutate(ctx context.Context, fn MutateFunc) error
}
