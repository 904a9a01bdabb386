package views

import (
	"context"
	"sync"

	"spark/internal/observability"
)

// keyLock serializes work per key. Entries are dropped once unused.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLock) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// transition is a local change already applied to a snapshot, the remote
// call that confirms it, and the undo that compensates a failed remote call.
type transition struct {
	remote func(context.Context) error
	undo   func()
}

// Controller runs optimistic mutations for one view.
type Controller struct {
	view  string
	log   *observability.ViewLogger
	locks keyLock
}

func NewController(view string) *Controller {
	return &Controller{view: view, log: observability.NewViewLogger(view)}
}

// Run applies a transition for key and confirms it remotely. Mutations on the
// same key run one after another, so each apply sees the settled result of the
// previous one. A failed remote call is rolled back and returned.
func (c *Controller) Run(ctx context.Context, mutation, key string, apply func() (transition, error)) error {
	unlock := c.locks.lock(key)
	defer unlock()

	t, err := apply()
	if err != nil {
		c.log.LogMutation(ctx, mutation, err, map[string]any{"key": key})
		return err
	}
	if t.remote == nil {
		return nil
	}

	if err := t.remote(ctx); err != nil {
		if t.undo != nil {
			t.undo()
		}
		observability.OptimisticMutations.WithLabelValues(c.view, mutation, observability.OutcomeRolledBack).Inc()
		c.log.LogMutation(ctx, mutation, err, map[string]any{"key": key, "rolled_back": true})
		return err
	}
	observability.OptimisticMutations.WithLabelValues(c.view, mutation, observability.OutcomeConfirmed).Inc()
	c.log.LogMutation(ctx, mutation, nil, map[string]any{"key": key})
	return nil
}
