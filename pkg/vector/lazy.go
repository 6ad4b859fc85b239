package vector

import (
	"context"
	"sync"

	"github.com/papercomputeco/stacks/pkg/gateway"
)

// LazyInit runs a collection initializer once, on first use. A failed run is
// retried by the next caller. A conflict from a concurrent initializer in
// another process counts as success.
type LazyInit struct {
	mu   sync.Mutex
	done bool
}

// Do runs fn unless a previous run succeeded.
func (l *LazyInit) Do(ctx context.Context, fn func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return nil
	}

	if err := fn(ctx); err != nil && !gateway.Is(err, gateway.KindConflict) {
		return err
	}

	l.done = true
	return nil
}

// Reset forces the next Do to run the initializer again, e.g. after the
// collection was dropped underneath the driver.
func (l *LazyInit) Reset() {
	l.mu.Lock()
	l.done = false
	l.mu.Unlock()
}
