// Package sessions tracks the live sessions of one process so shutdown
// can cancel and drain them.
package sessions

import (
	"context"
	"sync"
)

// Handle is the registry's grip on one session: enough to enumerate and
// to cancel, nothing more.
type Handle struct {
	ID     string
	Cancel func()
}

// Registry serializes session add/remove and supports a drain on
// shutdown. The zero value is not usable; call New.
type Registry struct {
	mu     sync.Mutex
	active map[string]Handle
	wg     sync.WaitGroup
}

func New() *Registry {
	return &Registry{active: make(map[string]Handle)}
}

// Register adds a session and returns its unregister func. Unregister
// is idempotent; sessions call it on every exit path.
func (r *Registry) Register(h Handle) func() {
	r.mu.Lock()
	r.active[h.ID] = h
	r.wg.Add(1)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.active, h.ID)
			r.mu.Unlock()
			r.wg.Done()
		})
	}
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// CancelAll asks every live session to close. Cancellation is
// asynchronous; pair with Wait.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.active))
	for _, h := range r.active {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		if h.Cancel != nil {
			h.Cancel()
		}
	}
}

// Wait blocks until every registered session has unregistered or the
// context expires.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
