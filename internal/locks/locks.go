// Package locks implements fair, keyed mutual exclusion. One well-known key
// serializes organization creation globally; dynamic keys serialize the
// irreversible ledger workflows of a single proposal.
package locks

import (
	"context"
	"sync"
)

// OrgCreationKey serializes root and branch creation. Key allocation and
// name-uniqueness checks must not interleave across creation requests.
const OrgCreationKey = "org:create"

// ProposalKey returns the lock key guarding one proposal's
// finalization/redemption/return sequence.
func ProposalKey(ref string) string {
	return "proposal:" + ref
}

// ModeratorKey returns the lock key guarding proposal creation under one
// moderator namespace.
func ModeratorKey(ref string) string {
	return "moderator:" + ref
}

type lockState struct {
	held    bool
	waiters []chan struct{} // FIFO; head is granted on release
}

// Manager hands out per-key exclusive locks with FIFO fairness. Lock states
// are created on first acquisition and dropped once free with no waiters.
type Manager struct {
	mu   sync.Mutex
	keys map[string]*lockState
}

// New constructs an empty lock manager.
func New() *Manager {
	return &Manager{keys: make(map[string]*lockState)}
}

// Acquire blocks until the caller exclusively holds key, then returns a
// release function. The release function is idempotent and must be invoked
// on every exit path of the protected region, normally via defer. If ctx is
// cancelled while waiting, the waiter is removed from the queue and the
// context error returned.
func (m *Manager) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	st, ok := m.keys[key]
	if !ok {
		st = &lockState{}
		m.keys[key] = st
	}
	if !st.held && len(st.waiters) == 0 {
		st.held = true
		m.mu.Unlock()
		return m.releaser(key), nil
	}
	grant := make(chan struct{})
	st.waiters = append(st.waiters, grant)
	m.mu.Unlock()

	select {
	case <-grant:
		return m.releaser(key), nil
	case <-ctx.Done():
		m.mu.Lock()
		if m.removeWaiter(key, grant) {
			m.mu.Unlock()
			return nil, ctx.Err()
		}
		// The grant raced our cancellation: we already own the lock and
		// must pass it on before reporting the cancellation.
		m.releaseLocked(key)
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

// WithLock runs fn while holding key, releasing on every exit path.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	release, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (m *Manager) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.releaseLocked(key)
			m.mu.Unlock()
		})
	}
}

// releaseLocked hands the lock to the next FIFO waiter or frees the key.
// Caller holds m.mu.
func (m *Manager) releaseLocked(key string) {
	st, ok := m.keys[key]
	if !ok {
		return
	}
	if len(st.waiters) == 0 {
		delete(m.keys, key)
		return
	}
	next := st.waiters[0]
	st.waiters = st.waiters[1:]
	st.held = true
	close(next)
}

// removeWaiter drops grant from key's queue, reporting whether it was still
// queued. Caller holds m.mu.
func (m *Manager) removeWaiter(key string, grant chan struct{}) bool {
	st, ok := m.keys[key]
	if !ok {
		return false
	}
	for i, w := range st.waiters {
		if w == grant {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			if !st.held && len(st.waiters) == 0 {
				delete(m.keys, key)
			}
			return true
		}
	}
	return false
}
