package memory

import (
	"context"
	"sync"
	"time"
)

// lease is one held lock. The TTL ensures a lease held by a session that
// died without stopping eventually frees the task for a new session.
type lease struct {
	owner     string
	expiresAt time.Time
}

// LockManager provides in-memory owner-tagged leases with TTL expiration.
// The tracking service takes one lease per task so two devices never publish
// the same task's position at once.
//
// In production, this would be replaced by Redis SET NX PX with the owner as
// the value, or a Postgres advisory lock. This version only works for a
// single-instance deployment.
//
// Go Learning Note — Channels for Signaling:
// The `stop` field is a `chan struct{}` used purely for signaling. Closing it
// wakes every goroutine receiving from it, so `<-lm.stop` in the sweep loop
// returns once Stop() is called.
type LockManager struct {
	mu            sync.RWMutex
	leases        map[string]*lease
	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewLockManager creates a LockManager and starts a background goroutine that
// sweeps expired leases every second.
func NewLockManager() *LockManager {
	return NewLockManagerWithInterval(time.Second)
}

// NewLockManagerWithInterval is NewLockManager with a custom sweep interval.
func NewLockManagerWithInterval(sweep time.Duration) *LockManager {
	lm := &LockManager{
		leases:        make(map[string]*lease),
		sweepInterval: sweep,
		stop:          make(chan struct{}),
	}
	go lm.sweepExpired()
	return lm
}

// AcquireLock takes or renews the lease on key for owner.
// Returns (false, nil) when another owner holds an unexpired lease.
func (lm *LockManager) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()
	if held, exists := lm.leases[key]; exists && held.owner != owner && now.Before(held.expiresAt) {
		return false, nil
	}

	lm.leases[key] = &lease{
		owner:     owner,
		expiresAt: now.Add(ttl),
	}
	return true, nil
}

// ReleaseLock frees key if owner holds it.
func (lm *LockManager) ReleaseLock(ctx context.Context, key, owner string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if held, exists := lm.leases[key]; exists && held.owner == owner {
		delete(lm.leases, key)
	}
	return nil
}

// LockOwner reports who holds an unexpired lease on key.
func (lm *LockManager) LockOwner(ctx context.Context, key string) (string, bool, error) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	if held, exists := lm.leases[key]; exists && time.Now().Before(held.expiresAt) {
		return held.owner, true, nil
	}
	return "", false, nil
}

// sweepExpired runs in a background goroutine and drops leases past their TTL.
//
// Go Learning Note — time.NewTicker:
// A ticker repeats until stopped. Always defer ticker.Stop() so the timer is
// released when the loop exits.
func (lm *LockManager) sweepExpired() {
	ticker := time.NewTicker(lm.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lm.mu.Lock()
			now := time.Now()
			for key, held := range lm.leases {
				if now.After(held.expiresAt) {
					delete(lm.leases, key)
				}
			}
			lm.mu.Unlock()
		case <-lm.stop:
			return
		}
	}
}

// Stop ends the sweep goroutine. Safe to call more than once.
func (lm *LockManager) Stop() {
	lm.stopOnce.Do(func() { close(lm.stop) })
}
