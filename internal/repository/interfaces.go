package repository

import (
	"context"
	"errors"
	"time"

	"campusrun/internal/domain/entities"
)

// ErrStaleVersion is returned by a TrackingStateStore when a snapshot's
// version is not greater than the one already stored for the task.
var ErrStaleVersion = errors.New("stale snapshot version")

// TaskRepository is the task directory: the slice of the external task store
// that pricing, bundling and tracking authorization read.
type TaskRepository interface {
	Create(ctx context.Context, task *entities.Task) error
	GetByID(ctx context.Context, id string) (*entities.Task, error)
	Update(ctx context.Context, task *entities.Task) error
	Delete(ctx context.Context, id string) error
	ListOpen(ctx context.Context) ([]*entities.Task, error)
	GetByPerformerID(ctx context.Context, performerID string) ([]*entities.Task, error)
}

// SnapshotHandler receives published tracking snapshots. Handlers run on the
// publisher's goroutine and must not block.
type SnapshotHandler func(entities.TrackingSnapshot)

// TrackingStateStore is the shared published-state store keyed by task id.
// The session owner writes; participants subscribe.
//
// Clear removes the task's state and delivers entities.ClearedSnapshot to
// live subscribers so they stop showing the last position.
type TrackingStateStore interface {
	Put(ctx context.Context, snapshot entities.TrackingSnapshot) error
	Get(ctx context.Context, taskID string) (entities.TrackingSnapshot, bool, error)
	Clear(ctx context.Context, taskID string) error
	Subscribe(ctx context.Context, taskID string, handler SnapshotHandler) (cancel func(), err error)
}

// LockManager hands out owner-tagged TTL leases. The tracking service holds
// one per task so exactly one session writes a task's published state.
//
// AcquireLock succeeds when the key is free, expired, or already held by the
// same owner (which renews it). ReleaseLock by a non-owner is a no-op.
type LockManager interface {
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) error
	LockOwner(ctx context.Context, key string) (owner string, held bool, err error)
}
