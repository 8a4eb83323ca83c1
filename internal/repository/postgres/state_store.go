package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campusrun/internal/domain/entities"
	"campusrun/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notifyChannel = "tracking_state"

const schema = `
CREATE TABLE IF NOT EXISTS tracking_state (
	task_id    TEXT PRIMARY KEY,
	version    BIGINT NOT NULL,
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// StateStore is the PostgreSQL TrackingStateStore. Each task has one row
// holding the latest snapshot as JSONB. Writes are conditional on the
// version so a stale writer can never overwrite a newer snapshot.
//
// Every write and clear issues pg_notify with the task id. Listen turns those
// notifications into deliveries for the subscribers registered on this
// process, so subscribers see writes made by any instance.
type StateStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger

	mu       sync.Mutex
	subs     map[string]map[uint64]repository.SnapshotHandler
	nextID   uint64
	lastSeen map[string]uint64
}

func NewStateStore(pool *pgxpool.Pool, log *slog.Logger) *StateStore {
	return &StateStore{
		pool:     pool,
		log:      log,
		subs:     make(map[string]map[uint64]repository.SnapshotHandler),
		lastSeen: make(map[string]uint64),
	}
}

// EnsureSchema creates the tracking_state table when it does not exist.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create tracking_state: %w", err)
	}
	return nil
}

func (s *StateStore) Put(ctx context.Context, snapshot entities.TrackingSnapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO tracking_state (task_id, version, snapshot, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (task_id) DO UPDATE
			SET version = EXCLUDED.version,
			    snapshot = EXCLUDED.snapshot,
			    updated_at = EXCLUDED.updated_at
			WHERE tracking_state.version < EXCLUDED.version
		`, snapshot.TaskID, int64(snapshot.Version), body)
		if err != nil {
			return fmt.Errorf("upsert tracking_state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrStaleVersion
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, snapshot.TaskID); err != nil {
			return fmt.Errorf("notify tracking_state: %w", err)
		}
		return nil
	})
}

func (s *StateStore) Get(ctx context.Context, taskID string) (entities.TrackingSnapshot, bool, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM tracking_state WHERE task_id = $1`, taskID,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.TrackingSnapshot{}, false, nil
	}
	if err != nil {
		return entities.TrackingSnapshot{}, false, fmt.Errorf("select tracking_state: %w", err)
	}

	var snapshot entities.TrackingSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return entities.TrackingSnapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	if snapshot.History == nil {
		snapshot.History = []entities.LocationHistoryPoint{}
	}
	return snapshot, true, nil
}

func (s *StateStore) Clear(ctx context.Context, taskID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tracking_state WHERE task_id = $1`, taskID); err != nil {
			return fmt.Errorf("delete tracking_state: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, taskID); err != nil {
			return fmt.Errorf("notify tracking_state: %w", err)
		}
		return nil
	})
}

// Subscribe registers handler on this process. Deliveries come from Listen,
// which must be running.
func (s *StateStore) Subscribe(ctx context.Context, taskID string, handler repository.SnapshotHandler) (func(), error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.subs[taskID] == nil {
		s.subs[taskID] = make(map[uint64]repository.SnapshotHandler)
	}
	s.subs[taskID][id] = handler
	s.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[taskID], id)
			if len(s.subs[taskID]) == 0 {
				delete(s.subs, taskID)
				delete(s.lastSeen, taskID)
			}
		})
	}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return cancel, nil
}

// Listen holds one pooled connection on LISTEN tracking_state and dispatches
// notifications until ctx is cancelled. A lost connection is re-acquired
// with backoff.
func (s *StateStore) Listen(ctx context.Context) error {
	backoff := 500 * time.Millisecond
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("tracking_state listener dropped, reconnecting", "action", "db_listen",
			"error", err.Error(), "backoff_ms", backoff.Milliseconds())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

func (s *StateStore) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.log.Info("listening for tracking_state notifications", "action", "db_listen")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.dispatch(ctx, n.Payload)
	}
}

// dispatch reads the task's row and hands the result to local subscribers.
func (s *StateStore) dispatch(ctx context.Context, taskID string) {
	s.mu.Lock()
	interested := len(s.subs[taskID]) > 0
	s.mu.Unlock()
	if !interested {
		return
	}

	snapshot, found, err := s.Get(ctx, taskID)
	if err != nil {
		s.log.Warn("read notified tracking_state failed", "action", "db_listen",
			"task_id", taskID, "error", err.Error())
		return
	}

	s.mu.Lock()
	out, ok := s.resolveLocked(taskID, snapshot, found, time.Now())
	handlers := make([]repository.SnapshotHandler, 0, len(s.subs[taskID]))
	for _, h := range s.subs[taskID] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	for _, h := range handlers {
		h(out.Clone())
	}
}

// resolveLocked decides what a notification means for subscribers. A missing
// row is a clear, reported once. A row whose version was already delivered
// is a duplicate notification. Published versions start at 1, so a zero
// lastSeen entry marks a delivered clear.
func (s *StateStore) resolveLocked(taskID string, snapshot entities.TrackingSnapshot, found bool, now time.Time) (entities.TrackingSnapshot, bool) {
	last, seen := s.lastSeen[taskID]
	if !found {
		if seen && last == 0 {
			return entities.TrackingSnapshot{}, false
		}
		s.lastSeen[taskID] = 0
		return entities.ClearedSnapshot(taskID, now), true
	}
	if seen && snapshot.Version == last {
		return entities.TrackingSnapshot{}, false
	}
	s.lastSeen[taskID] = snapshot.Version
	return snapshot, true
}
