package memory

import (
	"context"
	"sync"
	"time"

	"campusrun/internal/domain/entities"
	"campusrun/internal/repository"
)

// StateStore is the in-memory TrackingStateStore. It keeps the latest
// snapshot per task and fans every accepted write out to that task's
// subscribers.
//
// Go Learning Note — Callbacks Outside the Lock:
// Handlers are collected under the lock but invoked after it is released, so
// a handler that calls back into the store (Get, Unsubscribe) cannot deadlock.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]entities.TrackingSnapshot
	subs   map[string]map[uint64]repository.SnapshotHandler
	nextID uint64
}

func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]entities.TrackingSnapshot),
		subs:   make(map[string]map[uint64]repository.SnapshotHandler),
	}
}

// Put stores snapshot unless an equal or newer version is already stored.
func (s *StateStore) Put(ctx context.Context, snapshot entities.TrackingSnapshot) error {
	s.mu.Lock()
	if current, exists := s.states[snapshot.TaskID]; exists && snapshot.Version <= current.Version {
		s.mu.Unlock()
		return repository.ErrStaleVersion
	}
	s.states[snapshot.TaskID] = snapshot.Clone()
	handlers := s.handlersLocked(snapshot.TaskID)
	s.mu.Unlock()

	for _, h := range handlers {
		h(snapshot.Clone())
	}
	return nil
}

func (s *StateStore) Get(ctx context.Context, taskID string) (entities.TrackingSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, exists := s.states[taskID]
	if !exists {
		return entities.TrackingSnapshot{}, false, nil
	}
	return snapshot.Clone(), true, nil
}

// Clear drops the task's state and tells subscribers it is gone.
func (s *StateStore) Clear(ctx context.Context, taskID string) error {
	s.mu.Lock()
	delete(s.states, taskID)
	handlers := s.handlersLocked(taskID)
	s.mu.Unlock()

	cleared := entities.ClearedSnapshot(taskID, time.Now())
	for _, h := range handlers {
		h(cleared.Clone())
	}
	return nil
}

// Subscribe registers handler for every future write to taskID. The returned
// cancel func is idempotent. The subscription also ends when ctx is done.
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

// SubscriberCount reports how many handlers listen on taskID.
func (s *StateStore) SubscriberCount(taskID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[taskID])
}

func (s *StateStore) handlersLocked(taskID string) []repository.SnapshotHandler {
	handlers := make([]repository.SnapshotHandler, 0, len(s.subs[taskID]))
	for _, h := range s.subs[taskID] {
		handlers = append(handlers, h)
	}
	return handlers
}
