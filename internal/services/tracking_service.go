package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campusrun/internal/config"
	"campusrun/internal/domain/entities"
	"campusrun/internal/mapsvc"
	"campusrun/internal/positioning"
	"campusrun/internal/repository"
	"campusrun/pkg/utils"
)

var (
	ErrTaskNotFound           = errors.New("task not found")
	ErrNotTaskPerformer       = errors.New("only the task performer may do this")
	ErrNotParticipant         = errors.New("only task participants may do this")
	ErrTaskNotTrackable       = errors.New("task is not accepted or in progress")
	ErrSessionNotFound        = errors.New("tracking session not found")
	ErrTrackingOwnedElsewhere = errors.New("another device is already sharing this task")
)

// SessionHandle is what a performer gets back from StartTracking. The ID is
// needed to stop the session.
type SessionHandle struct {
	ID          string                 `json:"session_id"`
	TaskID      string                 `json:"task_id"`
	PerformerID string                 `json:"performer_id"`
	State       entities.TrackingState `json:"state"`
	Destination *entities.Location     `json:"destination,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
}

// TrackingService owns every live session. It enforces who may start, stop
// and watch a task, and guarantees a single writer per task through an owner
// lease.
type TrackingService struct {
	tasks   repository.TaskRepository
	store   repository.TrackingStateStore
	locks   repository.LockManager
	sources positioning.SourceProvider
	coarse  positioning.CoarseLocator
	maps    mapsvc.Provider
	cfg     config.TrackingConfig
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*TrackingSession // by session id
	byTask   map[string]*TrackingSession
}

func NewTrackingService(
	tasks repository.TaskRepository,
	store repository.TrackingStateStore,
	locks repository.LockManager,
	sources positioning.SourceProvider,
	coarse positioning.CoarseLocator,
	maps mapsvc.Provider,
	cfg config.TrackingConfig,
	log *slog.Logger,
) *TrackingService {
	return &TrackingService{
		tasks:    tasks,
		store:    store,
		locks:    locks,
		sources:  sources,
		coarse:   coarse,
		maps:     maps,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*TrackingSession),
		byTask:   make(map[string]*TrackingSession),
	}
}

func leaseKey(taskID string) string { return "tracking:" + taskID }

// StartTracking opens a sharing session for taskID on behalf of its
// performer. Calling it again while the performer's session is live returns
// the existing handle.
//
// destination defaults to the task's drop-off, then the task location. An
// address-only destination is forward geocoded and a destination without an
// address is reverse geocoded; geocoding failures are logged and ignored.
func (s *TrackingService) StartTracking(ctx context.Context, taskID, performerID string, destination *entities.Location) (*SessionHandle, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.PerformerID == "" || task.PerformerID != performerID {
		return nil, ErrNotTaskPerformer
	}
	if !task.IsTrackable() {
		return nil, ErrTaskNotTrackable
	}

	if destination == nil {
		if task.DropOff != nil {
			destination = task.DropOff
		} else {
			loc := task.Location
			destination = &loc
		}
	}
	destination = s.resolveDestination(ctx, taskID, destination)

	session, existing, err := s.register(ctx, taskID, performerID, destination)
	if err != nil {
		return nil, err
	}
	if existing {
		return s.handle(session), nil
	}

	// A terminal transition that landed while the session was being set up
	// found nothing to stop. The session is registered now, so any later
	// transition will stop it; re-check for one that came earlier.
	task, err = s.loadTask(ctx, taskID)
	if err != nil || !task.IsTrackable() || task.PerformerID != performerID {
		s.mu.Lock()
		s.forgetLocked(session)
		s.mu.Unlock()
		s.stopSession(ctx, session)
		s.log.Info("task left trackable state during start", "action", "tracking_start",
			"task_id", taskID, "session_id", session.ID())
		return nil, ErrTaskNotTrackable
	}
	return s.handle(session), nil
}

// register takes the owner lease and records a started session for taskID.
// existing is true when the performer's live session was returned instead.
func (s *TrackingService) register(ctx context.Context, taskID, performerID string, destination *entities.Location) (*TrackingSession, bool, error) {
	s.mu.Lock()
	if existing, ok := s.byTask[taskID]; ok {
		if existing.PerformerID() == performerID {
			s.mu.Unlock()
			return existing, true, nil
		}
		// The task was reassigned; the old performer's session must end
		// before the new one can take the lease.
		s.forgetLocked(existing)
		s.mu.Unlock()
		s.stopSession(ctx, existing)
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	if existing, ok := s.byTask[taskID]; ok {
		if existing.PerformerID() == performerID {
			return existing, true, nil
		}
		return nil, false, ErrTrackingOwnedElsewhere
	}

	acquired, err := s.locks.AcquireLock(ctx, leaseKey(taskID), performerID, s.cfg.OwnerLeaseTTL)
	if err != nil {
		return nil, false, fmt.Errorf("acquire tracking lease: %w", err)
	}
	if !acquired {
		return nil, false, ErrTrackingOwnedElsewhere
	}

	var baseVersion uint64
	if prev, found, err := s.store.Get(ctx, taskID); err == nil && found {
		baseVersion = prev.Version
	}

	session := newTrackingSession(utils.GenerateSessionID(), taskID, performerID, destination, baseVersion, s.cfg, sessionDeps{
		source: s.sources.SourceFor(performerID),
		coarse: s.coarse,
		router: s.maps.Router(),
		store:  s.store,
		locks:  s.locks,
		log:    s.log,
		now:    s.now,
	})
	if err := session.Start(); err != nil {
		s.locks.ReleaseLock(ctx, leaseKey(taskID), performerID)
		return nil, false, err
	}
	s.sessions[session.ID()] = session
	s.byTask[taskID] = session
	return session, false, nil
}

// StopTracking ends the session identified by handleID. Only the performer
// who started it may stop it.
func (s *TrackingService) StopTracking(ctx context.Context, handleID, performerID string) error {
	s.mu.Lock()
	session, ok := s.sessions[handleID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if session.PerformerID() != performerID {
		s.mu.Unlock()
		return ErrNotTaskPerformer
	}
	s.forgetLocked(session)
	s.mu.Unlock()

	return s.stopSession(ctx, session)
}

// StopTaskTracking ends whatever session is live for taskID. The task
// service calls it when a task reaches a terminal state.
func (s *TrackingService) StopTaskTracking(ctx context.Context, taskID string) error {
	s.mu.Lock()
	session, ok := s.byTask[taskID]
	if ok {
		s.forgetLocked(session)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.stopSession(ctx, session)
}

func (s *TrackingService) stopSession(ctx context.Context, session *TrackingSession) error {
	err := session.Stop(ctx)
	if relErr := s.locks.ReleaseLock(ctx, leaseKey(session.TaskID()), session.PerformerID()); relErr != nil {
		s.log.Warn("release tracking lease failed", "action", "tracking_stop",
			"task_id", session.TaskID(), "error", relErr.Error())
	}
	return err
}

func (s *TrackingService) forgetLocked(session *TrackingSession) {
	delete(s.sessions, session.ID())
	if s.byTask[session.TaskID()] == session {
		delete(s.byTask, session.TaskID())
	}
}

// SubscribeTracking delivers the task's current snapshot (or the empty
// snapshot) and then every newer one to handler until unsubscribe is called.
// Only the task creator and performer may subscribe.
//
// Deliveries are serialized and never go backwards in version; a cleared
// snapshot resets the ordering for the next session.
func (s *TrackingService) SubscribeTracking(ctx context.Context, taskID, userID string, handler repository.SnapshotHandler) (func(), error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}

	var mu sync.Mutex
	var last uint64
	delivered := false
	deliver := func(snap entities.TrackingSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case snap.State == entities.TrackingStopped:
			last = 0
		case snap.Version == 0:
			if delivered {
				return
			}
		case snap.Version <= last:
			return
		default:
			last = snap.Version
		}
		delivered = true
		handler(snap)
	}

	cancel, err := s.store.Subscribe(ctx, taskID, deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribe tracking state: %w", err)
	}

	current, found, err := s.store.Get(ctx, taskID)
	switch {
	case err != nil:
		s.log.Warn("initial tracking read failed", "action", "tracking_subscribe",
			"task_id", taskID, "error", err.Error())
		deliver(entities.EmptySnapshot(taskID))
	case found:
		deliver(s.withReadStaleness(current))
	default:
		deliver(entities.EmptySnapshot(taskID))
	}
	return cancel, nil
}

// Snapshot returns the published state of a task for a participant, with
// staleness recomputed at read time.
func (s *TrackingService) Snapshot(ctx context.Context, taskID, userID string) (entities.TrackingSnapshot, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return entities.TrackingSnapshot{}, err
	}
	if !task.IsParticipant(userID) {
		return entities.TrackingSnapshot{}, ErrNotParticipant
	}

	current, found, err := s.store.Get(ctx, taskID)
	if err != nil {
		return entities.TrackingSnapshot{}, fmt.Errorf("read tracking state: %w", err)
	}
	if !found {
		return entities.EmptySnapshot(taskID), nil
	}
	return s.withReadStaleness(current), nil
}

func (s *TrackingService) withReadStaleness(snap entities.TrackingSnapshot) entities.TrackingSnapshot {
	if snap.Staleness.LastUpdateAt.IsZero() {
		return snap
	}
	age := s.now().Sub(snap.Staleness.LastUpdateAt)
	snap.Staleness.AgeSeconds = age.Seconds()
	if age > s.cfg.StaleAfter {
		snap.Staleness.Stale = true
	}
	return snap
}

// Session returns the live session for a task, if any.
func (s *TrackingService) Session(taskID string) (*TrackingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byTask[taskID]
	return session, ok
}

// Shutdown stops every live session.
func (s *TrackingService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*TrackingSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
		s.forgetLocked(session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		s.stopSession(ctx, session)
	}
}

func (s *TrackingService) handle(session *TrackingSession) *SessionHandle {
	return &SessionHandle{
		ID:          session.ID(),
		TaskID:      session.TaskID(),
		PerformerID: session.PerformerID(),
		State:       session.State(),
		Destination: session.destination,
		StartedAt:   session.startedAt,
	}
}

func (s *TrackingService) loadTask(ctx context.Context, taskID string) (*entities.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil || task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// resolveDestination fills in whichever half of the destination is missing.
// It returns nil when an address-only destination cannot be geocoded.
func (s *TrackingService) resolveDestination(ctx context.Context, taskID string, dest *entities.Location) *entities.Location {
	geocoder := s.maps.Geocoder()

	if dest.NeedsGeocoding() {
		if geocoder == nil {
			s.log.Warn("destination has no coordinates and no geocoder is configured",
				"action", "tracking_destination", "task_id", taskID)
			return nil
		}
		loc, err := geocoder.Forward(ctx, dest.Address)
		if err != nil {
			s.log.Warn("forward geocoding failed", "action", "tracking_destination",
				"task_id", taskID, "error", err.Error())
			return nil
		}
		if loc.Address == "" {
			loc = loc.WithAddress(dest.Address)
		}
		return &loc
	}

	if !dest.Valid() {
		return nil
	}
	out := *dest
	if out.Address == "" && geocoder != nil {
		addr, err := geocoder.Reverse(ctx, out)
		if err != nil {
			s.log.Warn("reverse geocoding failed", "action", "tracking_destination",
				"task_id", taskID, "error", err.Error())
		} else {
			out = out.WithAddress(addr)
		}
	}
	return &out
}
