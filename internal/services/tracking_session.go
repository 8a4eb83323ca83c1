package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"campusrun/internal/config"
	"campusrun/internal/domain/entities"
	"campusrun/internal/mapsvc"
	"campusrun/internal/positioning"
	"campusrun/internal/repository"
)

var ErrSessionStopped = errors.New("tracking session already stopped")

// fixSource records which step of the start-up chain produced the first
// position.
type fixSource string

const (
	fixHighAccuracy fixSource = "high_accuracy"
	fixLowAccuracy  fixSource = "low_accuracy"
	fixCoarse       fixSource = "coarse"
	fixAnchor       fixSource = "default_anchor"
	fixStream       fixSource = "stream"
)

type sessionDeps struct {
	source positioning.Source
	coarse positioning.CoarseLocator
	router mapsvc.Router
	store  repository.TrackingStateStore
	locks  repository.LockManager
	log    *slog.Logger
	now    func() time.Time
}

// TrackingSession is one task's live-location sharing lifecycle:
//
//	Idle -> Starting -> Active <-> Degraded -> Stopped
//
// The session is the only writer of its task's published state. Every
// accepted position is appended to the capped history and published, with a
// new version, inside one critical section so readers never see a history
// longer than the cap or out of order.
//
// Go Learning Note — Goroutines Owned by a Struct:
// A session runs three goroutines: the start-up fix chain, the route worker
// and the staleness watchdog. All of them watch the session context and are
// tracked by a WaitGroup, so Stop can cancel them and wait for them before
// clearing the published state.
type TrackingSession struct {
	id          string
	taskID      string
	performerID string
	startedAt   time.Time
	cfg         config.TrackingConfig
	deps        sessionDeps

	mu           sync.Mutex
	state        entities.TrackingState
	destination  *entities.Location
	current      *entities.Location
	history      []entities.LocationHistoryPoint
	route        *entities.RouteInfo
	version      uint64
	lastUpdateAt time.Time
	cancelWatch  func()
	pending      *entities.Location // newest streamed fix seen while Starting

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	routeReq chan entities.Location
	ready    chan struct{}
}

func newTrackingSession(id, taskID, performerID string, destination *entities.Location, baseVersion uint64, cfg config.TrackingConfig, deps sessionDeps) *TrackingSession {
	if deps.now == nil {
		deps.now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TrackingSession{
		id:          id,
		taskID:      taskID,
		performerID: performerID,
		startedAt:   deps.now(),
		cfg:         cfg,
		deps:        deps,
		state:       entities.TrackingIdle,
		destination: destination,
		history:     []entities.LocationHistoryPoint{},
		version:     baseVersion,
		ctx:         ctx,
		cancel:      cancel,
		routeReq:    make(chan entities.Location, 1),
		ready:       make(chan struct{}),
	}
}

func (s *TrackingSession) ID() string          { return s.id }
func (s *TrackingSession) TaskID() string      { return s.taskID }
func (s *TrackingSession) PerformerID() string { return s.performerID }

// Ready is closed once the start-up fix chain has finished, whatever the
// outcome.
func (s *TrackingSession) Ready() <-chan struct{} { return s.ready }

// State returns the current lifecycle state.
func (s *TrackingSession) State() entities.TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start moves the session to Starting and resolves the first fix in the
// background.
func (s *TrackingSession) Start() error {
	s.mu.Lock()
	if err := s.transitionLocked(entities.TrackingStarting); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.ready)
		s.runStartup()
	}()
	return nil
}

func (s *TrackingSession) runStartup() {
	// Watch before the fix chain runs so a push that lands meanwhile is held
	// as pending instead of lost.
	s.mu.Lock()
	if s.state != entities.TrackingStarting {
		s.mu.Unlock()
		return
	}
	s.cancelWatch = s.deps.source.Watch(s.ctx, s.HandleUpdate, s.HandleError)
	s.mu.Unlock()

	loc, source, ok := s.acquireInitialFix(s.ctx)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.state != entities.TrackingStarting {
		s.mu.Unlock()
		return
	}
	pending := s.pending
	s.pending = nil
	if pending != nil && (source == fixCoarse || source == fixAnchor) {
		// A real device fix beats any fallback.
		loc, source, pending = *pending, fixStream, nil
	}
	if source == fixAnchor {
		// The anchor is not a real position: show it, flagged stale, but keep
		// it out of the history trail.
		s.current = &loc
		s.transitionLocked(entities.TrackingDegraded)
		s.publishLocked()
	} else {
		s.transitionLocked(entities.TrackingActive)
		s.ingestLocked(loc)
		if pending != nil && !samePosition(*pending, loc) {
			s.ingestLocked(*pending)
		}
	}
	s.mu.Unlock()

	s.deps.log.Info("tracking session started", "action", "tracking_start",
		"task_id", s.taskID, "session_id", s.id, "fix_source", string(source))

	s.wg.Add(2)
	go s.routeWorker()
	go s.stalenessWatchdog()
}

// samePosition reports whether a and b are the same device fix, as when the
// fix chain and the watch both saw one push.
func samePosition(a, b entities.Location) bool {
	return a.Latitude == b.Latitude && a.Longitude == b.Longitude &&
		a.CapturedAtMillis == b.CapturedAtMillis
}

// acquireInitialFix walks the fallback chain: high accuracy, low accuracy,
// coarse network location, then the configured anchor. ok is false only when
// the session was cancelled meanwhile.
func (s *TrackingSession) acquireInitialFix(ctx context.Context) (entities.Location, fixSource, bool) {
	attempts := []struct {
		source fixSource
		opts   positioning.FixOptions
	}{
		{fixHighAccuracy, positioning.FixOptions{
			HighAccuracy:      true,
			Timeout:           s.cfg.HighAccuracyTimeout,
			MaxAccuracyMeters: s.cfg.HighAccuracyMaxMeters,
			MaxAge:            s.cfg.StaleAfter,
		}},
		{fixLowAccuracy, positioning.FixOptions{
			Timeout: s.cfg.LowAccuracyTimeout,
			MaxAge:  s.cfg.StaleAfter,
		}},
	}

	for _, attempt := range attempts {
		loc, err := s.deps.source.CurrentPosition(ctx, attempt.opts)
		if ctx.Err() != nil {
			return entities.Location{}, "", false
		}
		if err == nil && loc.Valid() {
			return loc, attempt.source, true
		}
		s.logFixFailure(attempt.source, err)
	}

	if s.deps.coarse != nil {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CoarseTimeout)
		loc, err := s.deps.coarse.CoarseLocation(cctx, s.performerID)
		cancel()
		if ctx.Err() != nil {
			return entities.Location{}, "", false
		}
		if err == nil && loc.Valid() {
			return loc, fixCoarse, true
		}
		s.logFixFailure(fixCoarse, err)
	}

	anchor := s.cfg.DefaultAnchor
	return entities.NewLocation(anchor.Latitude, anchor.Longitude).WithAddress(anchor.Address), fixAnchor, true
}

func (s *TrackingSession) logFixFailure(source fixSource, err error) {
	if err == nil {
		err = entities.ErrInvalidLocation
	}
	s.deps.log.Warn("position fix failed, falling back", "action", "tracking_fix",
		"task_id", s.taskID, "fix_source", string(source), "error", err.Error())
}

// HandleUpdate ingests one streamed position. Invalid positions are dropped
// without touching history or publishing.
func (s *TrackingSession) HandleUpdate(loc entities.Location) {
	if err := loc.Validate(); err != nil {
		s.deps.log.Warn("dropping invalid position", "action", "tracking_update",
			"task_id", s.taskID, "lat", loc.Latitude, "lng", loc.Longitude)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == entities.TrackingStarting {
		s.pending = &loc
		return
	}
	if s.state != entities.TrackingActive && s.state != entities.TrackingDegraded {
		return
	}
	if s.state == entities.TrackingDegraded {
		s.transitionLocked(entities.TrackingActive)
	}
	s.ingestLocked(loc)
}

// HandleError reacts to a positioning failure reported by the device. The
// session keeps its last-known position and is marked stale.
func (s *TrackingSession) HandleError(err error) {
	s.deps.log.Warn("positioning error", "action", "tracking_error",
		"task_id", s.taskID, "error", err.Error())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == entities.TrackingActive {
		s.transitionLocked(entities.TrackingDegraded)
		s.publishLocked()
	}
}

// ingestLocked appends, caps, publishes and asks for a fresh route.
func (s *TrackingSession) ingestLocked(loc entities.Location) {
	now := s.deps.now()
	history := make([]entities.LocationHistoryPoint, 0, len(s.history)+1)
	history = append(history, s.history...)
	history = append(history, entities.NewHistoryPoint(loc, now))
	if over := len(history) - s.cfg.HistoryCap; over > 0 {
		history = history[over:]
	}
	s.history = history
	s.current = &loc
	s.lastUpdateAt = now

	s.publishLocked()
	s.requestRoute(loc)
}

func (s *TrackingSession) snapshotLocked() entities.TrackingSnapshot {
	now := s.deps.now()
	staleness := entities.Staleness{
		Stale:        s.state == entities.TrackingDegraded,
		LastUpdateAt: s.lastUpdateAt,
	}
	if !s.lastUpdateAt.IsZero() {
		staleness.AgeSeconds = now.Sub(s.lastUpdateAt).Seconds()
	}
	snap := entities.TrackingSnapshot{
		TaskID:      s.taskID,
		SessionID:   s.id,
		PerformerID: s.performerID,
		Version:     s.version,
		State:       s.state,
		Destination: s.destination,
		Current:     s.current,
		History:     s.history,
		Route:       s.route,
		Staleness:   staleness,
		UpdatedAt:   now,
	}
	return snap.Clone()
}

// Snapshot returns what the session would publish right now.
func (s *TrackingSession) Snapshot() entities.TrackingSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *TrackingSession) publishLocked() {
	s.version++
	snap := s.snapshotLocked()
	if err := s.deps.store.Put(s.ctx, snap); err != nil {
		s.deps.log.Error("publish tracking snapshot failed", "action", "tracking_publish",
			"task_id", s.taskID, "version", snap.Version, "error", err.Error())
	}
}

// requestRoute queues origin for the route worker. Only the newest request
// is kept; a pending older one is replaced.
func (s *TrackingSession) requestRoute(origin entities.Location) {
	if s.deps.router == nil || s.destination == nil {
		return
	}
	select {
	case s.routeReq <- origin:
		return
	default:
	}
	select {
	case <-s.routeReq:
	default:
	}
	select {
	case s.routeReq <- origin:
	default:
	}
}

func (s *TrackingSession) routeWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case origin := <-s.routeReq:
			s.refreshRoute(origin)
		}
	}
}

func (s *TrackingSession) refreshRoute(origin entities.Location) {
	s.mu.Lock()
	dest := s.destination
	s.mu.Unlock()
	if dest == nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RouteTimeout)
	defer cancel()
	route, err := s.deps.router.Route(ctx, origin, *dest)
	if err != nil {
		if s.ctx.Err() == nil {
			s.deps.log.Warn("route lookup failed, keeping previous route", "action", "tracking_route",
				"task_id", s.taskID, "error", err.Error())
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != entities.TrackingActive && s.state != entities.TrackingDegraded {
		return
	}
	now := s.deps.now()
	s.route = &entities.RouteInfo{
		DistanceMeters:   route.DistanceMeters,
		DurationSeconds:  route.DurationSeconds,
		EstimatedArrival: now.Add(time.Duration(route.DurationSeconds * float64(time.Second))),
		Path:             route.Path,
		ComputedAt:       now,
	}
	s.publishLocked()
}

func (s *TrackingSession) stalenessWatchdog() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.CheckStaleness()
			s.renewLease()
		}
	}
}

// renewLease extends the task's owner lease so a session may run past
// OwnerLeaseTTL. The lease only lapses when the watchdog stops ticking.
func (s *TrackingSession) renewLease() {
	if s.deps.locks == nil {
		return
	}
	held, err := s.deps.locks.AcquireLock(s.ctx, leaseKey(s.taskID), s.performerID, s.cfg.OwnerLeaseTTL)
	switch {
	case err != nil:
		if s.ctx.Err() == nil {
			s.deps.log.Warn("renew tracking lease failed", "action", "tracking_lease",
				"task_id", s.taskID, "error", err.Error())
		}
	case !held:
		s.deps.log.Error("tracking lease taken by another owner", "action", "tracking_lease",
			"task_id", s.taskID, "session_id", s.id)
	}
}

// CheckStaleness moves an Active session to Degraded when no update arrived
// within StaleAfter.
func (s *TrackingSession) CheckStaleness() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != entities.TrackingActive {
		return
	}
	if s.deps.now().Sub(s.lastUpdateAt) <= s.cfg.StaleAfter {
		return
	}
	s.deps.log.Warn("position stream stale", "action", "tracking_stale",
		"task_id", s.taskID, "error", entities.ErrStaleData.Error())
	s.transitionLocked(entities.TrackingDegraded)
	s.publishLocked()
}

// Stop cancels the position subscription, waits for the session goroutines
// and then clears the published state. Stopping twice is a no-op.
func (s *TrackingSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == entities.TrackingStopped {
		s.mu.Unlock()
		return nil
	}
	s.transitionLocked(entities.TrackingStopped)
	cancelWatch := s.cancelWatch
	s.cancelWatch = nil
	s.mu.Unlock()

	if cancelWatch != nil {
		cancelWatch()
	}
	s.cancel()
	s.wg.Wait()

	if err := s.deps.store.Clear(ctx, s.taskID); err != nil {
		s.deps.log.Error("clear tracking state failed", "action", "tracking_stop",
			"task_id", s.taskID, "error", err.Error())
		return err
	}
	s.deps.log.Info("tracking session stopped", "action", "tracking_stop",
		"task_id", s.taskID, "session_id", s.id)
	return nil
}

func (s *TrackingSession) transitionLocked(next entities.TrackingState) error {
	if !s.state.CanTransitionTo(next) {
		return entities.ErrInvalidTrackingTransition
	}
	s.state = next
	return nil
}
