package positioning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"campusrun/internal/domain/entities"
)

// Provider tags where a pushed fix came from.
type Provider string

const (
	ProviderGPS     Provider = "gps"
	ProviderNetwork Provider = "network"
)

type watcher struct {
	onUpdate func(entities.Location)
	onError  func(error)
}

type feed struct {
	mu         sync.Mutex
	last       *entities.Location
	lastAt     time.Time
	lastCoarse *entities.Location
	watchers   map[uint64]watcher

	// deliverMu keeps deliveries for one performer in push order.
	deliverMu sync.Mutex
}

// Hub fans pushed device positions out to the sessions watching each
// performer. It implements SourceProvider and CoarseLocator.
//
// Go Learning Note — Callback Fan-out:
// Watchers are snapshotted under the feed lock and invoked after releasing
// it, so a watcher may cancel itself from inside its own callback.
type Hub struct {
	mu     sync.Mutex
	feeds  map[string]*feed
	nextID uint64
	now    func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		feeds: make(map[string]*feed),
		now:   time.Now,
	}
}

func (h *Hub) feed(performerID string) *feed {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[performerID]
	if !ok {
		f = &feed{watchers: make(map[uint64]watcher)}
		h.feeds[performerID] = f
	}
	return f
}

func (h *Hub) id() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

// Push records a device fix and delivers it to the performer's watchers.
// Invalid coordinates are rejected before anything sees them.
func (h *Hub) Push(performerID string, loc entities.Location, provider Provider) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	f := h.feed(performerID)

	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	fix := loc
	if provider == ProviderNetwork {
		f.lastCoarse = &fix
	} else {
		f.last = &fix
		f.lastAt = h.now()
	}
	watchers := snapshotWatchers(f)
	f.mu.Unlock()

	for _, w := range watchers {
		w.onUpdate(loc)
	}
	return nil
}

// ReportError forwards a device-side failure (permission revoked, no signal)
// to the performer's watchers.
func (h *Hub) ReportError(performerID string, err error) {
	f := h.feed(performerID)

	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	watchers := snapshotWatchers(f)
	f.mu.Unlock()

	for _, w := range watchers {
		if w.onError != nil {
			w.onError(err)
		}
	}
}

// CoarseLocation returns the last network-derived position the performer's
// device reported.
func (h *Hub) CoarseLocation(ctx context.Context, performerID string) (entities.Location, error) {
	f := h.feed(performerID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastCoarse == nil {
		return entities.Location{}, entities.ErrPositionUnavailable
	}
	return *f.lastCoarse, nil
}

// SourceFor returns the Source for one performer.
func (h *Hub) SourceFor(performerID string) Source {
	return &performerSource{hub: h, performerID: performerID}
}

func snapshotWatchers(f *feed) []watcher {
	out := make([]watcher, 0, len(f.watchers))
	for _, w := range f.watchers {
		out = append(out, w)
	}
	return out
}

type performerSource struct {
	hub         *Hub
	performerID string
}

func acceptable(loc entities.Location, opts FixOptions) bool {
	if opts.MaxAccuracyMeters <= 0 {
		return true
	}
	return loc.AccuracyMeters != nil && *loc.AccuracyMeters <= opts.MaxAccuracyMeters
}

// CurrentPosition answers from a recent cached fix when opts allows it,
// otherwise waits for the next acceptable push until the timeout.
func (s *performerSource) CurrentPosition(ctx context.Context, opts FixOptions) (entities.Location, error) {
	f := s.hub.feed(s.performerID)

	f.mu.Lock()
	if opts.MaxAge > 0 && f.last != nil && s.hub.now().Sub(f.lastAt) <= opts.MaxAge && acceptable(*f.last, opts) {
		fix := *f.last
		f.mu.Unlock()
		return fix, nil
	}
	f.mu.Unlock()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	fixes := make(chan entities.Location, 1)
	failures := make(chan error, 1)
	stop := s.Watch(ctx, func(loc entities.Location) {
		if !acceptable(loc, opts) {
			return
		}
		select {
		case fixes <- loc:
		default:
		}
	}, func(err error) {
		select {
		case failures <- err:
		default:
		}
	})
	defer stop()

	select {
	case loc := <-fixes:
		return loc, nil
	case err := <-failures:
		return entities.Location{}, err
	case <-ctx.Done():
		return entities.Location{}, fmt.Errorf("%w: %v", entities.ErrPositionUnavailable, ctx.Err())
	}
}

func (s *performerSource) Watch(ctx context.Context, onUpdate func(entities.Location), onError func(error)) func() {
	f := s.hub.feed(s.performerID)
	id := s.hub.id()

	f.mu.Lock()
	f.watchers[id] = watcher{onUpdate: onUpdate, onError: onError}
	f.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			f.mu.Lock()
			delete(f.watchers, id)
			f.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return cancel
}

// WatcherCount reports how many watchers a performer has.
func (h *Hub) WatcherCount(performerID string) int {
	f := h.feed(performerID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}
