package entities

import (
	"errors"
	"time"

	"github.com/paulmach/orb"
)

// TrackingState is the lifecycle state of a live-location sharing session.
//
//	Idle -> Starting -> Active <-> Degraded -> Stopped
//	  (every non-terminal state can also move straight to Stopped)
type TrackingState string

const (
	TrackingIdle     TrackingState = "idle"
	TrackingStarting TrackingState = "starting"
	TrackingActive   TrackingState = "active"
	TrackingDegraded TrackingState = "degraded"
	TrackingStopped  TrackingState = "stopped"
)

var ErrInvalidTrackingTransition = errors.New("invalid tracking state transition")

// Positioning and routing failures. None of them end a session: the fix
// chain, the last-known position or the previous route is used instead.
var (
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrRoutingFailure      = errors.New("routing failure")
	ErrStaleData           = errors.New("no position update within the expected interval")
)

// Starting may go straight to Degraded when every fix attempt failed and the
// session fell back to the default anchor.
var validTrackingTransitions = map[TrackingState][]TrackingState{
	TrackingIdle:     {TrackingStarting, TrackingStopped},
	TrackingStarting: {TrackingActive, TrackingDegraded, TrackingStopped},
	TrackingActive:   {TrackingDegraded, TrackingStopped},
	TrackingDegraded: {TrackingActive, TrackingStopped},
	TrackingStopped:  {},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s TrackingState) CanTransitionTo(next TrackingState) bool {
	for _, allowed := range validTrackingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Live reports whether the session is still ingesting positions.
func (s TrackingState) Live() bool {
	return s == TrackingStarting || s == TrackingActive || s == TrackingDegraded
}

// RouteInfo is the last successful routing answer for a session. A failed
// lookup never replaces it.
type RouteInfo struct {
	DistanceMeters   float64        `json:"distance_meters"`
	DurationSeconds  float64        `json:"duration_seconds"`
	EstimatedArrival time.Time      `json:"estimated_arrival"`
	Path             orb.LineString `json:"path,omitempty"`
	ComputedAt       time.Time      `json:"computed_at"`
}

// Staleness tells readers how fresh the published position is.
type Staleness struct {
	Stale        bool      `json:"stale"`
	LastUpdateAt time.Time `json:"last_update_at,omitempty"`
	AgeSeconds   float64   `json:"age_seconds"`
}

// TrackingSnapshot is the document published to the shared state store,
// keyed by task id. Current and History are always published together.
//
// Version increases by one on every publish of a session. Stores reject a
// snapshot whose version is not greater than the stored one.
type TrackingSnapshot struct {
	TaskID      string                 `json:"task_id"`
	SessionID   string                 `json:"session_id,omitempty"`
	PerformerID string                 `json:"performer_id,omitempty"`
	Version     uint64                 `json:"version"`
	State       TrackingState          `json:"state"`
	Destination *Location              `json:"destination,omitempty"`
	Current     *Location              `json:"current,omitempty"`
	History     []LocationHistoryPoint `json:"history"`
	Route       *RouteInfo             `json:"route,omitempty"`
	Staleness   Staleness              `json:"staleness"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// EmptySnapshot is what readers see for a task nobody is tracking.
func EmptySnapshot(taskID string) TrackingSnapshot {
	return TrackingSnapshot{
		TaskID:  taskID,
		State:   TrackingIdle,
		History: []LocationHistoryPoint{},
	}
}

// ClearedSnapshot is delivered to live subscribers when a session stops.
func ClearedSnapshot(taskID string, at time.Time) TrackingSnapshot {
	return TrackingSnapshot{
		TaskID:    taskID,
		State:     TrackingStopped,
		History:   []LocationHistoryPoint{},
		UpdatedAt: at,
	}
}

// Clone returns a deep copy so publishers and readers never share the
// history backing array.
func (s TrackingSnapshot) Clone() TrackingSnapshot {
	out := s
	out.History = make([]LocationHistoryPoint, len(s.History))
	copy(out.History, s.History)
	if s.Current != nil {
		cur := *s.Current
		out.Current = &cur
	}
	if s.Destination != nil {
		dst := *s.Destination
		out.Destination = &dst
	}
	if s.Route != nil {
		route := *s.Route
		route.Path = append(orb.LineString(nil), s.Route.Path...)
		out.Route = &route
	}
	return out
}
