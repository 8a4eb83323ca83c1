// Package mapsvc holds the geocoding and routing collaborators the tracking
// engine talks to. The engines only see the Geocoder and Router interfaces;
// Client is the HTTP implementation against Nominatim- and OSRM-compatible
// endpoints.
package mapsvc

import (
	"context"
	"errors"

	"campusrun/internal/domain/entities"

	"github.com/paulmach/orb"
)

var (
	ErrNoResult        = errors.New("no geocoding result")
	ErrGeocodeFailure  = errors.New("geocoding failure")
	ErrServiceDisabled = errors.New("map service not configured")
)

// Route is a routing answer: the path in [lng, lat] order plus its length
// and expected travel time.
type Route struct {
	Path            orb.LineString
	DistanceMeters  float64
	DurationSeconds float64
}

// Geocoder resolves addresses to coordinates and back.
type Geocoder interface {
	Forward(ctx context.Context, address string) (entities.Location, error)
	Reverse(ctx context.Context, loc entities.Location) (string, error)
}

// Router computes a travel route between two points. Failures wrap
// entities.ErrRoutingFailure.
type Router interface {
	Route(ctx context.Context, origin, destination entities.Location) (*Route, error)
}
