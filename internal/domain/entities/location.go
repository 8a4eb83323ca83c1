// Package entities defines the domain values shared by the pricing, bundling
// and tracking engines. Nothing in here talks to a database, HTTP or a
// mapping provider; the types are plain data plus their invariants.
package entities

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidLocation is returned when a coordinate fails the Location
// invariant. Invalid coordinates are rejected at ingress and are never
// stored or published.
var ErrInvalidLocation = errors.New("invalid location")

// Location is a geographic coordinate with optional device metadata.
//
// Location is a value type and is never mutated after construction. The
// optional numeric fields are pointers so that "not reported" and "zero" stay
// distinguishable when a device sends a fix without speed or heading.
type Location struct {
	Latitude         float64  `json:"lat"`
	Longitude        float64  `json:"lng"`
	Address          string   `json:"address,omitempty"`
	AccuracyMeters   *float64 `json:"accuracy_meters,omitempty"`
	CapturedAtMillis int64    `json:"captured_at_millis,omitempty"`
	Speed            *float64 `json:"speed,omitempty"`
	Heading          *float64 `json:"heading,omitempty"`
}

// NewLocation creates a Location value from latitude and longitude.
func NewLocation(lat, lng float64) Location {
	return Location{
		Latitude:  lat,
		Longitude: lng,
	}
}

// Valid reports whether the coordinate is finite and inside
// lat [-90,90], lng [-180,180]. A nil location is never valid.
func (l *Location) Valid() bool {
	if l == nil {
		return false
	}
	if math.IsNaN(l.Latitude) || math.IsInf(l.Latitude, 0) {
		return false
	}
	if math.IsNaN(l.Longitude) || math.IsInf(l.Longitude, 0) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// Validate is Valid in error form, for callers that propagate the reason.
func (l *Location) Validate() error {
	if !l.Valid() {
		return ErrInvalidLocation
	}
	return nil
}

// AddressOnly builds a Location whose coordinates are not known yet. It is
// never Valid; services resolve it with a geocoder before use.
func AddressOnly(address string) Location {
	return Location{Latitude: math.NaN(), Longitude: math.NaN(), Address: address}
}

// NeedsGeocoding reports whether l carries only an address.
func (l *Location) NeedsGeocoding() bool {
	return l != nil && !l.Valid() && l.Address != ""
}

// WithAddress returns a copy of l carrying the given address.
func (l Location) WithAddress(address string) Location {
	l.Address = address
	return l
}

// WithAccuracy returns a copy of l with the given accuracy radius in meters.
func (l Location) WithAccuracy(meters float64) Location {
	l.AccuracyMeters = &meters
	return l
}

// CapturedAt returns the device capture time, or fallback when the device
// did not report one.
func (l Location) CapturedAt(fallback time.Time) time.Time {
	if l.CapturedAtMillis <= 0 {
		return fallback
	}
	return time.UnixMilli(l.CapturedAtMillis)
}

// LocationHistoryPoint is one retained entry of a tracking session's trail.
// History is append-only within a session and capped with FIFO eviction.
type LocationHistoryPoint struct {
	Latitude         float64  `json:"lat"`
	Longitude        float64  `json:"lng"`
	CapturedAtMillis int64    `json:"captured_at_millis"`
	Speed            *float64 `json:"speed,omitempty"`
	Heading          *float64 `json:"heading,omitempty"`
}

// NewHistoryPoint projects a location into a history entry. When the device
// did not stamp the fix, receivedAt is used as the capture time.
func NewHistoryPoint(loc Location, receivedAt time.Time) LocationHistoryPoint {
	return LocationHistoryPoint{
		Latitude:         loc.Latitude,
		Longitude:        loc.Longitude,
		CapturedAtMillis: loc.CapturedAt(receivedAt).UnixMilli(),
		Speed:            loc.Speed,
		Heading:          loc.Heading,
	}
}
