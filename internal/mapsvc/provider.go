package mapsvc

import (
	"campusrun/internal/domain/entities"
	"campusrun/internal/geo"
)

// Provider is the map services handle injected into the engines. Distance is
// computed locally; geocoding and routing go to the configured collaborators,
// either of which may be nil when not configured.
type Provider interface {
	DistanceKm(a, b *entities.Location) float64
	Geocoder() Geocoder
	Router() Router
}

type provider struct {
	geocoder Geocoder
	router   Router
}

// NewProvider bundles the collaborators into a Provider.
func NewProvider(geocoder Geocoder, router Router) Provider {
	return &provider{geocoder: geocoder, router: router}
}

func (p *provider) DistanceKm(a, b *entities.Location) float64 { return geo.DistanceKm(a, b) }
func (p *provider) Geocoder() Geocoder                         { return p.geocoder }
func (p *provider) Router() Router                             { return p.router }
