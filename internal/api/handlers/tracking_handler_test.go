package handlers

import (
	"errors"
	"testing"
	"time"

	"campusrun/internal/domain/entities"

	"github.com/paulmach/orb"
)

func float(v float64) *float64 { return &v }

func TestDestinationRequest_Location(t *testing.T) {
	tests := []struct {
		name    string
		req     DestinationRequest
		wantErr bool
		wantLat float64
		addr    string
	}{
		{"coordinates", DestinationRequest{Lat: float(42.28), Lng: float(-83.74)}, false, 42.28, ""},
		{"coordinates and address", DestinationRequest{Lat: float(42.28), Lng: float(-83.74), Address: "Union"}, false, 42.28, "Union"},
		{"address only", DestinationRequest{Address: "Main Library"}, false, 0, "Main Library"},
		{"empty", DestinationRequest{}, true, 0, ""},
		{"latitude only", DestinationRequest{Lat: float(42.28)}, true, 0, ""},
		{"out of range", DestinationRequest{Lat: float(91), Lng: float(0)}, true, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := tt.req.location()
			if tt.wantErr {
				if !errors.Is(err, entities.ErrInvalidLocation) {
					t.Fatalf("Expected ErrInvalidLocation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if loc.Address != tt.addr {
				t.Errorf("Expected address %q, got %q", tt.addr, loc.Address)
			}
			if tt.req.Lat != nil && loc.Latitude != tt.wantLat {
				t.Errorf("Expected latitude %v, got %v", tt.wantLat, loc.Latitude)
			}
		})
	}
}

func TestRouteCollection(t *testing.T) {
	current := entities.NewLocation(42.2780, -83.7382)
	dest := entities.NewLocation(42.2810, -83.7430).WithAddress("Main Library")
	snap := entities.TrackingSnapshot{
		TaskID:      "t1",
		State:       entities.TrackingActive,
		Current:     &current,
		Destination: &dest,
		Route: &entities.RouteInfo{
			DistanceMeters:   620,
			DurationSeconds:  480,
			EstimatedArrival: time.Date(2026, 3, 2, 14, 8, 0, 0, time.UTC),
			Path:             orb.LineString{{-83.7382, 42.2780}, {-83.7400, 42.2795}, {-83.7430, 42.2810}},
		},
	}

	fc := routeCollection(snap)
	if len(fc.Features) != 3 {
		t.Fatalf("Expected 3 features, got %d", len(fc.Features))
	}

	line, ok := fc.Features[0].Geometry.(orb.LineString)
	if !ok || len(line) != 3 {
		t.Fatalf("Expected a 3-point route line, got %#v", fc.Features[0].Geometry)
	}
	if fc.Features[0].Properties["estimated_arrival"] != "2026-03-02T14:08:00Z" {
		t.Errorf("Unexpected ETA property %v", fc.Features[0].Properties["estimated_arrival"])
	}

	point, ok := fc.Features[1].Geometry.(orb.Point)
	if !ok || point.Lon() != -83.7382 || point.Lat() != 42.2780 {
		t.Errorf("Expected current point in lng/lat order, got %#v", fc.Features[1].Geometry)
	}
	if fc.Features[2].Properties["kind"] != "destination" || fc.Features[2].Properties["address"] != "Main Library" {
		t.Errorf("Unexpected destination properties %v", fc.Features[2].Properties)
	}

	body, err := fc.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if len(body) == 0 {
		t.Error("Expected a non-empty GeoJSON body")
	}
}

func TestRouteCollection_WithoutPoints(t *testing.T) {
	snap := entities.TrackingSnapshot{
		Route: &entities.RouteInfo{Path: orb.LineString{{0, 0}, {0.01, 0.01}}},
	}
	if got := len(routeCollection(snap).Features); got != 1 {
		t.Errorf("Expected only the route feature, got %d", got)
	}
}
