package geo

import (
	"math"
	"testing"

	"campusrun/internal/domain/entities"
)

func loc(lat, lng float64) *entities.Location {
	l := entities.NewLocation(lat, lng)
	return &l
}

func TestDistanceKm_Identity(t *testing.T) {
	points := []*entities.Location{
		loc(0, 0),
		loc(42.2780, -83.7382),
		loc(-90, 180),
		loc(89.9999, -179.9999),
	}
	for _, p := range points {
		if d := DistanceKm(p, p); d != 0 {
			t.Errorf("DistanceKm(a, a) = %v for %+v, want 0", d, *p)
		}
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	a, b := loc(42.2780, -83.7382), loc(42.2936, -83.7166)
	if DistanceKm(a, b) != DistanceKm(b, a) {
		t.Errorf("Expected symmetric distances, got %v and %v", DistanceKm(a, b), DistanceKm(b, a))
	}
}

func TestDistanceKm_NotComparable(t *testing.T) {
	valid := loc(42.2780, -83.7382)
	tests := []struct {
		name string
		a, b *entities.Location
	}{
		{name: "Nil first", a: nil, b: valid},
		{name: "Nil second", a: valid, b: nil},
		{name: "Latitude out of range", a: loc(91, 0), b: valid},
		{name: "Longitude out of range", a: valid, b: loc(0, -180.5)},
		{name: "NaN", a: loc(math.NaN(), 0), b: valid},
		{name: "Infinite", a: valid, b: loc(0, math.Inf(1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DistanceKm(tt.a, tt.b)
			if !math.IsInf(d, 1) {
				t.Errorf("DistanceKm() = %v, want +Inf", d)
			}
			if Comparable(d) {
				t.Error("Expected sentinel distance to be not comparable")
			}
		})
	}
}
