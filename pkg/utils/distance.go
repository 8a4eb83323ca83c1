package utils

import (
	"math"
)

const (
	// EarthRadiusKm is the mean Earth radius used by every distance in the
	// engine. Prices and bundles depend on it, so it must not change silently.
	EarthRadiusKm = 6371.0

	// MilesPerKm converts kilometers to statute miles.
	MilesPerKm = 0.621371
)

// HaversineDistance calculates the great-circle distance between two points
// in kilometers.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	// Rounding can push a a hair above 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// KmToMiles converts a distance in kilometers to miles.
func KmToMiles(km float64) float64 {
	return km * MilesPerKm
}
