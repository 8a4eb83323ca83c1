package geo

import (
	"math"

	"campusrun/internal/domain/entities"
	"campusrun/pkg/utils"
)

// DistanceKm returns the great-circle distance between a and b in
// kilometers on a 6371 km sphere.
//
// When either side is nil or fails the Location invariant the result is
// +Inf, meaning "not comparable". Callers compare against thresholds, so an
// incomplete task simply never qualifies instead of raising an error.
func DistanceKm(a, b *entities.Location) float64 {
	if !a.Valid() || !b.Valid() {
		return math.Inf(1)
	}
	return utils.HaversineDistance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Comparable reports whether d is a real distance rather than the
// not-comparable sentinel.
func Comparable(d float64) bool {
	return !math.IsInf(d, 0) && !math.IsNaN(d)
}
