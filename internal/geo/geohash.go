// Package geo holds the distance engine and a geohash-backed index of open
// tasks used to preselect bundling candidates near a requester.
//
// A geohash encodes a latitude/longitude pair into a short base32 string.
// Nearby points share a prefix, so "which tasks are near me" becomes a
// lookup over a handful of cells instead of a scan over every task.
//
// Cell size by precision (at the equator; longitude width shrinks with
// cos(lat)):
//
//	1 -> ~5000 km    4 -> ~39 km     7 -> ~153 m
//	2 -> ~1250 km    5 -> ~4.9 km    8 -> ~38 m
//	3 -> ~156 km     6 -> ~1.2 km    9 -> ~4.8 m
package geo

import (
	"math"
	"strings"
)

const (
	base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

	// DefaultPrecision is used when a caller passes a precision <= 0.
	DefaultPrecision = 6
	maxPrecision     = 12
)

var base32Index [256]int8

func init() {
	for i := range base32Index {
		base32Index[i] = -1
	}
	for i := 0; i < len(base32); i++ {
		base32Index[base32[i]] = int8(i)
	}
}

func clampPrecision(precision int) int {
	if precision <= 0 {
		return DefaultPrecision
	}
	if precision > maxPrecision {
		return maxPrecision
	}
	return precision
}

// Encode converts latitude and longitude to a geohash of the given precision.
// Bits alternate longitude/latitude, starting with longitude; every five
// bits become one base32 character.
func Encode(lat, lon float64, precision int) string {
	precision = clampPrecision(precision)

	minLat, maxLat := -90.0, 90.0
	minLon, maxLon := -180.0, 180.0

	var hash strings.Builder
	hash.Grow(precision)
	even := true
	bit, ch := 0, 0

	for hash.Len() < precision {
		if even {
			mid := (minLon + maxLon) / 2
			if lon >= mid {
				ch |= 1 << (4 - bit)
				minLon = mid
			} else {
				maxLon = mid
			}
		} else {
			mid := (minLat + maxLat) / 2
			if lat >= mid {
				ch |= 1 << (4 - bit)
				minLat = mid
			} else {
				maxLat = mid
			}
		}
		even = !even
		if bit++; bit == 5 {
			hash.WriteByte(base32[ch])
			bit, ch = 0, 0
		}
	}

	return hash.String()
}

// box is the bounding box of a geohash cell.
type box struct {
	minLat, maxLat float64
	minLon, maxLon float64
}

func (b box) center() (lat, lon float64) {
	return (b.minLat + b.maxLat) / 2, (b.minLon + b.maxLon) / 2
}

// decodeBox replays the bisection encoded in hash. Characters outside the
// geohash alphabet are skipped.
func decodeBox(hash string) box {
	b := box{minLat: -90, maxLat: 90, minLon: -180, maxLon: 180}
	even := true

	for i := 0; i < len(hash); i++ {
		cd := base32Index[strings.ToLower(hash[i:i+1])[0]]
		if cd < 0 {
			continue
		}
		for j := 4; j >= 0; j-- {
			set := (cd>>j)&1 == 1
			if even {
				mid := (b.minLon + b.maxLon) / 2
				if set {
					b.minLon = mid
				} else {
					b.maxLon = mid
				}
			} else {
				mid := (b.minLat + b.maxLat) / 2
				if set {
					b.minLat = mid
				} else {
					b.maxLat = mid
				}
			}
			even = !even
		}
	}
	return b
}

// Decode returns the center of the cell encoded by hash.
func Decode(hash string) (lat, lon float64) {
	return decodeBox(hash).center()
}

// CellSpan returns the height and width of a cell in degrees.
func CellSpan(precision int) (latDeg, lonDeg float64) {
	bits := 5 * clampPrecision(precision)
	lonBits := (bits + 1) / 2
	latBits := bits / 2
	return 180 / math.Exp2(float64(latBits)), 360 / math.Exp2(float64(lonBits))
}

// Direction names a neighboring cell.
type Direction string

const (
	North Direction = "n"
	South Direction = "s"
	East  Direction = "e"
	West  Direction = "w"
)

// Neighbor returns the geohash of the adjacent cell in direction dir, at the
// same precision. Longitude wraps at the antimeridian; past a pole the hash
// itself is returned.
func Neighbor(hash string, dir Direction) string {
	if hash == "" {
		return ""
	}
	b := decodeBox(hash)
	lat, lon := b.center()
	latSpan, lonSpan := b.maxLat-b.minLat, b.maxLon-b.minLon

	switch dir {
	case North:
		lat += latSpan
	case South:
		lat -= latSpan
	case East:
		lon += lonSpan
	case West:
		lon -= lonSpan
	default:
		return hash
	}

	if lat > 90 || lat < -90 {
		return hash
	}
	if lon >= 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	return Encode(lat, lon, len(hash))
}

// AllNeighbors returns the center cell followed by its 8 neighbors. Near a
// pole some entries repeat the center.
func AllNeighbors(hash string) []string {
	n, s := Neighbor(hash, North), Neighbor(hash, South)
	return []string{
		hash,
		n,
		s,
		Neighbor(hash, East),
		Neighbor(hash, West),
		Neighbor(n, East),
		Neighbor(n, West),
		Neighbor(s, East),
		Neighbor(s, West),
	}
}

// SearchPrecision picks the finest precision up to finest whose
// cells around lat are at least radiusKm tall and wide. A 3x3 block of such
// cells always covers a circle of radiusKm around any point in the center
// cell.
func SearchPrecision(lat, radiusKm float64, finest int) int {
	const kmPerDegree = 111.195
	cosLat := math.Cos(lat * math.Pi / 180)
	for p := clampPrecision(finest); p > 1; p-- {
		latDeg, lonDeg := CellSpan(p)
		if latDeg*kmPerDegree >= radiusKm && lonDeg*kmPerDegree*cosLat >= radiusKm {
			return p
		}
	}
	return 1
}
