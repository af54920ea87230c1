package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// Earth radius in kilometers
	EarthRadiusKm = 6371.0
)

// SingaporeBound covers mainland Singapore and its near islands. Boundaries
// outside it come from misprojected source data.
var SingaporeBound = orb.Bound{
	Min: orb.Point{103.59, 1.15},
	Max: orb.Point{104.10, 1.48},
}

// Haversine returns the great-circle distance in kilometers between two
// lng/lat points
func Haversine(a, b orb.Point) float64 {
	lat1 := a.Lat() * math.Pi / 180
	lat2 := b.Lat() * math.Pi / 180
	dLat := (b.Lat() - a.Lat()) * math.Pi / 180
	dLng := (b.Lon() - a.Lon()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// HaversineMeters is Haversine in meters
func HaversineMeters(a, b orb.Point) float64 {
	return Haversine(a, b) * 1000
}

// InSingapore reports whether p falls inside SingaporeBound
func InSingapore(p orb.Point) bool {
	return SingaporeBound.Contains(p)
}
