// Package geofence holds the geometry and the server-supplied geofencing
// context used to pre-validate check-ins.
package geofence

import (
	"math"

	"attendance/internal/types"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the haversine great-circle distance between two
// WGS84 points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	// Rounding can push a marginally above 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// OfficeMatch is the result of locating a sample relative to the offices.
type OfficeMatch struct {
	Office         types.Office
	DistanceMeters float64
	// Inside is true when the sample lies within Office.RadiusMeters.
	Inside bool
}

// NearestOffice finds the closest office whose radius contains (lat, lon).
// If none contains it, the closest office overall is returned with Inside
// false. ok is false only when offices is empty.
func NearestOffice(lat, lon float64, offices []types.Office) (match OfficeMatch, ok bool) {
	var nearest, nearestInside *OfficeMatch
	for _, o := range offices {
		d := DistanceMeters(lat, lon, o.Latitude, o.Longitude)
		m := OfficeMatch{Office: o, DistanceMeters: d, Inside: d <= o.RadiusMeters}
		if nearest == nil || d < nearest.DistanceMeters {
			cp := m
			nearest = &cp
		}
		if m.Inside && (nearestInside == nil || d < nearestInside.DistanceMeters) {
			cp := m
			nearestInside = &cp
		}
	}
	switch {
	case nearestInside != nil:
		return *nearestInside, true
	case nearest != nil:
		return *nearest, true
	default:
		return OfficeMatch{}, false
	}
}
