package domain

import "github.com/golang/geo/s2"

// EpicentralDistance returns the great-circle distance in degrees between
// two points given in decimal degrees.
func EpicentralDistance(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Degrees()
}
