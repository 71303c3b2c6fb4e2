// Package geo implements the geofence distance check.
package geo

import (
	"fmt"
	"math"

	"qrattend/internal/apperr"
)

// EarthRadiusMeters is the mean radius of the spherical Earth approximation.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects NaN, infinite and out-of-range coordinates.
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return apperr.New(apperr.InvalidCoordinates, "coordinates must be finite numbers")
	}
	if lat < -90 || lat > 90 {
		return apperr.New(apperr.InvalidCoordinates, fmt.Sprintf("latitude %.6f out of range", lat))
	}
	if lon < -180 || lon > 180 {
		return apperr.New(apperr.InvalidCoordinates, fmt.Sprintf("longitude %.6f out of range", lon))
	}
	return nil
}

// DistanceMeters returns the haversine great-circle distance between two coordinates.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) (float64, error) {
	if err := Validate(lat1, lon1); err != nil {
		return 0, err
	}
	if err := Validate(lat2, lon2); err != nil {
		return 0, err
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c, nil
}

// Distance is DistanceMeters for two Points.
func Distance(a, b Point) (float64, error) {
	return DistanceMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// WithinRadius reports whether distance lies inside radius. A distance equal to the
// radius is inside.
func WithinRadius(distance, radius float64) bool {
	return !(distance > radius)
}
