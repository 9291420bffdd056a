// Package verify holds the pure attendance checks: distance from a geofence
// and position relative to a session's schedule.
package verify

import (
	"math"

	"rollcall/internal/model"
)

// EarthRadiusMeters is the fixed sphere radius used for great-circle distance.
const EarthRadiusMeters = 6371000.0

// LocationGraceMeters is how far past the radius a submission is still accepted, flagged.
const LocationGraceMeters = 20.0

// Outcome is the decision of a graded check.
type Outcome int

const (
	Verified Outcome = iota
	Flagged
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case Flagged:
		return "flagged"
	default:
		return "rejected"
	}
}

// Distance returns the haversine distance in meters between two points given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// LocationResult is the outcome of a geofence check.
type LocationResult struct {
	Outcome        Outcome
	DistanceMeters float64
}

// CheckLocation classifies a submitted point against a geofence.
func CheckLocation(fence model.Geofence, lat, lon float64) LocationResult {
	d := Distance(fence.Latitude, fence.Longitude, lat, lon)
	res := LocationResult{DistanceMeters: d}
	switch {
	case d <= fence.RadiusMeters:
		res.Outcome = Verified
	case d <= fence.RadiusMeters+LocationGraceMeters:
		res.Outcome = Flagged
	default:
		res.Outcome = Rejected
	}
	return res
}
