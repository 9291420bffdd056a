package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rollcall/internal/model"
)

func TestDistance(t *testing.T) {
	t.Run("zero for identical points", func(t *testing.T) {
		assert.Equal(t, 0.0, Distance(-1.2921, 36.8219, -1.2921, 36.8219))
	})

	t.Run("symmetric", func(t *testing.T) {
		pairs := [][4]float64{
			{0, 0, 0, 0.0003},
			{-1.2921, 36.8219, -1.3, 36.83},
			{51.5, -0.12, 48.85, 2.35},
			{89.9, 179.9, -89.9, -179.9},
		}
		for _, p := range pairs {
			assert.InDelta(t, Distance(p[0], p[1], p[2], p[3]), Distance(p[2], p[3], p[0], p[1]), 1e-6)
		}
	})

	t.Run("known distances along the equator", func(t *testing.T) {
		assert.InDelta(t, 33.36, Distance(0, 0, 0, 0.0003), 0.05)
		assert.InDelta(t, 77.84, Distance(0, 0, 0, 0.0007), 0.05)
		assert.InDelta(t, 222.39, Distance(0, 0, 0, 0.002), 0.05)
	})
}

func TestCheckLocation(t *testing.T) {
	fence := model.Geofence{Latitude: 0, Longitude: 0, RadiusMeters: 50}

	testCases := []struct {
		name    string
		lat     float64
		lon     float64
		outcome Outcome
	}{
		{name: "center", lat: 0, lon: 0, outcome: Verified},
		{name: "inside radius, about 33m", lat: 0, lon: 0.0003, outcome: Verified},
		{name: "grace band, about 55m", lat: 0.0005, lon: 0, outcome: Flagged},
		{name: "past the grace band, about 78m", lat: 0, lon: 0.0007, outcome: Rejected},
		{name: "far away, about 222m", lat: 0, lon: 0.002, outcome: Rejected},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := CheckLocation(fence, tc.lat, tc.lon)
			assert.Equal(t, tc.outcome, got.Outcome, "distance %.2f", got.DistanceMeters)
		})
	}
}

func TestCheckLocationBands(t *testing.T) {
	// One degree of longitude on the equator in meters.
	perDegree := Distance(0, 0, 0, 1)

	for _, radius := range []float64{1, 25, 50, 300, 1000} {
		fence := model.Geofence{RadiusMeters: radius}
		at := func(meters float64) Outcome {
			return CheckLocation(fence, 0, meters/perDegree).Outcome
		}
		assert.Equal(t, Verified, at(radius*0.99), "radius %v", radius)
		assert.Equal(t, Flagged, at(radius+1), "radius %v", radius)
		assert.Equal(t, Flagged, at(radius+19.5), "radius %v", radius)
		assert.Equal(t, Rejected, at(radius+20.5), "radius %v", radius)
		assert.Equal(t, Rejected, at(radius+500), "radius %v", radius)
	}
}
