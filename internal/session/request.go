package session

import (
	"strconv"
	"time"

	"rollcall/internal/apperr"
	"rollcall/internal/model"
)

const (
	MaxProgrammes   = 10
	MinRadiusMeters = 1.0
	MaxRadiusMeters = 1000.0
)

// ProgrammeLink requests that a programme cohort attend the session.
type ProgrammeLink struct {
	ProgrammeID string `json:"programme_id" validate:"required,uuid"`
	YearOfStudy int    `json:"year_of_study" validate:"min=1,max=10"`
}

// StartRequest opens a new session.
type StartRequest struct {
	UniversityID     string          `json:"university_id" validate:"required,uuid"`
	UnitID           string          `json:"unit_id" validate:"required,uuid"`
	Programmes       []ProgrammeLink `json:"programmes" validate:"required,min=1,max=10,unique=ProgrammeID,dive"`
	AllowedMethod    model.Method    `json:"allowed_method" validate:"omitempty,oneof=QR MANUAL_CODE LECTURER_MANUAL ANY"`
	LocationRequired bool            `json:"location_required"`
	Geofence         *model.Geofence `json:"geofence"`
	DurationMinutes  int             `json:"duration_minutes" validate:"min=1,max=240"`

	// StartTime schedules the session; nil or a past time starts it now.
	StartTime *time.Time `json:"start_time"`
}

// Patch changes a live session. Absent fields are left alone.
type Patch struct {
	AllowedMethod    model.Optional[model.Method]    `json:"allowed_method"`
	LocationRequired model.Optional[bool]            `json:"location_required"`
	Latitude         model.Optional[float64]         `json:"latitude"`
	Longitude        model.Optional[float64]         `json:"longitude"`
	RadiusMeters     model.Optional[float64]         `json:"radius_meters"`
	DurationMinutes  model.Optional[int]             `json:"duration_minutes"`
	StartTime        model.Optional[time.Time]       `json:"start_time"`
	Programmes       model.Optional[[]ProgrammeLink] `json:"programmes"`
}

func (p Patch) touchesGeofence() bool {
	return p.LocationRequired.Set || p.Latitude.Set || p.Longitude.Set || p.RadiusMeters.Set
}

func (p Patch) empty() bool {
	return !p.AllowedMethod.Set && !p.touchesGeofence() && !p.DurationMinutes.Set &&
		!p.StartTime.Set && !p.Programmes.Set
}

// validateGeofence checks a complete fence. Field names are prefixed with prefix.
func validateGeofence(prefix string, lat, lon, radius *float64) []apperr.FieldError {
	var fields []apperr.FieldError
	check := func(name string, v *float64, lo, hi float64) {
		switch {
		case v == nil:
			fields = append(fields, apperr.FieldError{Field: prefix + name, Error: "this field is required"})
		case *v < lo || *v > hi:
			fields = append(fields, apperr.FieldError{Field: prefix + name, Error: rangeMessage(lo, hi)})
		}
	}
	check("latitude", lat, -90, 90)
	check("longitude", lon, -180, 180)
	check("radius_meters", radius, MinRadiusMeters, MaxRadiusMeters)
	return fields
}

func rangeMessage(lo, hi float64) string {
	return "must be between " + strconv.FormatFloat(lo, 'f', -1, 64) + " and " + strconv.FormatFloat(hi, 'f', -1, 64)
}
