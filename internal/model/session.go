package model

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "SCHEDULED"
	StatusActive    SessionStatus = "ACTIVE"
	StatusEnded     SessionStatus = "ENDED"
	StatusExpired   SessionStatus = "EXPIRED"
	StatusCancelled SessionStatus = "CANCELLED"
)

// Live reports whether the session still accepts changes.
func (s SessionStatus) Live() bool {
	return s == StatusActive || s == StatusScheduled
}

// Method is how a student proves presence.
type Method string

const (
	MethodQR             Method = "QR"
	MethodManualCode     Method = "MANUAL_CODE"
	MethodLecturerManual Method = "LECTURER_MANUAL"
	MethodAny            Method = "ANY"
)

// Geofence is the acceptable attendance area of a session.
type Geofence struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// Session is one lecture attendance window.
type Session struct {
	ID               string        `db:"id" json:"id"`
	LecturerID       string        `db:"lecturer_id" json:"lecturer_id"`
	UniversityID     string        `db:"university_id" json:"university_id"`
	UnitID           string        `db:"unit_id" json:"unit_id"`
	UnitCode         string        `db:"unit_code" json:"unit_code"`
	UnitName         string        `db:"unit_name" json:"unit_name"`
	AcademicTermID   string        `db:"academic_term_id" json:"academic_term_id"`
	Code             string        `db:"code" json:"code"`
	AllowedMethod    Method        `db:"allowed_method" json:"allowed_method"`
	LocationRequired bool          `db:"location_required" json:"location_required"`
	Latitude         *float64      `db:"latitude" json:"latitude,omitempty"`
	Longitude        *float64      `db:"longitude" json:"longitude,omitempty"`
	RadiusMeters     *float64      `db:"radius_meters" json:"radius_meters,omitempty"`
	ScheduledStart   time.Time     `db:"scheduled_start" json:"scheduled_start"`
	ScheduledEnd     time.Time     `db:"scheduled_end" json:"scheduled_end"`
	DurationMinutes  int           `db:"duration_minutes" json:"duration_minutes"`
	Week             int           `db:"week" json:"week"`
	SessionNumber    int           `db:"session_number" json:"session_number"`
	Status           SessionStatus `db:"status" json:"status"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
	EndedAt          *time.Time    `db:"ended_at" json:"ended_at,omitempty"`

	Programmes []SessionProgramme `db:"-" json:"programmes"`
}

// Fence returns the session geofence, or nil when location is not checked.
func (s *Session) Fence() *Geofence {
	if !s.LocationRequired || s.Latitude == nil || s.Longitude == nil || s.RadiusMeters == nil {
		return nil
	}
	return &Geofence{Latitude: *s.Latitude, Longitude: *s.Longitude, RadiusMeters: *s.RadiusMeters}
}

// SetFence replaces the geofence; nil clears it.
func (s *Session) SetFence(g *Geofence) {
	if g == nil {
		s.LocationRequired = false
		s.Latitude, s.Longitude, s.RadiusMeters = nil, nil, nil
		return
	}
	lat, lon, radius := g.Latitude, g.Longitude, g.RadiusMeters
	s.LocationRequired = true
	s.Latitude, s.Longitude, s.RadiusMeters = &lat, &lon, &radius
}

// Links reports whether programmeID is linked to the session.
func (s *Session) Links(programmeID string) (SessionProgramme, bool) {
	for _, p := range s.Programmes {
		if p.ProgrammeID == programmeID {
			return p, true
		}
	}
	return SessionProgramme{}, false
}

// ProgrammeIDs lists linked programme ids in link order.
func (s *Session) ProgrammeIDs() []string {
	ids := make([]string, 0, len(s.Programmes))
	for _, p := range s.Programmes {
		ids = append(ids, p.ProgrammeID)
	}
	return ids
}

// SessionProgramme links a session to a programme cohort.
type SessionProgramme struct {
	SessionID   string `db:"session_id" json:"-"`
	ProgrammeID string `db:"programme_id" json:"programme_id"`
	YearOfStudy int    `db:"year_of_study" json:"year_of_study"`
	Name        string `db:"name" json:"name"`
	Department  string `db:"department" json:"department"`
}

// AcademicTerm is a teaching period of a university.
type AcademicTerm struct {
	ID           string    `db:"id" json:"id"`
	UniversityID string    `db:"university_id" json:"university_id"`
	Name         string    `db:"name" json:"name"`
	StartsOn     time.Time `db:"starts_on" json:"starts_on"`
	EndsOn       time.Time `db:"ends_on" json:"ends_on"`
	IsActive     bool      `db:"is_active" json:"is_active"`
}

// Unit is a taught course unit.
type Unit struct {
	ID           string `db:"id" json:"id"`
	UniversityID string `db:"university_id" json:"university_id"`
	Code         string `db:"code" json:"code"`
	Name         string `db:"name" json:"name"`
}

// TeachingAssignment allows a lecturer to run sessions of a unit for a programme.
type TeachingAssignment struct {
	LecturerID     string `db:"lecturer_id"`
	UnitID         string `db:"unit_id"`
	ProgrammeID    string `db:"programme_id"`
	AcademicTermID string `db:"academic_term_id"`
}
