package model

import "time"

// AttendanceRecord is one student's attendance evidence for one session.
type AttendanceRecord struct {
	ID               string    `db:"id" json:"id"`
	SessionID        string    `db:"session_id" json:"session_id"`
	StudentID        string    `db:"student_id" json:"student_id"`
	Method           Method    `db:"method" json:"method"`
	Latitude         *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude        *float64  `db:"longitude" json:"longitude,omitempty"`
	DistanceMeters   *float64  `db:"distance_meters" json:"distance_meters,omitempty"`
	DeviceID         string    `db:"device_id" json:"device_id"`
	DeviceMatched    bool      `db:"device_matched" json:"device_matched"`
	IsSuspicious     bool      `db:"is_suspicious" json:"is_suspicious"`
	SuspiciousReason string    `db:"suspicious_reason" json:"suspicious_reason,omitempty"`
	MarkedAt         time.Time `db:"marked_at" json:"marked_at"`
}

// FlagType names a soft verification failure.
type FlagType string

const (
	FlagLocationMismatch      FlagType = "LOCATION_MISMATCH"
	FlagOutsideScheduleWindow FlagType = "OUTSIDE_SCHEDULE_WINDOW"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Flag is raised by a graded check that passed inside its grace band.
type Flag struct {
	Type     FlagType `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// StudentAttendance is the roster line shown on the live view.
type StudentAttendance struct {
	StudentID          string    `db:"student_id" json:"student_id"`
	RegistrationNumber string    `db:"registration_number" json:"registration_number"`
	FullName           string    `db:"full_name" json:"full_name"`
	MarkedAt           time.Time `db:"marked_at" json:"marked_at"`
	IsSuspicious       bool      `db:"is_suspicious" json:"is_suspicious"`
	SuspiciousReason   string    `db:"suspicious_reason" json:"suspicious_reason,omitempty"`
}

// RosterEntry joins an attendance line with one active enrollment of the student.
type RosterEntry struct {
	StudentAttendance
	ProgrammeID    string `db:"programme_id"`
	YearOfStudy    int    `db:"year_of_study"`
	AcademicTermID string `db:"academic_term_id"`
}

// SnapshotData is everything the live snapshot is built from, read at one point in time.
type SnapshotData struct {
	Session  *Session
	Expected map[string]int
	Roster   []RosterEntry
}

// AttendanceLine is a record with the student's display fields.
type AttendanceLine struct {
	AttendanceRecord
	RegistrationNumber string `db:"registration_number" json:"registration_number"`
	FullName           string `db:"full_name" json:"full_name"`
}
