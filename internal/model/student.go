package model

import "time"

// Student is a registered student.
type Student struct {
	ID                 string  `db:"id" json:"id"`
	RegistrationNumber string  `db:"registration_number" json:"registration_number"`
	FullName           string  `db:"full_name" json:"full_name"`
	DeviceID           *string `db:"device_id" json:"device_id,omitempty"`
}

// Programme is an academic programme of study.
type Programme struct {
	ID           string `db:"id" json:"id"`
	UniversityID string `db:"university_id" json:"university_id"`
	Name         string `db:"name" json:"name"`
	Department   string `db:"department" json:"department"`
}

// EnrollmentSource records how an enrollment came to exist.
type EnrollmentSource string

const (
	SourceRegistry       EnrollmentSource = "REGISTRY"
	SourceFromAttendance EnrollmentSource = "FROM_ATTENDANCE"
)

// Enrollment binds a student to a programme cohort for a term.
type Enrollment struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	ProgrammeID    string           `db:"programme_id" json:"programme_id"`
	AcademicTermID string           `db:"academic_term_id" json:"academic_term_id"`
	YearOfStudy    int              `db:"year_of_study" json:"year_of_study"`
	Source         EnrollmentSource `db:"source" json:"source"`
	IsActive       bool             `db:"is_active" json:"is_active"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// ProgrammeCandidate is offered to a student who must pick a programme.
type ProgrammeCandidate struct {
	ProgrammeID string `json:"programme_id"`
	Name        string `json:"name"`
	Department  string `json:"department"`
	YearOfStudy int    `json:"year_of_study"`
}
