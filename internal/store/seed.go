package store

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"rollcall/internal/model"
)

// Seed is reference data for the in-memory store, read from TOML:
//
//	[[terms]]
//	id = "..."
//	university_id = "..."
//	name = "2025/26 S2"
//	active = true
//
//	[[students]]
//	id = "..."
//	registration_number = "SCT211-0001/2023"
//	full_name = "Wanjiru Kamau"
//	device_id = "pixel-7-a1b2"
type Seed struct {
	Terms []struct {
		ID           string `toml:"id"`
		UniversityID string `toml:"university_id"`
		Name         string `toml:"name"`
		Active       bool   `toml:"active"`
	} `toml:"terms"`
	Units []struct {
		ID           string `toml:"id"`
		UniversityID string `toml:"university_id"`
		Code         string `toml:"code"`
		Name         string `toml:"name"`
	} `toml:"units"`
	Programmes []struct {
		ID           string `toml:"id"`
		UniversityID string `toml:"university_id"`
		Name         string `toml:"name"`
		Department   string `toml:"department"`
	} `toml:"programmes"`
	Students []struct {
		ID                 string `toml:"id"`
		RegistrationNumber string `toml:"registration_number"`
		FullName           string `toml:"full_name"`
		DeviceID           string `toml:"device_id"`
	} `toml:"students"`
	Assignments []struct {
		LecturerID     string `toml:"lecturer_id"`
		UnitID         string `toml:"unit_id"`
		ProgrammeID    string `toml:"programme_id"`
		AcademicTermID string `toml:"academic_term_id"`
	} `toml:"assignments"`
	Enrollments []struct {
		StudentID      string `toml:"student_id"`
		ProgrammeID    string `toml:"programme_id"`
		AcademicTermID string `toml:"academic_term_id"`
		YearOfStudy    int    `toml:"year_of_study"`
	} `toml:"enrollments"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var s Seed
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &s, nil
}

// Apply loads s into m.
func (m *Memory) Apply(s *Seed) {
	for _, t := range s.Terms {
		m.AddTerm(model.AcademicTerm{ID: t.ID, UniversityID: t.UniversityID, Name: t.Name, IsActive: t.Active})
	}
	for _, u := range s.Units {
		m.AddUnit(model.Unit{ID: u.ID, UniversityID: u.UniversityID, Code: u.Code, Name: u.Name})
	}
	for _, p := range s.Programmes {
		m.AddProgramme(model.Programme{ID: p.ID, UniversityID: p.UniversityID, Name: p.Name, Department: p.Department})
	}
	for _, st := range s.Students {
		student := model.Student{ID: st.ID, RegistrationNumber: st.RegistrationNumber, FullName: st.FullName}
		if st.DeviceID != "" {
			device := st.DeviceID
			student.DeviceID = &device
		}
		m.AddStudent(student)
	}
	for _, a := range s.Assignments {
		m.AddTeachingAssignment(model.TeachingAssignment{
			LecturerID: a.LecturerID, UnitID: a.UnitID, ProgrammeID: a.ProgrammeID, AcademicTermID: a.AcademicTermID,
		})
	}
	for _, e := range s.Enrollments {
		m.AddEnrollment(model.Enrollment{
			StudentID: e.StudentID, ProgrammeID: e.ProgrammeID, AcademicTermID: e.AcademicTermID,
			YearOfStudy: e.YearOfStudy, IsActive: true,
		})
	}
}
