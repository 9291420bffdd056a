package attendance

import (
	"context"

	"rollcall/internal/live"
	"rollcall/internal/model"
	"rollcall/internal/programme"
)

// Repository is the storage the marking pipeline reads and writes.
type Repository interface {
	programme.Repository

	FindLiveSession(ctx context.Context, code, unitCode string) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)

	GetStudent(ctx context.Context, id string) (*model.Student, error)
	GetStudentByRegistration(ctx context.Context, regNo string) (*model.Student, error)

	AttendanceExists(ctx context.Context, sessionID, studentID string) (bool, error)
	InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error)
	GetAttendance(ctx context.Context, id string) (*model.AttendanceRecord, error)
	DeleteAttendance(ctx context.Context, id string) (bool, error)
	ListAttendance(ctx context.Context, sessionID string) ([]model.AttendanceLine, error)
}

// Publisher receives events for live viewers. It must not block.
type Publisher interface {
	Publish(evt live.Event)
}
