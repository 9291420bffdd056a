// Package attendance verifies and records student attendance submissions.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shrimpsizemoose/trekker/logger"

	"rollcall/internal/apperr"
	"rollcall/internal/live"
	"rollcall/internal/metrics"
	"rollcall/internal/model"
	"rollcall/internal/programme"
	"rollcall/internal/verify"
)

// Service runs the marking pipeline.
type Service struct {
	repo      Repository
	resolver  *programme.Resolver
	publisher Publisher
	validate  *validator.Validate
	now       func() time.Time
}

// NewService creates a service. publisher may be nil when nobody watches.
func NewService(repo Repository, publisher Publisher) *Service {
	return &Service{
		repo:      repo,
		resolver:  programme.NewResolver(repo),
		publisher: publisher,
		validate:  apperr.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Mark verifies a student's submission and records it.
func (s *Service) Mark(ctx context.Context, studentID string, req MarkRequest) (*Result, error) {
	res, err := s.mark(ctx, studentID, req)
	return res, apperr.Boundary("attendance.Mark", err)
}

func (s *Service) mark(ctx context.Context, studentID string, req MarkRequest) (*Result, error) {
	req.normalize()
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.FromValidator(err)
	}

	student, err := s.repo.GetStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}
	if student == nil {
		return nil, apperr.NotFound("student not found")
	}

	sess, err := s.repo.FindLiveSession(ctx, req.Code, req.UnitCode)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if sess == nil {
		return nil, apperr.NotFound("no active session matches this code and unit")
	}

	if err := s.ensureNotMarked(ctx, sess.ID, studentID); err != nil {
		return nil, err
	}

	resolution, err := s.resolver.Resolve(ctx, sess, studentID, req.ProgrammeID)
	if err != nil {
		return nil, err
	}
	if resolution.SelectionRequired {
		return &Result{
			RequiresProgrammeSelection: true,
			Candidates:                 resolution.Candidates,
			Flags:                      []model.Flag{},
			Message:                    "select your programme and submit again",
		}, nil
	}

	// Hard checks.
	if !methodAllowed(sess.AllowedMethod, req.Method) {
		metrics.AttendanceRejected.WithLabelValues("method").Inc()
		return nil, apperr.Validation(fmt.Sprintf("this session does not accept %s attendance", req.Method),
			apperr.FieldError{Field: "method", Error: "not allowed for this session"})
	}
	if student.DeviceID == nil || *student.DeviceID != req.DeviceID {
		metrics.AttendanceRejected.WithLabelValues("device").Inc()
		return nil, apperr.Authorization("this device is not registered to your account")
	}

	v := Verification{MethodVerified: true, DeviceVerified: true}
	flags := []model.Flag{}
	now := s.now()

	// Graded checks.
	switch verify.CheckSchedule(now, sess.ScheduledStart, sess.ScheduledEnd) {
	case verify.Verified:
		v.ScheduleVerified = true
	case verify.Flagged:
		v.ScheduleVerified = true
		flags = append(flags, model.Flag{
			Type:     model.FlagOutsideScheduleWindow,
			Severity: model.SeverityLow,
			Message:  "marked after the scheduled end of the session",
		})
	default:
		metrics.AttendanceRejected.WithLabelValues("schedule").Inc()
		if now.Before(sess.ScheduledStart) {
			return nil, apperr.Validation("this session has not started yet")
		}
		return nil, apperr.Validation("this session is closed for attendance")
	}

	var distance *float64
	if fence := sess.Fence(); fence != nil {
		if req.Latitude == nil || req.Longitude == nil {
			metrics.AttendanceRejected.WithLabelValues("location").Inc()
			return nil, apperr.Validation("this session requires your location",
				apperr.FieldError{Field: "latitude", Error: "this field is required"},
				apperr.FieldError{Field: "longitude", Error: "this field is required"})
		}
		loc := verify.CheckLocation(*fence, *req.Latitude, *req.Longitude)
		d := loc.DistanceMeters
		distance = &d
		switch loc.Outcome {
		case verify.Verified:
			v.LocationVerified = true
		case verify.Flagged:
			flags = append(flags, model.Flag{
				Type:     model.FlagLocationMismatch,
				Severity: model.SeverityMedium,
				Message:  fmt.Sprintf("%.0fm from the venue, %.0fm allowed", d, fence.RadiusMeters),
			})
		default:
			metrics.AttendanceRejected.WithLabelValues("location").Inc()
			return nil, apperr.Validation(fmt.Sprintf("you are %.0fm from the venue, outside the allowed %.0fm", d, fence.RadiusMeters))
		}
	} else {
		v.LocationVerified = true
	}
	v.Overall = v.LocationVerified && v.DeviceVerified && v.MethodVerified && v.ScheduleVerified

	if err := s.resolver.Commit(ctx, resolution); err != nil {
		return nil, err
	}
	if err := s.ensureNotMarked(ctx, sess.ID, studentID); err != nil {
		return nil, err
	}

	rec, err := s.insert(ctx, model.AttendanceRecord{
		SessionID:        sess.ID,
		StudentID:        studentID,
		Method:           req.Method,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		DistanceMeters:   distance,
		DeviceID:         req.DeviceID,
		DeviceMatched:    true,
		IsSuspicious:     len(flags) > 0,
		SuspiciousReason: flagReason(flags),
		MarkedAt:         now,
	})
	if err != nil {
		return nil, err
	}

	for _, f := range flags {
		metrics.AttendanceFlags.WithLabelValues(string(f.Type)).Inc()
	}
	s.announce(sess.ID, resolution.ProgrammeID, student, rec)

	msg := "attendance recorded"
	if rec.IsSuspicious {
		msg = "attendance recorded and flagged for review"
	}
	return &Result{
		Success:      true,
		ProgrammeID:  resolution.ProgrammeID,
		Record:       &rec,
		Verification: &v,
		Flags:        flags,
		Message:      msg,
	}, nil
}

// LecturerSign marks a student present on the lecturer's behalf, skipping the
// device, location and schedule checks.
func (s *Service) LecturerSign(ctx context.Context, lecturerID, sessionID, registrationNumber string) (*model.AttendanceRecord, error) {
	rec, err := s.lecturerSign(ctx, lecturerID, sessionID, registrationNumber)
	return rec, apperr.Boundary("attendance.LecturerSign", err)
}

func (s *Service) lecturerSign(ctx context.Context, lecturerID, sessionID, registrationNumber string) (*model.AttendanceRecord, error) {
	registrationNumber = strings.TrimSpace(registrationNumber)
	if registrationNumber == "" {
		return nil, apperr.Validation("invalid request",
			apperr.FieldError{Field: "registration_number", Error: "this field is required"})
	}

	sess, err := s.ownedSession(ctx, lecturerID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.StatusCancelled {
		return nil, apperr.Conflict("session was cancelled")
	}

	student, err := s.repo.GetStudentByRegistration(ctx, registrationNumber)
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}
	if student == nil {
		return nil, apperr.NotFound("no student with registration number " + registrationNumber)
	}

	if err := s.ensureNotMarked(ctx, sess.ID, student.ID); err != nil {
		return nil, err
	}

	enrollment, err := s.repo.ActiveEnrollment(ctx, student.ID, sess.AcademicTermID)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if enrollment == nil {
		return nil, apperr.NotFound("student has no active enrollment this term")
	}
	if _, ok := sess.Links(enrollment.ProgrammeID); !ok {
		return nil, apperr.Validation("student's programme is not part of this session")
	}

	rec, err := s.insert(ctx, model.AttendanceRecord{
		SessionID: sess.ID,
		StudentID: student.ID,
		Method:    model.MethodLecturerManual,
		MarkedAt:  s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.announce(sess.ID, enrollment.ProgrammeID, student, rec)
	return &rec, nil
}

// DeleteRecord removes a record from a session owned by lecturerID.
func (s *Service) DeleteRecord(ctx context.Context, lecturerID, recordID string) error {
	return apperr.Boundary("attendance.DeleteRecord", s.deleteRecord(ctx, lecturerID, recordID))
}

func (s *Service) deleteRecord(ctx context.Context, lecturerID, recordID string) error {
	rec, err := s.repo.GetAttendance(ctx, recordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if rec == nil {
		return apperr.NotFound("attendance record not found")
	}
	if _, err := s.ownedSession(ctx, lecturerID, rec.SessionID); err != nil {
		return err
	}
	ok, err := s.repo.DeleteAttendance(ctx, recordID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if !ok {
		return apperr.NotFound("attendance record not found")
	}
	logger.Info.Printf("attendance record %s deleted by lecturer %s", recordID, lecturerID)
	return nil
}

// ListRecords returns the records of a session owned by lecturerID.
func (s *Service) ListRecords(ctx context.Context, lecturerID, sessionID string) ([]model.AttendanceLine, error) {
	lines, err := s.listRecords(ctx, lecturerID, sessionID)
	return lines, apperr.Boundary("attendance.ListRecords", err)
}

func (s *Service) listRecords(ctx context.Context, lecturerID, sessionID string) ([]model.AttendanceLine, error) {
	if _, err := s.ownedSession(ctx, lecturerID, sessionID); err != nil {
		return nil, err
	}
	lines, err := s.repo.ListAttendance(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if lines == nil {
		lines = []model.AttendanceLine{}
	}
	return lines, nil
}

func (s *Service) ownedSession(ctx context.Context, lecturerID, sessionID string) (*model.Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, apperr.NotFound("session not found")
	}
	if sess.LecturerID != lecturerID {
		return nil, apperr.Authorization("you do not own this session")
	}
	return sess, nil
}

func (s *Service) ensureNotMarked(ctx context.Context, sessionID, studentID string) error {
	exists, err := s.repo.AttendanceExists(ctx, sessionID, studentID)
	if err != nil {
		return fmt.Errorf("check existing attendance: %w", err)
	}
	if exists {
		return errAlreadyMarked
	}
	return nil
}

var errAlreadyMarked = apperr.Conflict("attendance already recorded for this session")

func (s *Service) insert(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	saved, err := s.repo.InsertAttendance(ctx, rec)
	if errors.Is(err, apperr.ErrDuplicate) {
		return model.AttendanceRecord{}, errAlreadyMarked
	}
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("insert attendance: %w", err)
	}
	metrics.AttendanceMarked.WithLabelValues(string(saved.Method), strconv.FormatBool(saved.IsSuspicious)).Inc()
	return saved, nil
}

func (s *Service) announce(sessionID, programmeID string, student *model.Student, rec model.AttendanceRecord) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(live.AttendanceMarked{
		SessionID:   sessionID,
		ProgrammeID: programmeID,
		Student: model.StudentAttendance{
			StudentID:          student.ID,
			RegistrationNumber: student.RegistrationNumber,
			FullName:           student.FullName,
			MarkedAt:           rec.MarkedAt,
			IsSuspicious:       rec.IsSuspicious,
			SuspiciousReason:   rec.SuspiciousReason,
		},
	})
}

// methodAllowed reports whether used satisfies the session's allowed method.
func methodAllowed(allowed, used model.Method) bool {
	return used == model.MethodLecturerManual || allowed == model.MethodAny || allowed == used
}

func flagReason(flags []model.Flag) string {
	names := make([]string, len(flags))
	for i, f := range flags {
		names[i] = string(f.Type)
	}
	return strings.Join(names, ", ")
}
