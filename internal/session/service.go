// Package session owns the lifecycle of lecture attendance sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"rollcall/internal/apperr"
	"rollcall/internal/metrics"
	"rollcall/internal/model"
)

// Repository is the session storage the service needs.
type Repository interface {
	ActiveSessionForLecturer(ctx context.Context, lecturerID string) (*model.Session, error)
	ActiveTerm(ctx context.Context, universityID string) (*model.AcademicTerm, error)
	GetUnit(ctx context.Context, id string) (*model.Unit, error)
	ProgrammesByID(ctx context.Context, ids []string) (map[string]model.Programme, error)
	UnauthorizedProgrammes(ctx context.Context, lecturerID, unitID, termID string, programmeIDs []string) ([]string, error)
	CodeInUse(ctx context.Context, code string) (bool, error)

	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, lecturerID string, limit, offset int) ([]model.Session, error)
	UpdateSession(ctx context.Context, s *model.Session, replaceLinks bool) (bool, error)
	TransitionSession(ctx context.Context, id, lecturerID string, from, to model.SessionStatus, at time.Time) (bool, error)
	ExpireSessions(ctx context.Context, cutoff, now time.Time) (int64, error)
	ActivateSessions(ctx context.Context, now time.Time) (int64, error)
}

// Service handles session creation, edits and status transitions.
type Service struct {
	repo        Repository
	validate    *validator.Validate
	expiryGrace time.Duration

	now     func() time.Time
	newCode func() (string, error)
}

// NewService creates a session service. ACTIVE sessions expire once their
// scheduled end is more than expiryGrace in the past.
func NewService(repo Repository, expiryGrace time.Duration) *Service {
	return &Service{
		repo:        repo,
		validate:    apperr.NewValidator(),
		expiryGrace: expiryGrace,
		now:         func() time.Time { return time.Now().UTC() },
		newCode:     randomCode,
	}
}

// Start opens a session for lecturerID.
func (s *Service) Start(ctx context.Context, lecturerID string, req StartRequest) (*model.Session, error) {
	sess, err := s.start(ctx, lecturerID, req)
	return sess, apperr.Boundary("session.Start", err)
}

func (s *Service) start(ctx context.Context, lecturerID string, req StartRequest) (*model.Session, error) {
	if err := s.validateStart(req); err != nil {
		return nil, err
	}

	active, err := s.repo.ActiveSessionForLecturer(ctx, lecturerID)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if active != nil {
		return nil, apperr.Conflict("you already have an active session; end it before starting another")
	}

	term, err := s.repo.ActiveTerm(ctx, req.UniversityID)
	if err != nil {
		return nil, fmt.Errorf("load active term: %w", err)
	}
	if term == nil {
		return nil, apperr.NotFound("no active academic term for this university")
	}

	unit, err := s.repo.GetUnit(ctx, req.UnitID)
	if err != nil {
		return nil, fmt.Errorf("load unit: %w", err)
	}
	if unit == nil || unit.UniversityID != req.UniversityID {
		return nil, apperr.NotFound("unit not found")
	}

	links, err := s.checkProgrammes(ctx, lecturerID, unit.ID, term.ID, req.Programmes)
	if err != nil {
		return nil, err
	}

	code, err := s.generateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	start, status := now, model.StatusActive
	if req.StartTime != nil && req.StartTime.After(now) {
		start, status = req.StartTime.UTC(), model.StatusScheduled
	}
	method := req.AllowedMethod
	if method == "" {
		method = model.MethodAny
	}

	sess := &model.Session{
		ID:              uuid.NewString(),
		LecturerID:      lecturerID,
		UniversityID:    req.UniversityID,
		UnitID:          unit.ID,
		UnitCode:        unit.Code,
		UnitName:        unit.Name,
		AcademicTermID:  term.ID,
		Code:            code,
		AllowedMethod:   method,
		ScheduledStart:  start,
		ScheduledEnd:    start.Add(time.Duration(req.DurationMinutes) * time.Minute),
		DurationMinutes: req.DurationMinutes,
		Week:            weekKey(start),
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
		Programmes:      links,
	}
	if req.LocationRequired {
		sess.SetFence(req.Geofence)
	}

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return nil, duplicateSession(err)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionTransitions.WithLabelValues(string(status)).Inc()
	logger.Info.Printf("session %s created by lecturer %s for unit %s (%s, week %d #%d)",
		sess.ID, lecturerID, unit.Code, status, sess.Week, sess.SessionNumber)
	return sess, nil
}

func (s *Service) validateStart(req StartRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return apperr.FromValidator(err)
	}
	if !req.LocationRequired {
		return nil
	}
	if req.Geofence == nil {
		return apperr.Validation("invalid request",
			apperr.FieldError{Field: "geofence", Error: "required when location_required is set"})
	}
	g := req.Geofence
	if fields := validateGeofence("geofence.", &g.Latitude, &g.Longitude, &g.RadiusMeters); len(fields) > 0 {
		return apperr.Validation("invalid request", fields...)
	}
	return nil
}

// checkProgrammes resolves programme display names and verifies the lecturer
// teaches unitID to every requested programme in termID.
func (s *Service) checkProgrammes(ctx context.Context, lecturerID, unitID, termID string, req []ProgrammeLink) ([]model.SessionProgramme, error) {
	ids := make([]string, len(req))
	for i, l := range req {
		ids[i] = l.ProgrammeID
	}

	known, err := s.repo.ProgrammesByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load programmes: %w", err)
	}
	var missing []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.NotFound("programme not found: " + strings.Join(missing, ", "))
	}

	denied, err := s.repo.UnauthorizedProgrammes(ctx, lecturerID, unitID, termID, ids)
	if err != nil {
		return nil, fmt.Errorf("check teaching assignments: %w", err)
	}
	if len(denied) > 0 {
		names := make([]string, len(denied))
		for i, id := range denied {
			names[i] = known[id].Name
		}
		return nil, apperr.Authorization("you are not assigned to teach this unit for: " + strings.Join(names, ", "))
	}

	links := make([]model.SessionProgramme, len(req))
	for i, l := range req {
		p := known[l.ProgrammeID]
		links[i] = model.SessionProgramme{
			ProgrammeID: p.ID,
			YearOfStudy: l.YearOfStudy,
			Name:        p.Name,
			Department:  p.Department,
		}
	}
	return links, nil
}

// Update applies patch to a live session owned by lecturerID.
func (s *Service) Update(ctx context.Context, lecturerID, sessionID string, patch Patch) (*model.Session, error) {
	sess, err := s.update(ctx, lecturerID, sessionID, patch)
	return sess, apperr.Boundary("session.Update", err)
}

func (s *Service) update(ctx context.Context, lecturerID, sessionID string, patch Patch) (*model.Session, error) {
	cur, err := s.owned(ctx, lecturerID, sessionID)
	if err != nil {
		return nil, err
	}
	if !cur.Status.Live() {
		return nil, apperr.Conflict(fmt.Sprintf("session is %s and can no longer be changed", strings.ToLower(string(cur.Status))))
	}
	if patch.empty() {
		return cur, nil
	}

	next := *cur
	var fields []apperr.FieldError

	if patch.AllowedMethod.Set {
		next.AllowedMethod = model.MethodAny
		if patch.AllowedMethod.Present() {
			if err := s.validate.Var(string(patch.AllowedMethod.Value), "oneof=QR MANUAL_CODE LECTURER_MANUAL ANY"); err != nil {
				fields = append(fields, apperr.FieldError{Field: "allowed_method", Error: "must be one of: QR MANUAL_CODE LECTURER_MANUAL ANY"})
			}
			next.AllowedMethod = patch.AllowedMethod.Value
		}
	}

	if patch.touchesGeofence() {
		fields = append(fields, mergeGeofence(&next, patch)...)
	}

	if patch.DurationMinutes.Set {
		switch {
		case patch.DurationMinutes.Cleared():
			fields = append(fields, apperr.FieldError{Field: "duration_minutes", Error: "this field is required"})
		case patch.DurationMinutes.Value < 1 || patch.DurationMinutes.Value > 240:
			fields = append(fields, apperr.FieldError{Field: "duration_minutes", Error: "must be between 1 and 240"})
		default:
			next.DurationMinutes = patch.DurationMinutes.Value
		}
	}

	if patch.StartTime.Set {
		switch {
		case cur.Status != model.StatusScheduled:
			fields = append(fields, apperr.FieldError{Field: "start_time", Error: "can only be changed before the session starts"})
		case patch.StartTime.Cleared():
			fields = append(fields, apperr.FieldError{Field: "start_time", Error: "this field is required"})
		default:
			next.ScheduledStart = patch.StartTime.Value.UTC()
			next.Week = weekKey(next.ScheduledStart)
		}
	}

	var links []ProgrammeLink
	if patch.Programmes.Set {
		if patch.Programmes.Cleared() {
			fields = append(fields, apperr.FieldError{Field: "programmes", Error: "this field is required"})
		} else {
			links = patch.Programmes.Value
			wrapper := struct {
				Programmes []ProgrammeLink `json:"programmes" validate:"required,min=1,max=10,unique=ProgrammeID,dive"`
			}{links}
			if err := s.validate.Struct(wrapper); err != nil {
				fields = append(fields, apperr.FieldsOf(apperr.FromValidator(err))...)
			}
		}
	}

	if len(fields) > 0 {
		return nil, apperr.Validation("invalid request", fields...)
	}

	if links != nil {
		resolved, err := s.checkProgrammes(ctx, lecturerID, cur.UnitID, cur.AcademicTermID, links)
		if err != nil {
			return nil, err
		}
		next.Programmes = resolved
	}

	next.ScheduledEnd = next.ScheduledStart.Add(time.Duration(next.DurationMinutes) * time.Minute)
	next.UpdatedAt = s.now()

	ok, err := s.repo.UpdateSession(ctx, &next, links != nil)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("session changed status while it was being edited")
	}

	updated, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}
	if updated == nil {
		return nil, apperr.NotFound("session not found")
	}
	return updated, nil
}

// mergeGeofence applies the geofence fields of patch to sess and validates the
// resulting fence as a whole.
func mergeGeofence(sess *model.Session, patch Patch) []apperr.FieldError {
	required := sess.LocationRequired
	if patch.LocationRequired.Set {
		required = patch.LocationRequired.Present() && patch.LocationRequired.Value
	}
	lat := mergeFloat(sess.Latitude, patch.Latitude)
	lon := mergeFloat(sess.Longitude, patch.Longitude)
	radius := mergeFloat(sess.RadiusMeters, patch.RadiusMeters)

	if !required {
		sess.SetFence(nil)
		return nil
	}
	if fields := validateGeofence("", lat, lon, radius); len(fields) > 0 {
		return fields
	}
	sess.SetFence(&model.Geofence{Latitude: *lat, Longitude: *lon, RadiusMeters: *radius})
	return nil
}

func mergeFloat(cur *float64, patch model.Optional[float64]) *float64 {
	switch {
	case patch.Cleared():
		return nil
	case patch.Present():
		v := patch.Value
		return &v
	default:
		return cur
	}
}

// End moves an ACTIVE session owned by lecturerID to ENDED. It returns false
// when there is nothing to end.
func (s *Service) End(ctx context.Context, lecturerID, sessionID string) (bool, error) {
	ok, err := s.transition(ctx, lecturerID, sessionID, model.StatusActive, model.StatusEnded)
	return ok, apperr.Boundary("session.End", err)
}

// Cancel moves a SCHEDULED session owned by lecturerID to CANCELLED.
func (s *Service) Cancel(ctx context.Context, lecturerID, sessionID string) (bool, error) {
	ok, err := s.transition(ctx, lecturerID, sessionID, model.StatusScheduled, model.StatusCancelled)
	return ok, apperr.Boundary("session.Cancel", err)
}

func (s *Service) transition(ctx context.Context, lecturerID, sessionID string, from, to model.SessionStatus) (bool, error) {
	ok, err := s.repo.TransitionSession(ctx, sessionID, lecturerID, from, to, s.now())
	if err != nil {
		return false, fmt.Errorf("transition session to %s: %w", to, err)
	}
	if ok {
		metrics.SessionTransitions.WithLabelValues(string(to)).Inc()
		logger.Info.Printf("session %s %s -> %s by lecturer %s", sessionID, from, to, lecturerID)
	}
	return ok, nil
}

// RotateCode gives a live session owned by lecturerID a fresh code.
func (s *Service) RotateCode(ctx context.Context, lecturerID, sessionID string) (*model.Session, error) {
	sess, err := s.rotateCode(ctx, lecturerID, sessionID)
	return sess, apperr.Boundary("session.RotateCode", err)
}

func (s *Service) rotateCode(ctx context.Context, lecturerID, sessionID string) (*model.Session, error) {
	cur, err := s.owned(ctx, lecturerID, sessionID)
	if err != nil {
		return nil, err
	}
	if !cur.Status.Live() {
		return nil, apperr.Conflict("session is no longer live")
	}
	code, err := s.generateCode(ctx)
	if err != nil {
		return nil, err
	}
	cur.Code = code
	cur.UpdatedAt = s.now()
	ok, err := s.repo.UpdateSession(ctx, cur, false)
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return nil, apperr.Conflict("could not allocate a unique session code, try again")
		}
		return nil, fmt.Errorf("rotate code: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("session is no longer live")
	}
	return cur, nil
}

// Active returns the lecturer's ACTIVE session, or nil.
func (s *Service) Active(ctx context.Context, lecturerID string) (*model.Session, error) {
	sess, err := s.repo.ActiveSessionForLecturer(ctx, lecturerID)
	return sess, apperr.Boundary("session.Active", err)
}

// Details returns a session by id, or nil.
func (s *Service) Details(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	return sess, apperr.Boundary("session.Details", err)
}

// List returns the lecturer's sessions, newest scheduled start first.
func (s *Service) List(ctx context.Context, lecturerID string, limit, offset int) ([]model.Session, error) {
	sessions, err := s.repo.ListSessions(ctx, lecturerID, limit, offset)
	return sessions, apperr.Boundary("session.List", err)
}

// Owned loads a session and checks lecturerID owns it.
func (s *Service) Owned(ctx context.Context, lecturerID, sessionID string) (*model.Session, error) {
	sess, err := s.owned(ctx, lecturerID, sessionID)
	return sess, apperr.Boundary("session.Owned", err)
}

func (s *Service) owned(ctx context.Context, lecturerID, sessionID string) (*model.Session, error) {
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

// ExpireDue marks live sessions past their end plus the expiry grace as EXPIRED.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.repo.ExpireSessions(ctx, now.Add(-s.expiryGrace), now)
	if err != nil {
		return 0, apperr.Boundary("session.ExpireDue", err)
	}
	if n > 0 {
		metrics.SessionTransitions.WithLabelValues(string(model.StatusExpired)).Add(float64(n))
		logger.Info.Printf("expired %d session(s)", n)
	}
	return n, nil
}

// ActivateDue promotes SCHEDULED sessions whose start has arrived.
func (s *Service) ActivateDue(ctx context.Context) (int64, error) {
	n, err := s.repo.ActivateSessions(ctx, s.now())
	if err != nil {
		return 0, apperr.Boundary("session.ActivateDue", err)
	}
	if n > 0 {
		metrics.SessionTransitions.WithLabelValues(string(model.StatusActive)).Add(float64(n))
		logger.Info.Printf("activated %d scheduled session(s)", n)
	}
	return n, nil
}

// weekKey identifies the ISO week of t as year*100+week.
func weekKey(t time.Time) int {
	y, w := t.ISOWeek()
	return y*100 + w
}

func duplicateSession(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "one_active"):
		return apperr.Conflict("you already have an active session; end it before starting another")
	case strings.Contains(msg, "live_code"):
		return apperr.Conflict("could not allocate a unique session code, try again")
	default:
		return apperr.Conflict("a session with the same week and number already exists")
	}
}
