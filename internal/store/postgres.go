package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"rollcall/internal/model"
)

// Postgres persists sessions, attendance and enrollments.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres creates a repository on an open connection.
func NewPostgres(db *DB) *Postgres {
	return &Postgres{db: db.Client}
}

const sessionSelect = `
	SELECT s.id, s.lecturer_id, s.university_id, s.unit_id, u.code AS unit_code, u.name AS unit_name,
		s.academic_term_id, s.code, s.allowed_method, s.location_required, s.latitude, s.longitude,
		s.radius_meters, s.scheduled_start, s.scheduled_end, s.duration_minutes, s.week,
		s.session_number, s.status, s.created_at, s.updated_at, s.ended_at
	FROM sessions s
	JOIN units u ON u.id = s.unit_id`

// ---------- Sessions ----------

func getSession(ctx context.Context, q sqlx.QueryerContext, where string, args ...any) (*model.Session, error) {
	var s model.Session
	if err := sqlx.GetContext(ctx, q, &s, sessionSelect+" "+where, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := attachProgrammes(ctx, q, []*model.Session{&s}); err != nil {
		return nil, err
	}
	return &s, nil
}

func attachProgrammes(ctx context.Context, q sqlx.QueryerContext, sessions []*model.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	ids := make([]string, 0, len(sessions))
	byID := make(map[string]*model.Session, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
		byID[s.ID] = s
		s.Programmes = []model.SessionProgramme{}
	}

	var links []model.SessionProgramme
	err := sqlx.SelectContext(ctx, q, &links, `
		SELECT sp.session_id, sp.programme_id, sp.year_of_study, p.name, p.department
		FROM session_programmes sp
		JOIN programmes p ON p.id = sp.programme_id
		WHERE sp.session_id = ANY($1)
		ORDER BY sp.session_id, sp.position
	`, ids)
	if err != nil {
		return fmt.Errorf("load session programmes: %w", err)
	}
	for _, l := range links {
		if s := byID[l.SessionID]; s != nil {
			s.Programmes = append(s.Programmes, l)
		}
	}
	return nil
}

// GetSession returns a session with its programmes, or nil.
func (p *Postgres) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return getSession(ctx, p.db, "WHERE s.id = $1", id)
}

// ActiveSessionForLecturer returns the lecturer's ACTIVE session, or nil.
func (p *Postgres) ActiveSessionForLecturer(ctx context.Context, lecturerID string) (*model.Session, error) {
	return getSession(ctx, p.db, "WHERE s.lecturer_id = $1 AND s.status = 'ACTIVE' ORDER BY s.created_at DESC LIMIT 1", lecturerID)
}

// FindLiveSession resolves an ACTIVE session by code and unit code; newest wins.
func (p *Postgres) FindLiveSession(ctx context.Context, code, unitCode string) (*model.Session, error) {
	return getSession(ctx, p.db,
		"WHERE s.code = $1 AND UPPER(u.code) = UPPER($2) AND s.status = 'ACTIVE' ORDER BY s.created_at DESC LIMIT 1",
		code, unitCode)
}

// ListSessions returns a lecturer's sessions, newest first.
func (p *Postgres) ListSessions(ctx context.Context, lecturerID string, limit, offset int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var sessions []model.Session
	err := p.db.SelectContext(ctx, &sessions,
		sessionSelect+" WHERE s.lecturer_id = $1 ORDER BY s.scheduled_start DESC LIMIT $2 OFFSET $3",
		lecturerID, limit, offset)
	if err != nil {
		return nil, err
	}
	ptrs := make([]*model.Session, len(sessions))
	for i := range sessions {
		ptrs[i] = &sessions[i]
	}
	if err := attachProgrammes(ctx, p.db, ptrs); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CodeInUse reports whether a live session holds code.
func (p *Postgres) CodeInUse(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := p.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE code = $1 AND status IN ('ACTIVE', 'SCHEDULED'))`, code)
	return exists, err
}

// CreateSession inserts the session and its programme links atomically and
// assigns the next session number within the week.
func (p *Postgres) CreateSession(ctx context.Context, s *model.Session) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.GetContext(ctx, &next, `
		SELECT COALESCE(MAX(session_number), 0) + 1
		FROM sessions
		WHERE lecturer_id = $1 AND unit_id = $2 AND academic_term_id = $3 AND week = $4
	`, s.LecturerID, s.UnitID, s.AcademicTermID, s.Week); err != nil {
		return fmt.Errorf("next session number: %w", err)
	}
	s.SessionNumber = next

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO sessions (id, lecturer_id, university_id, unit_id, academic_term_id, code,
			allowed_method, location_required, latitude, longitude, radius_meters, scheduled_start,
			scheduled_end, duration_minutes, week, session_number, status, created_at, updated_at)
		VALUES (:id, :lecturer_id, :university_id, :unit_id, :academic_term_id, :code,
			:allowed_method, :location_required, :latitude, :longitude, :radius_meters, :scheduled_start,
			:scheduled_end, :duration_minutes, :week, :session_number, :status, :created_at, :updated_at)
	`, s)
	if err != nil {
		return classify(err)
	}
	if err := insertLinks(ctx, tx, s.ID, s.Programmes); err != nil {
		return err
	}
	return tx.Commit()
}

func insertLinks(ctx context.Context, tx *sqlx.Tx, sessionID string, links []model.SessionProgramme) error {
	for i, l := range links {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_programmes (session_id, programme_id, year_of_study, position)
			VALUES ($1, $2, $3, $4)
		`, sessionID, l.ProgrammeID, l.YearOfStudy, i); err != nil {
			return classify(err)
		}
	}
	return nil
}

// UpdateSession writes the mutable fields of a live session owned by s.LecturerID.
// It reports false when the guard no longer matches. A session moved into
// another week takes the next free number in that week.
func (p *Postgres) UpdateSession(ctx context.Context, s *model.Session, replaceLinks bool) (bool, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `
		UPDATE sessions SET
			code = :code,
			allowed_method = :allowed_method,
			location_required = :location_required,
			latitude = :latitude,
			longitude = :longitude,
			radius_meters = :radius_meters,
			scheduled_start = :scheduled_start,
			scheduled_end = :scheduled_end,
			duration_minutes = :duration_minutes,
			week = :week,
			session_number = CASE WHEN week = :week THEN session_number ELSE (
				SELECT COALESCE(MAX(o.session_number), 0) + 1
				FROM sessions o
				WHERE o.lecturer_id = sessions.lecturer_id AND o.unit_id = sessions.unit_id
					AND o.academic_term_id = sessions.academic_term_id AND o.week = :week AND o.id <> sessions.id
			) END,
			updated_at = :updated_at
		WHERE id = :id AND lecturer_id = :lecturer_id AND status IN ('ACTIVE', 'SCHEDULED')
	`, s)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if replaceLinks {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_programmes WHERE session_id = $1`, s.ID); err != nil {
			return false, err
		}
		if err := insertLinks(ctx, tx, s.ID, s.Programmes); err != nil {
			return false, err
		}
	}
	return true, tx.Commit()
}

// TransitionSession moves an owned session from one status to a terminal one.
func (p *Postgres) TransitionSession(ctx context.Context, id, lecturerID string, from, to model.SessionStatus, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET status = $4, updated_at = $5, ended_at = $5
		WHERE id = $1 AND lecturer_id = $2 AND status = $3
	`, id, lecturerID, from, to, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ExpireSessions marks live sessions whose end is before cutoff as EXPIRED.
func (p *Postgres) ExpireSessions(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'EXPIRED', updated_at = $2, ended_at = $2
		WHERE status IN ('ACTIVE', 'SCHEDULED') AND scheduled_end < $1
	`, cutoff, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ActivateSessions promotes due SCHEDULED sessions, at most one per lecturer and
// never for a lecturer who already has an ACTIVE session.
func (p *Postgres) ActivateSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'ACTIVE', updated_at = $1
		WHERE status = 'SCHEDULED' AND id IN (
			SELECT DISTINCT ON (c.lecturer_id) c.id
			FROM sessions c
			WHERE c.status = 'SCHEDULED' AND c.scheduled_start <= $1 AND c.scheduled_end >= $1
				AND NOT EXISTS (
					SELECT 1 FROM sessions a WHERE a.lecturer_id = c.lecturer_id AND a.status = 'ACTIVE'
				)
			ORDER BY c.lecturer_id, c.scheduled_start, c.created_at
		)
	`, now)
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

// ---------- Catalog ----------

// ActiveTerm returns the active academic term of a university, or nil.
func (p *Postgres) ActiveTerm(ctx context.Context, universityID string) (*model.AcademicTerm, error) {
	var t model.AcademicTerm
	err := p.db.GetContext(ctx, &t, `
		SELECT id, university_id, name, starts_on, ends_on, is_active
		FROM academic_terms WHERE university_id = $1 AND is_active
	`, universityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetUnit returns a unit, or nil.
func (p *Postgres) GetUnit(ctx context.Context, id string) (*model.Unit, error) {
	var u model.Unit
	err := p.db.GetContext(ctx, &u, `SELECT id, university_id, code, name FROM units WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetProgramme returns a programme, or nil.
func (p *Postgres) GetProgramme(ctx context.Context, id string) (*model.Programme, error) {
	var prog model.Programme
	err := p.db.GetContext(ctx, &prog, `SELECT id, university_id, name, department FROM programmes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prog, nil
}

// ProgrammesByID returns the programmes that exist among ids.
func (p *Postgres) ProgrammesByID(ctx context.Context, ids []string) (map[string]model.Programme, error) {
	var progs []model.Programme
	if err := p.db.SelectContext(ctx, &progs,
		`SELECT id, university_id, name, department FROM programmes WHERE id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	out := make(map[string]model.Programme, len(progs))
	for _, prog := range progs {
		out[prog.ID] = prog
	}
	return out, nil
}

// UnauthorizedProgrammes returns the ids among programmeIDs the lecturer may not
// teach unitID for in termID, in input order.
func (p *Postgres) UnauthorizedProgrammes(ctx context.Context, lecturerID, unitID, termID string, programmeIDs []string) ([]string, error) {
	var allowed []string
	err := p.db.SelectContext(ctx, &allowed, `
		SELECT programme_id FROM teaching_assignments
		WHERE lecturer_id = $1 AND unit_id = $2 AND academic_term_id = $3 AND programme_id = ANY($4)
	`, lecturerID, unitID, termID, programmeIDs)
	if err != nil {
		return nil, err
	}
	ok := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		ok[id] = true
	}
	var missing []string
	for _, id := range programmeIDs {
		if !ok[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ---------- Students & enrollments ----------

const studentSelect = `SELECT id, registration_number, full_name, device_id FROM students`

// GetStudent returns a student, or nil.
func (p *Postgres) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	var st model.Student
	err := p.db.GetContext(ctx, &st, studentSelect+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStudentByRegistration returns a student by registration number, or nil.
func (p *Postgres) GetStudentByRegistration(ctx context.Context, regNo string) (*model.Student, error) {
	var st model.Student
	err := p.db.GetContext(ctx, &st, studentSelect+` WHERE UPPER(registration_number) = UPPER($1)`, regNo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ActiveEnrollment returns the student's active enrollment in a term, or nil.
func (p *Postgres) ActiveEnrollment(ctx context.Context, studentID, termID string) (*model.Enrollment, error) {
	var e model.Enrollment
	err := p.db.GetContext(ctx, &e, `
		SELECT id, student_id, programme_id, academic_term_id, year_of_study, source, is_active, created_at
		FROM enrollments WHERE student_id = $1 AND academic_term_id = $2 AND is_active
	`, studentID, termID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEnrollment inserts an enrollment. If the student already holds an active
// enrollment for the term, that one is returned unchanged.
func (p *Postgres) CreateEnrollment(ctx context.Context, e model.Enrollment) (model.Enrollment, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := p.db.NamedExecContext(ctx, `
		INSERT INTO enrollments (id, student_id, programme_id, academic_term_id, year_of_study, source, is_active, created_at)
		VALUES (:id, :student_id, :programme_id, :academic_term_id, :year_of_study, :source, :is_active, :created_at)
		ON CONFLICT (student_id, academic_term_id) WHERE is_active DO NOTHING
	`, e)
	if err != nil {
		return model.Enrollment{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := p.ActiveEnrollment(ctx, e.StudentID, e.AcademicTermID)
		if err != nil {
			return model.Enrollment{}, err
		}
		if existing != nil {
			return *existing, nil
		}
	}
	return e, nil
}

// ---------- Attendance ----------

const recordColumns = `ar.id, ar.session_id, ar.student_id, ar.method, ar.latitude, ar.longitude,
	ar.distance_meters, ar.device_id, ar.device_matched, ar.is_suspicious, ar.suspicious_reason, ar.marked_at`

// AttendanceExists reports whether the student already has a record for the session.
func (p *Postgres) AttendanceExists(ctx context.Context, sessionID, studentID string) (bool, error) {
	var exists bool
	err := p.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM attendance_records WHERE session_id = $1 AND student_id = $2)`,
		sessionID, studentID)
	return exists, err
}

// InsertAttendance writes a record; a second record for the same
// (session, student) fails with apperr.ErrDuplicate.
func (p *Postgres) InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now().UTC()
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, method, latitude, longitude,
			distance_meters, device_id, device_matched, is_suspicious, suspicious_reason, marked_at)
		VALUES (:id, :session_id, :student_id, :method, :latitude, :longitude,
			:distance_meters, :device_id, :device_matched, :is_suspicious, :suspicious_reason, :marked_at)
	`, rec)
	if err != nil {
		return model.AttendanceRecord{}, classify(err)
	}
	return rec, nil
}

// GetAttendance returns a record, or nil.
func (p *Postgres) GetAttendance(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	err := p.db.GetContext(ctx, &rec, `SELECT `+recordColumns+` FROM attendance_records ar WHERE ar.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteAttendance removes a record.
func (p *Postgres) DeleteAttendance(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListAttendance returns a session's records in insertion order.
func (p *Postgres) ListAttendance(ctx context.Context, sessionID string) ([]model.AttendanceLine, error) {
	var lines []model.AttendanceLine
	err := p.db.SelectContext(ctx, &lines, `
		SELECT `+recordColumns+`, st.registration_number, st.full_name
		FROM attendance_records ar
		JOIN students st ON st.id = ar.student_id
		WHERE ar.session_id = $1
		ORDER BY ar.marked_at, ar.id
	`, sessionID)
	return lines, err
}

// LoadSnapshot reads everything the live snapshot needs inside one read-only
// REPEATABLE READ transaction. It returns nil when the session does not exist.
func (p *Postgres) LoadSnapshot(ctx context.Context, sessionID string) (*model.SnapshotData, error) {
	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	s, err := getSession(ctx, tx, "WHERE s.id = $1", sessionID)
	if err != nil || s == nil {
		return nil, err
	}

	var counts []struct {
		ProgrammeID string `db:"programme_id"`
		Expected    int    `db:"expected"`
	}
	if err := tx.SelectContext(ctx, &counts, `
		SELECT sp.programme_id, COUNT(e.id) AS expected
		FROM session_programmes sp
		LEFT JOIN enrollments e ON e.programme_id = sp.programme_id
			AND e.year_of_study = sp.year_of_study
			AND e.academic_term_id = $2
			AND e.is_active
		WHERE sp.session_id = $1
		GROUP BY sp.programme_id
	`, sessionID, s.AcademicTermID); err != nil {
		return nil, fmt.Errorf("expected counts: %w", err)
	}

	var roster []model.RosterEntry
	if err := tx.SelectContext(ctx, &roster, `
		SELECT st.id AS student_id, st.registration_number, st.full_name, ar.marked_at,
			ar.is_suspicious, ar.suspicious_reason, e.programme_id, e.year_of_study, e.academic_term_id
		FROM attendance_records ar
		JOIN students st ON st.id = ar.student_id
		JOIN enrollments e ON e.student_id = ar.student_id AND e.is_active
		WHERE ar.session_id = $1
		ORDER BY ar.marked_at, ar.id
	`, sessionID); err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}

	data := &model.SnapshotData{Session: s, Expected: make(map[string]int, len(counts)), Roster: roster}
	for _, c := range counts {
		data.Expected[c.ProgrammeID] = c.Expected
	}
	return data, tx.Commit()
}
