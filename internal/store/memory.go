package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/apperr"
	"rollcall/internal/model"
)

// Memory is a process-local repository enforcing the same uniqueness rules as
// the Postgres schema. Used by tests and STORE_BACKEND=memory.
type Memory struct {
	mu sync.RWMutex

	terms       map[string]model.AcademicTerm
	units       map[string]model.Unit
	programmes  map[string]model.Programme
	students    map[string]model.Student
	assignments map[model.TeachingAssignment]bool
	enrollments []model.Enrollment
	sessions    map[string]model.Session
	sessionSeq  []string
	records     []model.AttendanceRecord
}

func NewMemory() *Memory {
	return &Memory{
		terms:       make(map[string]model.AcademicTerm),
		units:       make(map[string]model.Unit),
		programmes:  make(map[string]model.Programme),
		students:    make(map[string]model.Student),
		assignments: make(map[model.TeachingAssignment]bool),
		sessions:    make(map[string]model.Session),
	}
}

// ---------- Seeding ----------

func (m *Memory) AddTerm(t model.AcademicTerm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.IsActive {
		for id, other := range m.terms {
			if other.UniversityID == t.UniversityID && other.IsActive {
				other.IsActive = false
				m.terms[id] = other
			}
		}
	}
	m.terms[t.ID] = t
}

func (m *Memory) AddUnit(u model.Unit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[u.ID] = u
}

func (m *Memory) AddProgramme(p model.Programme) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programmes[p.ID] = p
}

func (m *Memory) AddStudent(s model.Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
}

func (m *Memory) AddTeachingAssignment(a model.TeachingAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a] = true
}

// AddEnrollment seeds a registry enrollment, deactivating any earlier active one
// for the same student and term.
func (m *Memory) AddEnrollment(e model.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Source == "" {
		e.Source = model.SourceRegistry
	}
	if e.IsActive {
		for i := range m.enrollments {
			if m.enrollments[i].StudentID == e.StudentID && m.enrollments[i].AcademicTermID == e.AcademicTermID {
				m.enrollments[i].IsActive = false
			}
		}
	}
	m.enrollments = append(m.enrollments, e)
}

// ---------- Sessions ----------

// decorate fills display fields the way the Postgres joins do. Caller holds the lock.
func (m *Memory) decorate(s model.Session) *model.Session {
	if u, ok := m.units[s.UnitID]; ok {
		s.UnitCode, s.UnitName = u.Code, u.Name
	}
	links := make([]model.SessionProgramme, len(s.Programmes))
	for i, l := range s.Programmes {
		l.SessionID = s.ID
		if p, ok := m.programmes[l.ProgrammeID]; ok {
			l.Name, l.Department = p.Name, p.Department
		}
		links[i] = l
	}
	s.Programmes = links
	s.Latitude, s.Longitude, s.RadiusMeters = copyFloat(s.Latitude), copyFloat(s.Longitude), copyFloat(s.RadiusMeters)
	return &s
}

func (m *Memory) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return m.decorate(s), nil
}

func (m *Memory) ActiveSessionForLecturer(_ context.Context, lecturerID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.sessionSeq) - 1; i >= 0; i-- {
		s := m.sessions[m.sessionSeq[i]]
		if s.LecturerID == lecturerID && s.Status == model.StatusActive {
			return m.decorate(s), nil
		}
	}
	return nil, nil
}

func (m *Memory) FindLiveSession(_ context.Context, code, unitCode string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.sessionSeq) - 1; i >= 0; i-- {
		s := m.sessions[m.sessionSeq[i]]
		if s.Code != code || s.Status != model.StatusActive {
			continue
		}
		if u, ok := m.units[s.UnitID]; ok && strings.EqualFold(u.Code, unitCode) {
			return m.decorate(s), nil
		}
	}
	return nil, nil
}

func (m *Memory) ListSessions(_ context.Context, lecturerID string, limit, offset int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Session
	for _, id := range m.sessionSeq {
		if s := m.sessions[id]; s.LecturerID == lecturerID {
			out = append(out, *m.decorate(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledStart.After(out[j].ScheduledStart) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CodeInUse(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.codeTaken(code, ""), nil
}

func (m *Memory) codeTaken(code, except string) bool {
	for id, s := range m.sessions {
		if id != except && s.Code == code && s.Status.Live() {
			return true
		}
	}
	return false
}

func (m *Memory) activeTaken(lecturerID, except string) bool {
	for id, s := range m.sessions {
		if id != except && s.LecturerID == lecturerID && s.Status == model.StatusActive {
			return true
		}
	}
	return false
}

func (m *Memory) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("%w: sessions_pkey", apperr.ErrDuplicate)
	}
	if s.Status == model.StatusActive && m.activeTaken(s.LecturerID, "") {
		return fmt.Errorf("%w: sessions_one_active_per_lecturer", apperr.ErrDuplicate)
	}
	if s.Status.Live() && m.codeTaken(s.Code, "") {
		return fmt.Errorf("%w: sessions_live_code", apperr.ErrDuplicate)
	}

	s.SessionNumber = m.nextSessionNumber(s, "")

	stored := *s
	stored.Programmes = append([]model.SessionProgramme(nil), s.Programmes...)
	stored.Latitude, stored.Longitude, stored.RadiusMeters = copyFloat(s.Latitude), copyFloat(s.Longitude), copyFloat(s.RadiusMeters)
	m.sessions[s.ID] = stored
	m.sessionSeq = append(m.sessionSeq, s.ID)
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s *model.Session, replaceLinks bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.ID]
	if !ok || cur.LecturerID != s.LecturerID || !cur.Status.Live() {
		return false, nil
	}
	if s.Code != cur.Code && m.codeTaken(s.Code, s.ID) {
		return false, fmt.Errorf("%w: sessions_live_code", apperr.ErrDuplicate)
	}

	cur.Code = s.Code
	cur.AllowedMethod = s.AllowedMethod
	cur.LocationRequired = s.LocationRequired
	cur.Latitude, cur.Longitude, cur.RadiusMeters = copyFloat(s.Latitude), copyFloat(s.Longitude), copyFloat(s.RadiusMeters)
	cur.ScheduledStart = s.ScheduledStart
	cur.ScheduledEnd = s.ScheduledEnd
	cur.DurationMinutes = s.DurationMinutes
	cur.UpdatedAt = s.UpdatedAt
	if s.Week != cur.Week {
		cur.Week = s.Week
		cur.SessionNumber = m.nextSessionNumber(&cur, cur.ID)
	}
	if replaceLinks {
		cur.Programmes = append([]model.SessionProgramme(nil), s.Programmes...)
	}
	m.sessions[s.ID] = cur
	return true, nil
}

// nextSessionNumber is one past the highest number used in s's week for the
// same lecturer, unit and term, ignoring the session excludeID.
func (m *Memory) nextSessionNumber(s *model.Session, excludeID string) int {
	next := 1
	for id, other := range m.sessions {
		if id != excludeID && other.LecturerID == s.LecturerID && other.UnitID == s.UnitID &&
			other.AcademicTermID == s.AcademicTermID && other.Week == s.Week && other.SessionNumber >= next {
			next = other.SessionNumber + 1
		}
	}
	return next
}

func (m *Memory) TransitionSession(_ context.Context, id, lecturerID string, from, to model.SessionStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.LecturerID != lecturerID || s.Status != from {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = at
	ended := at
	s.EndedAt = &ended
	m.sessions[id] = s
	return true, nil
}

func (m *Memory) ExpireSessions(_ context.Context, cutoff, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.Status.Live() && s.ScheduledEnd.Before(cutoff) {
			s.Status = model.StatusExpired
			s.UpdatedAt = now
			ended := now
			s.EndedAt = &ended
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *Memory) ActivateSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]model.Session, 0)
	for _, id := range m.sessionSeq {
		s := m.sessions[id]
		if s.Status == model.StatusScheduled && !s.ScheduledStart.After(now) && !s.ScheduledEnd.Before(now) {
			due = append(due, s)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].ScheduledStart.Before(due[j].ScheduledStart) })

	var n int64
	for _, s := range due {
		if m.activeTaken(s.LecturerID, "") {
			continue
		}
		s.Status = model.StatusActive
		s.UpdatedAt = now
		m.sessions[s.ID] = s
		n++
	}
	return n, nil
}

// ---------- Catalog ----------

func (m *Memory) ActiveTerm(_ context.Context, universityID string) (*model.AcademicTerm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.terms {
		if t.UniversityID == universityID && t.IsActive {
			return &t, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetUnit(_ context.Context, id string) (*model.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.units[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *Memory) GetProgramme(_ context.Context, id string) (*model.Programme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.programmes[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) ProgrammesByID(_ context.Context, ids []string) (map[string]model.Programme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]model.Programme, len(ids))
	for _, id := range ids {
		if p, ok := m.programmes[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *Memory) UnauthorizedProgrammes(_ context.Context, lecturerID, unitID, termID string, programmeIDs []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var missing []string
	for _, id := range programmeIDs {
		key := model.TeachingAssignment{LecturerID: lecturerID, UnitID: unitID, ProgrammeID: id, AcademicTermID: termID}
		if !m.assignments[key] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ---------- Students & enrollments ----------

func (m *Memory) GetStudent(_ context.Context, id string) (*model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *Memory) GetStudentByRegistration(_ context.Context, regNo string) (*model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if strings.EqualFold(s.RegistrationNumber, regNo) {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Memory) ActiveEnrollment(_ context.Context, studentID, termID string) (*model.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.activeEnrollment(studentID, termID); ok {
		return &e, nil
	}
	return nil, nil
}

func (m *Memory) activeEnrollment(studentID, termID string) (model.Enrollment, bool) {
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.AcademicTermID == termID && e.IsActive {
			return e, true
		}
	}
	return model.Enrollment{}, false
}

func (m *Memory) CreateEnrollment(_ context.Context, e model.Enrollment) (model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.IsActive {
		if existing, ok := m.activeEnrollment(e.StudentID, e.AcademicTermID); ok {
			return existing, nil
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.enrollments = append(m.enrollments, e)
	return e, nil
}

// ---------- Attendance ----------

func (m *Memory) AttendanceExists(_ context.Context, sessionID, studentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasRecord(sessionID, studentID), nil
}

func (m *Memory) hasRecord(sessionID, studentID string) bool {
	for _, r := range m.records {
		if r.SessionID == sessionID && r.StudentID == studentID {
			return true
		}
	}
	return false
}

func (m *Memory) InsertAttendance(_ context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasRecord(rec.SessionID, rec.StudentID) {
		return model.AttendanceRecord{}, fmt.Errorf("%w: attendance_one_per_student", apperr.ErrDuplicate)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now().UTC()
	}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *Memory) GetAttendance(_ context.Context, id string) (*model.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) DeleteAttendance(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListAttendance(_ context.Context, sessionID string) ([]model.AttendanceLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AttendanceLine
	for _, r := range m.records {
		if r.SessionID != sessionID {
			continue
		}
		st := m.students[r.StudentID]
		out = append(out, model.AttendanceLine{
			AttendanceRecord:   r,
			RegistrationNumber: st.RegistrationNumber,
			FullName:           st.FullName,
		})
	}
	return out, nil
}

func (m *Memory) LoadSnapshot(_ context.Context, sessionID string) (*model.SnapshotData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	s := m.decorate(raw)

	data := &model.SnapshotData{Session: s, Expected: make(map[string]int, len(s.Programmes))}
	for _, link := range s.Programmes {
		count := 0
		for _, e := range m.enrollments {
			if e.IsActive && e.ProgrammeID == link.ProgrammeID && e.YearOfStudy == link.YearOfStudy &&
				e.AcademicTermID == s.AcademicTermID {
				count++
			}
		}
		data.Expected[link.ProgrammeID] = count
	}

	for _, r := range m.records {
		if r.SessionID != sessionID {
			continue
		}
		st := m.students[r.StudentID]
		for _, e := range m.enrollments {
			if e.StudentID != r.StudentID || !e.IsActive {
				continue
			}
			data.Roster = append(data.Roster, model.RosterEntry{
				StudentAttendance: model.StudentAttendance{
					StudentID:          st.ID,
					RegistrationNumber: st.RegistrationNumber,
					FullName:           st.FullName,
					MarkedAt:           r.MarkedAt,
					IsSuspicious:       r.IsSuspicious,
					SuspiciousReason:   r.SuspiciousReason,
				},
				ProgrammeID:    e.ProgrammeID,
				YearOfStudy:    e.YearOfStudy,
				AcademicTermID: e.AcademicTermID,
			})
		}
	}
	return data, nil
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
