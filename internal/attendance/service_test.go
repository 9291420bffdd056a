package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/apperr"
	"rollcall/internal/live"
	"rollcall/internal/model"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

const (
	universityID = "6f1c2a52-0d4e-4a8e-9d1b-1f0a4c9d2e01"
	unitID       = "0b7f6a1e-5c3d-4e2f-8a9b-2c1d0e3f4a02"
	termID       = "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c03"
	progCS       = "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c05"
	progSE       = "2b3c4d5e-6f7a-4b8c-9d0e-1f2a3b4c5d06"
	progMath     = "3c4d5e6f-7a8b-4c9d-8e1f-2a3b4c5d6e07"
	lecturer     = "4d5e6f7a-8b9c-4d0e-9f2a-3b4c5d6e7f08"
	otherLect    = "5e6f7a8b-9c0d-4e1f-8a3b-4c5d6e7f8a09"
	studentID    = "6f7a8b9c-0d1e-4f2a-9b4c-5d6e7f8a9b10"
	deviceID     = "pixel-7-a1b2"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []live.Event
}

func (p *recordingPublisher) Publish(evt live.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) Events() []live.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]live.Event(nil), p.events...)
}

type fixture struct {
	repo     *store.Memory
	sessions *session.Service
	svc      *Service
	pub      *recordingPublisher
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := store.NewMemory()
	repo.AddTerm(model.AcademicTerm{ID: termID, UniversityID: universityID, Name: "2025/26 S2", IsActive: true})
	repo.AddUnit(model.Unit{ID: unitID, UniversityID: universityID, Code: "CSC 221", Name: "Data Structures"})
	repo.AddProgramme(model.Programme{ID: progCS, UniversityID: universityID, Name: "Computer Science", Department: "Computing"})
	repo.AddProgramme(model.Programme{ID: progSE, UniversityID: universityID, Name: "Software Engineering", Department: "Computing"})
	repo.AddProgramme(model.Programme{ID: progMath, UniversityID: universityID, Name: "Mathematics", Department: "Sciences"})
	for _, p := range []string{progCS, progSE} {
		repo.AddTeachingAssignment(model.TeachingAssignment{LecturerID: lecturer, UnitID: unitID, ProgrammeID: p, AcademicTermID: termID})
	}
	device := deviceID
	repo.AddStudent(model.Student{ID: studentID, RegistrationNumber: "SCT211-0001/2023", FullName: "Wanjiru Kamau", DeviceID: &device})

	f := &fixture{repo: repo, pub: &recordingPublisher{}}
	f.sessions = session.NewService(repo, 10*time.Minute)
	f.svc = NewService(repo, f.pub)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

type sessionOpt func(*session.StartRequest)

func withFence(lat, lon, radius float64) sessionOpt {
	return func(r *session.StartRequest) {
		r.LocationRequired = true
		r.Geofence = &model.Geofence{Latitude: lat, Longitude: lon, RadiusMeters: radius}
	}
}

func withMethod(m model.Method) sessionOpt {
	return func(r *session.StartRequest) { r.AllowedMethod = m }
}

func withProgrammes(ids ...string) sessionOpt {
	return func(r *session.StartRequest) {
		r.Programmes = nil
		for _, id := range ids {
			r.Programmes = append(r.Programmes, session.ProgrammeLink{ProgrammeID: id, YearOfStudy: 2})
		}
	}
}

// startSession opens an ACTIVE session and moves the clock ten minutes into it.
func (f *fixture) startSession(t *testing.T, opts ...sessionOpt) *model.Session {
	t.Helper()
	req := session.StartRequest{
		UniversityID:    universityID,
		UnitID:          unitID,
		Programmes:      []session.ProgrammeLink{{ProgrammeID: progCS, YearOfStudy: 2}},
		DurationMinutes: 60,
	}
	for _, opt := range opts {
		opt(&req)
	}
	sess, err := f.sessions.Start(context.Background(), lecturer, req)
	require.NoError(t, err)
	f.clock = sess.ScheduledStart.Add(10 * time.Minute)
	return sess
}

func submission(sess *model.Session) MarkRequest {
	return MarkRequest{
		Code:     sess.Code,
		UnitCode: "CSC 221",
		DeviceID: deviceID,
		Method:   model.MethodQR,
	}
}

func at(req MarkRequest, lat, lon float64) MarkRequest {
	req.Latitude, req.Longitude = &lat, &lon
	return req
}

func recordCount(t *testing.T, f *fixture, sessionID string) int {
	t.Helper()
	lines, err := f.repo.ListAttendance(context.Background(), sessionID)
	require.NoError(t, err)
	return len(lines)
}

func TestMark_InsideGeofence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t, withFence(0, 0, 50))

	res, err := f.svc.Mark(ctx, studentID, at(submission(sess), 0, 0.0003))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.RequiresProgrammeSelection)
	require.NotNil(t, res.Verification)
	assert.Equal(t, Verification{
		LocationVerified: true,
		DeviceVerified:   true,
		MethodVerified:   true,
		ScheduleVerified: true,
		Overall:          true,
	}, *res.Verification)
	assert.Empty(t, res.Flags)
	require.NotNil(t, res.Record)
	assert.False(t, res.Record.IsSuspicious)
	assert.InDelta(t, 33.36, *res.Record.DistanceMeters, 0.05)
	assert.Equal(t, progCS, res.ProgrammeID)

	assert.Equal(t, 1, recordCount(t, f, sess.ID))

	enrollment, err := f.repo.ActiveEnrollment(ctx, studentID, termID)
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	assert.Equal(t, model.SourceFromAttendance, enrollment.Source)
	assert.Equal(t, progCS, enrollment.ProgrammeID)
	assert.Equal(t, 2, enrollment.YearOfStudy)

	events := f.pub.Events()
	require.Len(t, events, 1)
	evt, ok := events[0].(live.AttendanceMarked)
	require.True(t, ok)
	assert.Equal(t, sess.ID, evt.SessionID)
	assert.Equal(t, progCS, evt.ProgrammeID)
	assert.Equal(t, "SCT211-0001/2023", evt.Student.RegistrationNumber)
	assert.False(t, evt.Student.IsSuspicious)
}

func TestMark_InsideGraceBandIsFlagged(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t, withFence(0, 0, 50))

	// about 55.6m from the centre of a 50m fence
	res, err := f.svc.Mark(context.Background(), studentID, at(submission(sess), 0, 0.0005))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.Verification.LocationVerified)
	assert.False(t, res.Verification.Overall)
	assert.True(t, res.Verification.ScheduleVerified)
	require.Len(t, res.Flags, 1)
	assert.Equal(t, model.FlagLocationMismatch, res.Flags[0].Type)
	assert.Equal(t, model.SeverityMedium, res.Flags[0].Severity)
	assert.True(t, res.Record.IsSuspicious)
	assert.Equal(t, "LOCATION_MISMATCH", res.Record.SuspiciousReason)

	events := f.pub.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].(live.AttendanceMarked).Student.IsSuspicious)
}

func TestMark_OutsideGraceBandRejected(t *testing.T) {
	for name, lon := range map[string]float64{
		"about 78m":  0.0007,
		"about 222m": 0.002,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			sess := f.startSession(t, withFence(0, 0, 50))

			res, err := f.svc.Mark(ctx, studentID, at(submission(sess), 0, lon))
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

			assert.Zero(t, recordCount(t, f, sess.ID))
			assert.Empty(t, f.pub.Events())

			enrollment, err := f.repo.ActiveEnrollment(ctx, studentID, termID)
			require.NoError(t, err)
			assert.Nil(t, enrollment, "no enrollment for a rejected submission")
		})
	}
}

func TestMark_MissingLocationWhenRequired(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t, withFence(0, 0, 50))

	_, err := f.svc.Mark(context.Background(), studentID, submission(sess))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Zero(t, recordCount(t, f, sess.ID))
}

func TestMark_LocationIgnoredWithoutGeofence(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)

	res, err := f.svc.Mark(context.Background(), studentID, at(submission(sess), 10, 10))
	require.NoError(t, err)
	assert.True(t, res.Verification.LocationVerified)
	assert.Nil(t, res.Record.DistanceMeters)
}

func TestMark_RequiresProgrammeSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t, withProgrammes(progCS, progSE))

	res, err := f.svc.Mark(ctx, studentID, submission(sess))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.RequiresProgrammeSelection)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, progCS, res.Candidates[0].ProgrammeID)
	assert.Equal(t, "Computer Science", res.Candidates[0].Name)
	assert.Equal(t, progSE, res.Candidates[1].ProgrammeID)
	assert.Equal(t, 2, res.Candidates[1].YearOfStudy)
	assert.Nil(t, res.Record)
	assert.Zero(t, recordCount(t, f, sess.ID))
	assert.Empty(t, f.pub.Events())

	again, err := f.svc.Mark(ctx, studentID, submission(sess))
	require.NoError(t, err)
	assert.Equal(t, res.Candidates, again.Candidates, "same state, same candidates")

	req := submission(sess)
	req.ProgrammeID = progSE
	res, err = f.svc.Mark(ctx, studentID, req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, progSE, res.ProgrammeID)

	enrollment, err := f.repo.ActiveEnrollment(ctx, studentID, termID)
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	assert.Equal(t, progSE, enrollment.ProgrammeID)
}

func TestMark_SelectedProgrammeNotInSession(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t, withProgrammes(progCS, progSE))

	req := submission(sess)
	req.ProgrammeID = progMath
	_, err := f.svc.Mark(context.Background(), studentID, req)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestMark_EnrolledElsewhere(t *testing.T) {
	f := newFixture(t)
	f.repo.AddEnrollment(model.Enrollment{StudentID: studentID, ProgrammeID: progMath, AcademicTermID: termID, YearOfStudy: 2, IsActive: true})
	sess := f.startSession(t)

	_, err := f.svc.Mark(context.Background(), studentID, submission(sess))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Mathematics")
}

func TestMark_ExistingEnrollmentUsedWithoutSelection(t *testing.T) {
	f := newFixture(t)
	f.repo.AddEnrollment(model.Enrollment{StudentID: studentID, ProgrammeID: progSE, AcademicTermID: termID, YearOfStudy: 2, IsActive: true})
	sess := f.startSession(t, withProgrammes(progCS, progSE))

	res, err := f.svc.Mark(context.Background(), studentID, submission(sess))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, progSE, res.ProgrammeID)
}

func TestMark_Method(t *testing.T) {
	tests := []struct {
		allowed model.Method
		used    model.Method
		ok      bool
	}{
		{model.MethodAny, model.MethodQR, true},
		{model.MethodAny, model.MethodManualCode, true},
		{model.MethodQR, model.MethodQR, true},
		{model.MethodQR, model.MethodManualCode, false},
		{model.MethodManualCode, model.MethodQR, false},
		{model.MethodLecturerManual, model.MethodQR, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.allowed)+"/"+string(tt.used), func(t *testing.T) {
			f := newFixture(t)
			sess := f.startSession(t, withMethod(tt.allowed))
			req := submission(sess)
			req.Method = tt.used

			res, err := f.svc.Mark(context.Background(), studentID, req)
			if tt.ok {
				require.NoError(t, err)
				assert.True(t, res.Verification.MethodVerified)
				return
			}
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Zero(t, recordCount(t, f, sess.ID))
		})
	}
}

func TestMethodAllowed(t *testing.T) {
	assert.True(t, methodAllowed(model.MethodQR, model.MethodLecturerManual))
	assert.True(t, methodAllowed(model.MethodManualCode, model.MethodLecturerManual))
	assert.True(t, methodAllowed(model.MethodAny, model.MethodQR))
	assert.False(t, methodAllowed(model.MethodQR, model.MethodManualCode))
}

func TestMark_Device(t *testing.T) {
	t.Run("different device", func(t *testing.T) {
		f := newFixture(t)
		sess := f.startSession(t)
		req := submission(sess)
		req.DeviceID = "someone-elses-phone"

		_, err := f.svc.Mark(context.Background(), studentID, req)
		assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
		assert.Zero(t, recordCount(t, f, sess.ID))
	})

	t.Run("no registered device", func(t *testing.T) {
		f := newFixture(t)
		f.repo.AddStudent(model.Student{ID: studentID, RegistrationNumber: "SCT211-0001/2023", FullName: "Wanjiru Kamau"})
		sess := f.startSession(t)

		_, err := f.svc.Mark(context.Background(), studentID, submission(sess))
		assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	})
}

func TestMark_Schedule(t *testing.T) {
	tests := []struct {
		name    string
		offset  func(sess *model.Session) time.Time
		ok      bool
		flagged bool
	}{
		{"before start", func(s *model.Session) time.Time { return s.ScheduledStart.Add(-time.Minute) }, false, false},
		{"at start", func(s *model.Session) time.Time { return s.ScheduledStart }, true, false},
		{"at end plus five minutes", func(s *model.Session) time.Time { return s.ScheduledEnd.Add(5 * time.Minute) }, true, false},
		{"seven minutes late", func(s *model.Session) time.Time { return s.ScheduledEnd.Add(7 * time.Minute) }, true, true},
		{"at end plus ten minutes", func(s *model.Session) time.Time { return s.ScheduledEnd.Add(10 * time.Minute) }, true, true},
		{"eleven minutes late", func(s *model.Session) time.Time { return s.ScheduledEnd.Add(11 * time.Minute) }, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sess := f.startSession(t)
			f.clock = tt.offset(sess)

			res, err := f.svc.Mark(context.Background(), studentID, submission(sess))
			if !tt.ok {
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
				assert.Zero(t, recordCount(t, f, sess.ID))
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Verification.ScheduleVerified)
			assert.Equal(t, tt.flagged, res.Record.IsSuspicious)
			if tt.flagged {
				require.Len(t, res.Flags, 1)
				assert.Equal(t, model.FlagOutsideScheduleWindow, res.Flags[0].Type)
				assert.Equal(t, model.SeverityLow, res.Flags[0].Severity)
			}
		})
	}
}

func TestMark_FlagsAccumulate(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t, withFence(0, 0, 50))
	f.clock = sess.ScheduledEnd.Add(8 * time.Minute)

	res, err := f.svc.Mark(context.Background(), studentID, at(submission(sess), 0, 0.0005))
	require.NoError(t, err)
	require.Len(t, res.Flags, 2)
	assert.Equal(t, "OUTSIDE_SCHEDULE_WINDOW, LOCATION_MISMATCH", res.Record.SuspiciousReason)
}

func TestMark_RequestValidation(t *testing.T) {
	lat := 91.0
	lon := 0.0
	tests := []struct {
		name   string
		mutate func(r *MarkRequest)
		field  string
	}{
		{"short code", func(r *MarkRequest) { r.Code = "12345" }, "code"},
		{"letters in code", func(r *MarkRequest) { r.Code = "12a456" }, "code"},
		{"signed code", func(r *MarkRequest) { r.Code = "+12345" }, "code"},
		{"blank unit code", func(r *MarkRequest) { r.UnitCode = "   " }, "unit_code"},
		{"blank device", func(r *MarkRequest) { r.DeviceID = "" }, "device_id"},
		{"lecturer method", func(r *MarkRequest) { r.Method = model.MethodLecturerManual }, "method"},
		{"missing method", func(r *MarkRequest) { r.Method = "" }, "method"},
		{"latitude out of range", func(r *MarkRequest) { r.Latitude, r.Longitude = &lat, &lon }, "latitude"},
		{"longitude without latitude", func(r *MarkRequest) { r.Longitude = &lon }, "latitude"},
		{"malformed programme id", func(r *MarkRequest) { r.ProgrammeID = "cs" }, "programme_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := MarkRequest{Code: "123456", UnitCode: "CSC 221", DeviceID: deviceID, Method: model.MethodQR}
			tt.mutate(&req)

			_, err := f.svc.Mark(context.Background(), studentID, req)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			var fields []string
			for _, fe := range apperr.FieldsOf(err) {
				fields = append(fields, fe.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestMark_SessionLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)

	req := submission(sess)
	req.UnitCode = "csc 221"
	res, err := f.svc.Mark(ctx, studentID, req)
	require.NoError(t, err, "unit code matches case-insensitively")
	assert.True(t, res.Success)

	req = submission(sess)
	req.UnitCode = "MAT 101"
	_, err = f.svc.Mark(ctx, studentID, req)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	ended, err := f.sessions.End(ctx, lecturer, sess.ID)
	require.NoError(t, err)
	require.True(t, ended)
	_, err = f.svc.Mark(ctx, studentID, submission(sess))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "only ACTIVE sessions accept submissions")
}

func TestMark_UnknownStudent(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)
	_, err := f.svc.Mark(context.Background(), "0a0a0a0a-0a0a-4a0a-8a0a-0a0a0a0a0a0a", submission(sess))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestMark_DuplicateSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)

	_, err := f.svc.Mark(ctx, studentID, submission(sess))
	require.NoError(t, err)

	_, err = f.svc.Mark(ctx, studentID, submission(sess))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 1, recordCount(t, f, sess.ID))
	assert.Len(t, f.pub.Events(), 1)
}

func TestMark_ConcurrentDuplicatesYieldOneRecord(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t, withFence(0, 0, 50))

	const n = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Mark(context.Background(), studentID, at(submission(sess), 0, 0.0001))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, recordCount(t, f, sess.ID))
	assert.Len(t, f.pub.Events(), 1)
}

func TestMark_PublishesToLiveViewers(t *testing.T) {
	f := newFixture(t)
	bus := live.NewBus(4)
	pool := queue.NewPool("test-live", 1, 4)
	defer pool.Close(context.Background())
	f.svc = NewService(f.repo, live.NewPublisher(bus, pool))
	f.svc.now = func() time.Time { return f.clock }

	sess := f.startSession(t)
	sub := bus.Subscribe(sess.ID)
	defer sub.Close()
	other := bus.Subscribe("another-session")
	defer other.Close()

	_, err := f.svc.Mark(context.Background(), studentID, submission(sess))
	require.NoError(t, err)

	select {
	case evt := <-sub.C():
		assert.Equal(t, "Wanjiru Kamau", evt.(live.AttendanceMarked).Student.FullName)
	case <-time.After(time.Second):
		t.Fatal("no live event")
	}
	select {
	case evt := <-other.C():
		t.Fatalf("event leaked to another session: %#v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLecturerSign(t *testing.T) {
	ctx := context.Background()
	enrollIn := func(f *fixture, programmeID string) {
		f.repo.AddEnrollment(model.Enrollment{StudentID: studentID, ProgrammeID: programmeID, AcademicTermID: termID, YearOfStudy: 2, IsActive: true})
	}

	t.Run("records and publishes", func(t *testing.T) {
		f := newFixture(t)
		enrollIn(f, progCS)
		sess := f.startSession(t)

		rec, err := f.svc.LecturerSign(ctx, lecturer, sess.ID, "sct211-0001/2023")
		require.NoError(t, err)
		assert.Equal(t, model.MethodLecturerManual, rec.Method)
		assert.False(t, rec.IsSuspicious)
		assert.Equal(t, 1, recordCount(t, f, sess.ID))

		events := f.pub.Events()
		require.Len(t, events, 1)
		assert.Equal(t, progCS, events[0].(live.AttendanceMarked).ProgrammeID)

		_, err = f.svc.LecturerSign(ctx, lecturer, sess.ID, "SCT211-0001/2023")
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	})

	t.Run("ended session still accepts", func(t *testing.T) {
		f := newFixture(t)
		enrollIn(f, progCS)
		sess := f.startSession(t)
		_, err := f.sessions.End(ctx, lecturer, sess.ID)
		require.NoError(t, err)

		_, err = f.svc.LecturerSign(ctx, lecturer, sess.ID, "SCT211-0001/2023")
		assert.NoError(t, err)
	})

	t.Run("not the owner", func(t *testing.T) {
		f := newFixture(t)
		enrollIn(f, progCS)
		sess := f.startSession(t)
		_, err := f.svc.LecturerSign(ctx, otherLect, sess.ID, "SCT211-0001/2023")
		assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	})

	t.Run("unknown student", func(t *testing.T) {
		f := newFixture(t)
		sess := f.startSession(t)
		_, err := f.svc.LecturerSign(ctx, lecturer, sess.ID, "XYZ-9")
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("no enrollment", func(t *testing.T) {
		f := newFixture(t)
		sess := f.startSession(t)
		_, err := f.svc.LecturerSign(ctx, lecturer, sess.ID, "SCT211-0001/2023")
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("programme not linked", func(t *testing.T) {
		f := newFixture(t)
		enrollIn(f, progMath)
		sess := f.startSession(t)
		_, err := f.svc.LecturerSign(ctx, lecturer, sess.ID, "SCT211-0001/2023")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("cancelled session", func(t *testing.T) {
		f := newFixture(t)
		enrollIn(f, progCS)
		start := time.Now().UTC().Add(time.Hour)
		sess, err := f.sessions.Start(ctx, lecturer, session.StartRequest{
			UniversityID:    universityID,
			UnitID:          unitID,
			Programmes:      []session.ProgrammeLink{{ProgrammeID: progCS, YearOfStudy: 2}},
			DurationMinutes: 60,
			StartTime:       &start,
		})
		require.NoError(t, err)
		ok, err := f.sessions.Cancel(ctx, lecturer, sess.ID)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = f.svc.LecturerSign(ctx, lecturer, sess.ID, "SCT211-0001/2023")
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	})
}

func TestDeleteAndListRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.startSession(t)

	res, err := f.svc.Mark(ctx, studentID, submission(sess))
	require.NoError(t, err)

	lines, err := f.svc.ListRecords(ctx, lecturer, sess.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Wanjiru Kamau", lines[0].FullName)
	assert.Equal(t, res.Record.ID, lines[0].ID)

	_, err = f.svc.ListRecords(ctx, otherLect, sess.ID)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	err = f.svc.DeleteRecord(ctx, otherLect, res.Record.ID)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	require.NoError(t, f.svc.DeleteRecord(ctx, lecturer, res.Record.ID))
	assert.Zero(t, recordCount(t, f, sess.ID))

	err = f.svc.DeleteRecord(ctx, lecturer, res.Record.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	lines, err = f.svc.ListRecords(ctx, lecturer, sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, lines)
	assert.Empty(t, lines)
}
