// Package programme decides which programme cohort an attendance submission
// is counted under.
package programme

import (
	"context"
	"fmt"

	"rollcall/internal/apperr"
	"rollcall/internal/model"
)

// Repository is the enrollment storage the resolver reads and writes.
type Repository interface {
	ActiveEnrollment(ctx context.Context, studentID, termID string) (*model.Enrollment, error)
	CreateEnrollment(ctx context.Context, e model.Enrollment) (model.Enrollment, error)
	GetProgramme(ctx context.Context, id string) (*model.Programme, error)
}

// Resolution is the resolver's decision for one submission.
type Resolution struct {
	ProgrammeID string
	YearOfStudy int

	// SelectionRequired is set when the student must pick one of Candidates
	// and resubmit; ProgrammeID is empty in that case.
	SelectionRequired bool
	Candidates        []model.ProgrammeCandidate

	// Pending is the enrollment to create once the submission is accepted.
	Pending *model.Enrollment
}

type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve plans the programme for studentID in session without writing anything.
func (r *Resolver) Resolve(ctx context.Context, session *model.Session, studentID, requestedID string) (Resolution, error) {
	current, err := r.repo.ActiveEnrollment(ctx, studentID, session.AcademicTermID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load enrollment: %w", err)
	}

	if current != nil {
		link, ok := session.Links(current.ProgrammeID)
		if !ok {
			return Resolution{}, r.notInSession(ctx, current.ProgrammeID)
		}
		return Resolution{ProgrammeID: link.ProgrammeID, YearOfStudy: link.YearOfStudy}, nil
	}

	if len(session.Programmes) == 1 {
		return planned(session, studentID, session.Programmes[0]), nil
	}

	if requestedID == "" {
		return Resolution{SelectionRequired: true, Candidates: Candidates(session)}, nil
	}

	link, ok := session.Links(requestedID)
	if !ok {
		return Resolution{}, apperr.Validation("selected programme is not part of this session",
			apperr.FieldError{Field: "programme_id", Error: "not one of the session programmes"})
	}
	return planned(session, studentID, link), nil
}

// Commit creates the enrollment planned by Resolve, if any. If another request
// enrolled the student in the meantime under a different programme or year,
// the plan is stale and Commit returns a Conflict.
func (r *Resolver) Commit(ctx context.Context, res Resolution) error {
	if res.Pending == nil {
		return nil
	}
	committed, err := r.repo.CreateEnrollment(ctx, *res.Pending)
	if err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	if committed.ProgrammeID != res.ProgrammeID || committed.YearOfStudy != res.YearOfStudy {
		return apperr.Conflict("your enrollment changed while this submission was processed, please submit again")
	}
	return nil
}

// Candidates lists the session programmes in link order.
func Candidates(session *model.Session) []model.ProgrammeCandidate {
	out := make([]model.ProgrammeCandidate, 0, len(session.Programmes))
	for _, p := range session.Programmes {
		out = append(out, model.ProgrammeCandidate{
			ProgrammeID: p.ProgrammeID,
			Name:        p.Name,
			Department:  p.Department,
			YearOfStudy: p.YearOfStudy,
		})
	}
	return out
}

func planned(session *model.Session, studentID string, link model.SessionProgramme) Resolution {
	return Resolution{
		ProgrammeID: link.ProgrammeID,
		YearOfStudy: link.YearOfStudy,
		Pending: &model.Enrollment{
			StudentID:      studentID,
			ProgrammeID:    link.ProgrammeID,
			AcademicTermID: session.AcademicTermID,
			YearOfStudy:    link.YearOfStudy,
			Source:         model.SourceFromAttendance,
			IsActive:       true,
		},
	}
}

func (r *Resolver) notInSession(ctx context.Context, programmeID string) error {
	name := programmeID
	p, err := r.repo.GetProgramme(ctx, programmeID)
	if err != nil {
		return fmt.Errorf("load programme: %w", err)
	}
	if p != nil {
		name = p.Name
	}
	return apperr.Validation(fmt.Sprintf("you are enrolled in %s, which is not part of this session", name))
}
