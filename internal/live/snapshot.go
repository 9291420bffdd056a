package live

import (
	"context"
	"fmt"

	"rollcall/internal/apperr"
	"rollcall/internal/model"
)

// SnapshotRepository reads everything a snapshot needs in one consistent read.
type SnapshotRepository interface {
	LoadSnapshot(ctx context.Context, sessionID string) (*model.SnapshotData, error)
}

// Snapshot is the attendance of a session grouped by linked programme.
type Snapshot struct {
	SessionID  string            `json:"session_id"`
	Programmes []ProgrammeRoster `json:"programmes"`
}

// ProgrammeRoster lists the attendees counted under one programme.
type ProgrammeRoster struct {
	ProgrammeID   string                    `json:"programme_id"`
	Name          string                    `json:"name"`
	YearOfStudy   int                       `json:"year_of_study"`
	ExpectedCount int                       `json:"expected_count"`
	Students      []model.StudentAttendance `json:"students"`
}

type SnapshotBuilder struct {
	repo SnapshotRepository
}

func NewSnapshotBuilder(repo SnapshotRepository) *SnapshotBuilder {
	return &SnapshotBuilder{repo: repo}
}

// Build returns the current roster of sessionID. A student is listed under a
// programme only if they attended and their active enrollment matches that
// programme, year and the session's term.
func (b *SnapshotBuilder) Build(ctx context.Context, sessionID string) (*Snapshot, error) {
	snap, err := b.build(ctx, sessionID)
	return snap, apperr.Boundary("live.Snapshot", err)
}

func (b *SnapshotBuilder) build(ctx context.Context, sessionID string) (*Snapshot, error) {
	data, err := b.repo.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if data == nil || data.Session == nil {
		return nil, apperr.NotFound("session not found")
	}

	sess := data.Session
	out := &Snapshot{SessionID: sess.ID, Programmes: make([]ProgrammeRoster, 0, len(sess.Programmes))}
	for _, link := range sess.Programmes {
		roster := ProgrammeRoster{
			ProgrammeID:   link.ProgrammeID,
			Name:          link.Name,
			YearOfStudy:   link.YearOfStudy,
			ExpectedCount: data.Expected[link.ProgrammeID],
			Students:      []model.StudentAttendance{},
		}
		for _, entry := range data.Roster {
			if entry.ProgrammeID == link.ProgrammeID &&
				entry.YearOfStudy == link.YearOfStudy &&
				entry.AcademicTermID == sess.AcademicTermID {
				roster.Students = append(roster.Students, entry.StudentAttendance)
			}
		}
		out.Programmes = append(out.Programmes, roster)
	}
	return out, nil
}
