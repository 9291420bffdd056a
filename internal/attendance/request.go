package attendance

import (
	"strings"

	"rollcall/internal/model"
)

// MarkRequest is a student's attendance submission.
type MarkRequest struct {
	Code        string       `json:"code" validate:"required,len=6,number"`
	UnitCode    string       `json:"unit_code" validate:"required"`
	DeviceID    string       `json:"device_id" validate:"required"`
	Method      model.Method `json:"method" validate:"required,oneof=QR MANUAL_CODE"`
	Latitude    *float64     `json:"latitude" validate:"required_with=Longitude,omitempty,gte=-90,lte=90"`
	Longitude   *float64     `json:"longitude" validate:"required_with=Latitude,omitempty,gte=-180,lte=180"`
	ProgrammeID string       `json:"programme_id" validate:"omitempty,uuid"`
}

func (r *MarkRequest) normalize() {
	r.Code = strings.TrimSpace(r.Code)
	r.UnitCode = strings.TrimSpace(r.UnitCode)
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	r.ProgrammeID = strings.TrimSpace(r.ProgrammeID)
}

// Verification reports each check of an accepted submission.
type Verification struct {
	LocationVerified bool `json:"location_verified"`
	DeviceVerified   bool `json:"device_verified"`
	MethodVerified   bool `json:"method_verified"`
	ScheduleVerified bool `json:"schedule_verified"`
	Overall          bool `json:"overall"`
}

// Result is the outcome of a submission that did not fail.
//
// When RequiresProgrammeSelection is set nothing was recorded and the student
// must resubmit with one of Candidates.
type Result struct {
	Success                    bool                       `json:"success"`
	RequiresProgrammeSelection bool                       `json:"requires_programme_selection"`
	Candidates                 []model.ProgrammeCandidate `json:"candidates,omitempty"`
	ProgrammeID                string                     `json:"programme_id,omitempty"`
	Record                     *model.AttendanceRecord    `json:"record,omitempty"`
	Verification               *Verification              `json:"verification,omitempty"`
	Flags                      []model.Flag               `json:"flags"`
	Message                    string                     `json:"message"`
}
