package verify

import "time"

const (
	// ScheduleGrace is accepted after the scheduled end without a flag.
	ScheduleGrace = 5 * time.Minute
	// ScheduleCutoff is the latest a submission is accepted, with a flag, after the end.
	ScheduleCutoff = 10 * time.Minute
)

// CheckSchedule classifies now against the window [start, end].
func CheckSchedule(now, start, end time.Time) Outcome {
	switch {
	case now.Before(start):
		return Rejected
	case !now.After(end.Add(ScheduleGrace)):
		return Verified
	case !now.After(end.Add(ScheduleCutoff)):
		return Flagged
	default:
		return Rejected
	}
}
