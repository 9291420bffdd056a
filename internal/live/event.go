// Package live distributes attendance events to lecturers watching a session.
//
// A viewer first builds a Snapshot and then subscribes to the Bus. Events
// published between those two steps are not delivered to that viewer; the
// roster catches up on the next snapshot.
package live

import (
	"encoding/json"
	"fmt"

	"rollcall/internal/model"
)

// Event is either InitialState or AttendanceMarked.
type Event interface {
	// Topic is the session id the event belongs to.
	Topic() string
	isEvent()
}

// InitialState seeds a new viewer.
type InitialState struct {
	Snapshot *Snapshot
}

func (e InitialState) Topic() string { return e.Snapshot.SessionID }
func (InitialState) isEvent()        {}

// AttendanceMarked announces a new attendance record.
type AttendanceMarked struct {
	SessionID   string                  `json:"session_id"`
	ProgrammeID string                  `json:"programme_id"`
	Student     model.StudentAttendance `json:"student"`
}

func (e AttendanceMarked) Topic() string { return e.SessionID }
func (AttendanceMarked) isEvent()        {}

const (
	EventInitialState     = "initial_state"
	EventAttendanceMarked = "attendance_marked"
)

// Encode returns the wire name and JSON payload of evt.
func Encode(evt Event) (string, []byte, error) {
	var (
		name    string
		payload any
	)
	switch e := evt.(type) {
	case InitialState:
		name, payload = EventInitialState, e.Snapshot
	case AttendanceMarked:
		name, payload = EventAttendanceMarked, e
	default:
		return "", nil, fmt.Errorf("unknown live event %T", evt)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}
	return name, body, nil
}

// Envelope is the WebSocket frame carrying one event.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEnvelope wraps evt for transports without named events.
func EncodeEnvelope(evt Event) ([]byte, error) {
	name, body, err := Encode(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: name, Data: body})
}
