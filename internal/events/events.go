// Package events fans session and admission outcomes out to scoped live subscribers.
package events

import (
	"context"
	"strings"
	"time"

	"qrattend/internal/model"
)

// Type names an event on the realtime channel.
type Type string

const (
	SessionCreated     Type = "session_created"
	SessionRegenerated Type = "session_regenerated"
	SessionEnded       Type = "session_ended"
	AttendanceMarked   Type = "attendance_marked"
	RoomJoined         Type = "room_joined"
)

// Scope is a subscriber group such as "faculty:F001" or "student:S17".
type Scope string

const (
	RoleFaculty = "faculty"
	RoleStudent = "student"
)

// FacultyScope returns the scope of one faculty member's dashboards.
func FacultyScope(facultyID string) Scope { return Scope(RoleFaculty + ":" + facultyID) }

// StudentScope returns the scope of one student's devices.
func StudentScope(studentID string) Scope { return Scope(RoleStudent + ":" + studentID) }

// Kind returns the role prefix of the scope.
func (s Scope) Kind() string {
	kind, _, ok := strings.Cut(string(s), ":")
	if !ok {
		return ""
	}
	return kind
}

// Payload carries the record an event is about.
type Payload struct {
	Session    *model.Session          `json:"session,omitempty"`
	Attendance *model.AttendanceRecord `json:"attendance,omitempty"`
}

// Event is one realtime message.
type Event struct {
	Type  Type      `json:"type"`
	Scope Scope     `json:"scope"`
	At    time.Time `json:"at"`
	Data  Payload   `json:"data"`
}

// Publisher delivers events. Delivery is best-effort: implementations never block on slow
// subscribers and a nil error does not mean anyone received the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
