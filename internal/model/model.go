package model

import "time"

// Status is the outcome recorded for a student in a session.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
)

// Location is the geofence anchor of a session.
type Location struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// Session is one faculty-initiated attendance window.
type Session struct {
	ID          string     `json:"session_id"`
	FacultyID   string     `json:"faculty_id"`
	Subject     string     `json:"subject"`
	Room        string     `json:"room"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	GeoRequired bool       `json:"geo_required"`
	Location    *Location  `json:"location,omitempty"` // set iff GeoRequired
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CheckInURL  string     `json:"check_in_url"`
}

// Ended reports whether the session was explicitly ended.
func (s *Session) Ended() bool { return s.EndedAt != nil }

// ExpiredAt reports whether the session is past its expiry at now.
func (s *Session) ExpiredAt(now time.Time) bool { return now.After(s.ExpiresAt) }

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// AttendanceRecord is one student's outcome for one session.
type AttendanceRecord struct {
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Enrollment links a student to a subject taught by a faculty member.
type Enrollment struct {
	StudentID string    `json:"student_id"`
	Subject   string    `json:"subject"`
	FacultyID string    `json:"faculty_id"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is an attendance record joined with its session, as read back for
// histories and cross-session exports.
type LedgerEntry struct {
	SessionID   string    `json:"session_id"`
	StudentID   string    `json:"student_id"`
	FacultyID   string    `json:"faculty_id"`
	Subject     string    `json:"subject"`
	Room        string    `json:"room"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	SessionDate time.Time `json:"session_date"`
}
