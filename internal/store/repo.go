package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"qrattend/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Repository persists sessions, attendance and enrollments.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a repo.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

type sessionRow struct {
	SessionID    string          `db:"session_id"`
	FacultyID    string          `db:"faculty_id"`
	Subject      string          `db:"subject"`
	Room         string          `db:"room"`
	CreatedAtMS  int64           `db:"created_at_ms"`
	ExpiresAtMS  int64           `db:"expires_at_ms"`
	EndedAtMS    sql.NullInt64   `db:"ended_at_ms"`
	GeoRequired  int64           `db:"geo_required"`
	Latitude     sql.NullFloat64 `db:"latitude"`
	Longitude    sql.NullFloat64 `db:"longitude"`
	RadiusMeters sql.NullFloat64 `db:"radius_meters"`
	CheckInURL   string          `db:"check_in_url"`
}

const sessionColumns = `session_id, faculty_id, subject, room, created_at_ms, expires_at_ms,
	ended_at_ms, geo_required, latitude, longitude, radius_meters, check_in_url`

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func rowFromSession(s *model.Session) sessionRow {
	row := sessionRow{
		SessionID:   s.ID,
		FacultyID:   s.FacultyID,
		Subject:     s.Subject,
		Room:        s.Room,
		CreatedAtMS: toMillis(s.CreatedAt),
		ExpiresAtMS: toMillis(s.ExpiresAt),
		CheckInURL:  s.CheckInURL,
	}
	if s.EndedAt != nil {
		row.EndedAtMS = sql.NullInt64{Int64: toMillis(*s.EndedAt), Valid: true}
	}
	if s.GeoRequired {
		row.GeoRequired = 1
	}
	if s.Location != nil {
		row.Latitude = sql.NullFloat64{Float64: s.Location.Latitude, Valid: true}
		row.Longitude = sql.NullFloat64{Float64: s.Location.Longitude, Valid: true}
		row.RadiusMeters = sql.NullFloat64{Float64: s.Location.RadiusMeters, Valid: true}
	}
	return row
}

func (r sessionRow) toSession() *model.Session {
	s := &model.Session{
		ID:          r.SessionID,
		FacultyID:   r.FacultyID,
		Subject:     r.Subject,
		Room:        r.Room,
		CreatedAt:   fromMillis(r.CreatedAtMS),
		ExpiresAt:   fromMillis(r.ExpiresAtMS),
		GeoRequired: r.GeoRequired != 0,
		CheckInURL:  r.CheckInURL,
	}
	if r.EndedAtMS.Valid {
		t := fromMillis(r.EndedAtMS.Int64)
		s.EndedAt = &t
	}
	if r.Latitude.Valid && r.Longitude.Valid {
		s.Location = &model.Location{
			Latitude:     r.Latitude.Float64,
			Longitude:    r.Longitude.Float64,
			RadiusMeters: r.RadiusMeters.Float64,
		}
	}
	return s
}

// InsertSession writes the durable record of a new session.
func (r *Repository) InsertSession(ctx context.Context, s *model.Session) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (:session_id, :faculty_id, :subject, :room, :created_at_ms, :expires_at_ms,
			:ended_at_ms, :geo_required, :latitude, :longitude, :radius_meters, :check_in_url)
	`, rowFromSession(s))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns the durable record of a session.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row,
		r.db.Rebind(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`), sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toSession(), nil
}

// UpdateSessionExpiry persists a regenerated expiry.
func (r *Repository) UpdateSessionExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE sessions SET expires_at_ms = ? WHERE session_id = ?`),
		toMillis(expiresAt), sessionID)
	if err != nil {
		return fmt.Errorf("update session expiry: %w", err)
	}
	return requireRow(res)
}

// EndSession sets ended_at once. A second call reports ErrNotFound because no open row matches.
func (r *Repository) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE sessions SET ended_at_ms = ? WHERE session_id = ? AND ended_at_ms IS NULL`),
		toMillis(endedAt), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return requireRow(res)
}

// ListFacultySessions returns the sessions owned by a faculty member, newest first.
func (r *Repository) ListFacultySessions(ctx context.Context, facultyID string, limit int) ([]*model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE faculty_id = ?
		ORDER BY created_at_ms DESC
		LIMIT ?`), facultyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*model.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toSession())
	}
	return out, nil
}

type attendanceRow struct {
	SessionID  string `db:"session_id"`
	StudentID  string `db:"student_id"`
	Status     string `db:"status"`
	MarkedAtMS int64  `db:"marked_at_ms"`
}

func (a attendanceRow) toRecord() model.AttendanceRecord {
	return model.AttendanceRecord{
		SessionID: a.SessionID,
		StudentID: a.StudentID,
		Status:    model.Status(a.Status),
		Timestamp: fromMillis(a.MarkedAtMS),
	}
}

// FindAttendance returns the record for (session, student) or nil when none exists.
func (r *Repository) FindAttendance(ctx context.Context, sessionID, studentID string) (*model.AttendanceRecord, error) {
	var row attendanceRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT session_id, student_id, status, marked_at_ms
		FROM attendance WHERE session_id = ? AND student_id = ?`), sessionID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	rec := row.toRecord()
	return &rec, nil
}

// InsertAttendance writes rec unless a record for the pair already exists. It returns the
// stored record and whether this call created it; a losing concurrent writer gets the
// winner's record with created=false.
func (r *Repository) InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO attendance (session_id, student_id, status, marked_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, student_id) DO NOTHING`),
		rec.SessionID, rec.StudentID, string(rec.Status), toMillis(rec.Timestamp))
	if err != nil {
		return model.AttendanceRecord{}, false, fmt.Errorf("insert attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.AttendanceRecord{}, false, fmt.Errorf("insert attendance: %w", err)
	}
	if n == 1 {
		rec.Timestamp = fromMillis(toMillis(rec.Timestamp))
		return rec, true, nil
	}

	existing, err := r.FindAttendance(ctx, rec.SessionID, rec.StudentID)
	if err != nil {
		return model.AttendanceRecord{}, false, err
	}
	if existing == nil {
		return model.AttendanceRecord{}, false, fmt.Errorf("insert attendance: conflict without existing row")
	}
	return *existing, false, nil
}

// ListAttendance returns the records of one session in marking order.
func (r *Repository) ListAttendance(ctx context.Context, sessionID string) ([]model.AttendanceRecord, error) {
	var rows []attendanceRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT session_id, student_id, status, marked_at_ms
		FROM attendance WHERE session_id = ?
		ORDER BY marked_at_ms ASC, student_id ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	out := make([]model.AttendanceRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

type ledgerRow struct {
	SessionID   string `db:"session_id"`
	StudentID   string `db:"student_id"`
	FacultyID   string `db:"faculty_id"`
	Subject     string `db:"subject"`
	Room        string `db:"room"`
	Status      string `db:"status"`
	MarkedAtMS  int64  `db:"marked_at_ms"`
	CreatedAtMS int64  `db:"created_at_ms"`
}

func (r ledgerRow) toEntry() model.LedgerEntry {
	return model.LedgerEntry{
		SessionID:   r.SessionID,
		StudentID:   r.StudentID,
		FacultyID:   r.FacultyID,
		Subject:     r.Subject,
		Room:        r.Room,
		Status:      model.Status(r.Status),
		Timestamp:   fromMillis(r.MarkedAtMS),
		SessionDate: fromMillis(r.CreatedAtMS),
	}
}

const ledgerSelect = `
	SELECT a.session_id, a.student_id, s.faculty_id, s.subject, s.room,
		a.status, a.marked_at_ms, s.created_at_ms
	FROM attendance a
	JOIN sessions s ON s.session_id = a.session_id`

func (r *Repository) selectLedger(ctx context.Context, query string, args ...any) ([]model.LedgerEntry, error) {
	var rows []ledgerRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]model.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntry())
	}
	return out, nil
}

// StudentHistory returns a student's records across sessions, newest first. limit <= 0
// means 200.
func (r *Repository) StudentHistory(ctx context.Context, studentID string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	out, err := r.selectLedger(ctx, ledgerSelect+`
		WHERE a.student_id = ?
		ORDER BY a.marked_at_ms DESC, a.session_id ASC
		LIMIT ?`, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("student history: %w", err)
	}
	return out, nil
}

// FacultyAttendance returns every record across a faculty member's sessions, newest
// session first and marking order within a session.
func (r *Repository) FacultyAttendance(ctx context.Context, facultyID string) ([]model.LedgerEntry, error) {
	out, err := r.selectLedger(ctx, ledgerSelect+`
		WHERE s.faculty_id = ?
		ORDER BY s.created_at_ms DESC, a.session_id ASC, a.marked_at_ms ASC, a.student_id ASC`, facultyID)
	if err != nil {
		return nil, fmt.Errorf("faculty attendance: %w", err)
	}
	return out, nil
}

// Enroll assigns students to a subject taught by facultyID. Existing enrollments are kept.
func (r *Repository) Enroll(ctx context.Context, facultyID, subject string, studentIDs []string, at time.Time) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("enroll: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Rebind(`
		INSERT INTO enrollments (student_id, subject, faculty_id, created_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (student_id, subject) DO NOTHING`)
	added := 0
	for _, id := range studentIDs {
		res, err := tx.ExecContext(ctx, stmt, id, subject, facultyID, toMillis(at))
		if err != nil {
			return 0, fmt.Errorf("enroll %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("enroll commit: %w", err)
	}
	return added, nil
}

// EnrolledStudents lists the students enrolled in subject with facultyID.
func (r *Repository) EnrolledStudents(ctx context.Context, subject, facultyID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
		SELECT student_id FROM enrollments
		WHERE subject = ? AND faculty_id = ?
		ORDER BY student_id`), subject, facultyID)
	if err != nil {
		return nil, fmt.Errorf("enrolled students: %w", err)
	}
	return ids, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
