// Package report exports session attendance.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"qrattend/internal/model"
)

var header = []string{"Student ID", "Status", "Timestamp", "Subject", "Room", "Session Date"}

// WriteCSV writes one row per attendance record of s. Times are RFC 3339 UTC.
func WriteCSV(w io.Writer, s *model.Session, records []model.AttendanceRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	date := s.CreatedAt.UTC().Format("2006-01-02")
	for _, r := range records {
		row := []string{
			r.StudentID,
			string(r.Status),
			r.Timestamp.UTC().Format(time.RFC3339),
			s.Subject,
			s.Room,
			date,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Filename returns the download name for a session export.
func Filename(s *model.Session) string {
	return fmt.Sprintf("attendance_%s_%s.csv", s.ID, s.CreatedAt.UTC().Format("20060102"))
}

var ledgerHeader = []string{"Student ID", "Subject", "Status", "Timestamp", "Room", "Session ID", "Session Date"}

// WriteLedgerCSV writes entries spanning several sessions, one row each.
func WriteLedgerCSV(w io.Writer, entries []model.LedgerEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ledgerHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.StudentID,
			e.Subject,
			string(e.Status),
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Room,
			e.SessionID,
			e.SessionDate.UTC().Format("2006-01-02"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FacultyFilename names a faculty member's all-sessions export taken at at.
func FacultyFilename(facultyID string, at time.Time) string {
	return fmt.Sprintf("attendance_all_%s_%s.csv", facultyID, at.UTC().Format("20060102"))
}
