package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"qrattend/internal/auth"
	"qrattend/internal/model"
	"qrattend/internal/qr"
	"qrattend/internal/report"
	"qrattend/internal/session"
)

type locationInput struct {
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	RadiusMeters *float64 `json:"radius_meters"`
}

type createSessionRequest struct {
	Subject     string         `json:"subject"`
	Room        string         `json:"room"`
	GeoRequired bool           `json:"geo_required"`
	Location    *locationInput `json:"location"`
}

type sessionResponse struct {
	*model.Session
	QRCode string `json:"qr_code,omitempty"`
}

func (s *Server) withQR(sess *model.Session) sessionResponse {
	resp := sessionResponse{Session: sess}
	img, err := qr.DataURL(sess.CheckInURL, qr.DefaultSize)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("qr render failed")
		return resp
	}
	resp.QRCode = img
	return resp
}

func (s *Server) createSession(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	in := session.CreateRequest{
		FacultyID:   claims.Subject,
		Subject:     req.Subject,
		Room:        req.Room,
		GeoRequired: req.GeoRequired,
	}
	if req.Location != nil {
		in.Latitude = req.Location.Latitude
		in.Longitude = req.Location.Longitude
		in.RadiusMeters = req.Location.RadiusMeters
	}

	sess, err := s.deps.Sessions.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.withQR(sess))
}

func (s *Server) regenerateSession(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	sess, err := s.deps.Sessions.Regenerate(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.withQR(sess))
}

func (s *Server) endSession(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	sess, err := s.deps.Sessions.End(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "ended_at": sess.EndedAt})
}

// sessionInfo is public: the check-in page needs to show what the student is scanning into.
func (s *Server) sessionInfo(c *gin.Context) {
	sess, err := s.deps.Sessions.Live(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":   sess.ID,
		"faculty_id":   sess.FacultyID,
		"subject":      sess.Subject,
		"room":         sess.Room,
		"expires_at":   sess.ExpiresAt,
		"geo_required": sess.GeoRequired,
	})
}

func (s *Server) listSessions(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	sessions, err := s.deps.Repo.ListFacultySessions(c.Request.Context(), claims.Subject, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("faculty_id", claims.Subject).Msg("list sessions failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) sessionAttendance(c *gin.Context) {
	sess, records, ok := s.ownedAttendance(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "attendance": records})
}

func (s *Server) exportSession(c *gin.Context) {
	sess, records, ok := s.ownedAttendance(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+report.Filename(sess)+`"`)
	c.Status(http.StatusOK)
	if err := report.WriteCSV(c.Writer, sess, records); err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("csv export failed")
	}
}

// exportAll writes every record across the caller's own sessions.
func (s *Server) exportAll(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	entries, err := s.deps.Repo.FacultyAttendance(c.Request.Context(), claims.Subject)
	if err != nil {
		s.logger.Error().Err(err).Str("faculty_id", claims.Subject).Msg("list faculty attendance failed")
		writeError(c, err)
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+report.FacultyFilename(claims.Subject, s.deps.Clock.Now())+`"`)
	c.Status(http.StatusOK)
	if err := report.WriteLedgerCSV(c.Writer, entries); err != nil {
		s.logger.Error().Err(err).Str("faculty_id", claims.Subject).Msg("csv export failed")
	}
}

func (s *Server) ownedAttendance(c *gin.Context) (*model.Session, []model.AttendanceRecord, bool) {
	claims, _ := auth.ClaimsFrom(c)
	sess, err := s.deps.Sessions.Owned(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		writeError(c, err)
		return nil, nil, false
	}
	records, err := s.deps.Repo.ListAttendance(c.Request.Context(), sess.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("list attendance failed")
		writeError(c, err)
		return nil, nil, false
	}
	return sess, records, true
}

type enrollRequest struct {
	Subject    string   `json:"subject"`
	StudentIDs []string `json:"student_ids"`
}

func (s *Server) enroll(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	subject := strings.TrimSpace(req.Subject)
	ids := make([]string, 0, len(req.StudentIDs))
	for _, id := range req.StudentIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if subject == "" || len(ids) == 0 {
		badRequest(c, "subject and student_ids are required")
		return
	}

	added, err := s.deps.Repo.Enroll(c.Request.Context(), claims.Subject, subject, ids, s.deps.Clock.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Str("faculty_id", claims.Subject).Msg("enroll failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject": subject, "added": added, "requested": len(ids)})
}
