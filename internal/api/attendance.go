package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"qrattend/internal/apperr"
	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/geo"
	"qrattend/internal/model"
)

type markRequest struct {
	SessionID    string         `json:"session_id"`
	FaceVerified *bool          `json:"face_verified"`
	FaceDistance *float64       `json:"face_distance"`
	Location     *locationInput `json:"location"`
	ImageURL     string         `json:"image_url"`
}

func (s *Server) markAttendance(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	in := attendance.Request{
		SessionID:    req.SessionID,
		StudentID:    claims.Subject,
		FaceVerified: req.FaceVerified,
		FaceDistance: req.FaceDistance,
		Location:     req.Location.point(),
	}

	// With a face service configured the client's own verdict is ignored.
	if s.deps.Face != nil {
		verified, distance, err := s.verifyFace(c, claims.Subject, req.ImageURL)
		if err != nil {
			writeError(c, err)
			return
		}
		in.FaceVerified = &verified
		in.FaceDistance = distance
	}

	res, err := s.deps.Admission.Mark(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyMarked {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (s *Server) verifyFace(c *gin.Context, studentID, imageURL string) (bool, *float64, error) {
	if imageURL == "" {
		return false, nil, apperr.New(apperr.FaceVerificationRequired, "a face capture is required")
	}
	res, err := s.deps.Face.Verify(c.Request.Context(), studentID, imageURL)
	if err != nil {
		s.logger.Error().Err(err).Str("student_id", studentID).Msg("face service call failed")
		return false, nil, apperr.Wrap(apperr.Internal, err, "face verification unavailable")
	}
	d := res.Distance()
	return res.Verified, &d, nil
}

// point returns nil unless both coordinates were sent; a partial or empty location is
// treated as no location at all.
func (l *locationInput) point() *geo.Point {
	if l == nil || l.Latitude == nil || l.Longitude == nil {
		return nil
	}
	return &geo.Point{Latitude: *l.Latitude, Longitude: *l.Longitude}
}

type historyStats struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Late    int `json:"late"`
}

func (s *Server) attendanceHistory(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	limit := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	history, err := s.deps.Repo.StudentHistory(c.Request.Context(), claims.Subject, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("student_id", claims.Subject).Msg("attendance history failed")
		writeError(c, err)
		return
	}

	stats := historyStats{Total: len(history)}
	for _, e := range history {
		switch e.Status {
		case model.StatusPresent:
			stats.Present++
		case model.StatusLate:
			stats.Late++
		}
	}
	c.JSON(http.StatusOK, gin.H{"history": history, "stats": stats})
}
