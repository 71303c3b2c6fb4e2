// Package api exposes sessions, check-ins, reports and the realtime stream over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/clock"
	"qrattend/internal/events"
	"qrattend/internal/faceclient"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/log"
	"qrattend/internal/model"
	"qrattend/internal/session"
)

// Repository is the read and enrollment side of the durable store.
type Repository interface {
	ListFacultySessions(ctx context.Context, facultyID string, limit int) ([]*model.Session, error)
	ListAttendance(ctx context.Context, sessionID string) ([]model.AttendanceRecord, error)
	Enroll(ctx context.Context, facultyID, subject string, studentIDs []string, at time.Time) (int, error)
	StudentHistory(ctx context.Context, studentID string, limit int) ([]model.LedgerEntry, error)
	FacultyAttendance(ctx context.Context, facultyID string) ([]model.LedgerEntry, error)
}

// FaceVerifier compares a fresh capture with a student's enrolled face.
type FaceVerifier interface {
	Verify(ctx context.Context, userID, imageURL string) (*faceclient.VerifyResult, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps wires the server. Face is set only when verification happens server-side.
type Deps struct {
	Sessions  *session.Manager
	Admission *attendance.Service
	Repo      Repository
	Hub       *events.Hub
	Verifier  auth.Verifier
	Face      FaceVerifier
	IPLimiter *httpmiddleware.IPLimiter
	Health    map[string]HealthCheck
	Clock     clock.Clock
	Heartbeat time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	deps   Deps
	logger zerolog.Logger
}

// New creates a server.
func New(deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}
	return &Server{deps: deps, logger: log.WithComponent("api")}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.AccessLog(s.logger, "/healthz", "/metrics"))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	if s.deps.IPLimiter != nil {
		r.Use(s.deps.IPLimiter.GinMiddleware())
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	v1 := r.Group("/v1")
	v1.GET("/sessions/:id", s.sessionInfo)
	v1.GET("/events", s.stream)

	bearer := auth.Bearer(s.deps.Verifier)

	faculty := v1.Group("", bearer, auth.RequireRole(auth.RoleFaculty))
	faculty.GET("/sessions", s.listSessions)
	faculty.POST("/sessions", s.createSession)
	faculty.POST("/sessions/:id/regenerate", s.regenerateSession)
	faculty.POST("/sessions/:id/end", s.endSession)
	faculty.GET("/sessions/:id/attendance", s.sessionAttendance)
	faculty.GET("/sessions/:id/export", s.exportSession)
	faculty.POST("/enrollments", s.enroll)
	faculty.GET("/attendance/export", s.exportAll)

	student := v1.Group("", bearer, auth.RequireRole(auth.RoleStudent))
	student.POST("/attendance", s.markAttendance)
	student.GET("/attendance/history", s.attendanceHistory)

	return r
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.deps.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// corsMiddleware allows browser clients on any origin; auth rides in the bearer header.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.HeaderRequestID},
		ExposeHeaders:   []string{"Content-Disposition", "Retry-After", httpmiddleware.HeaderRequestID},
		MaxAge:          24 * time.Hour,
	})
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
