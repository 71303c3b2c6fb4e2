// Package attendance decides whether a check-in attempt produces an attendance record.
package attendance

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"qrattend/internal/apperr"
	"qrattend/internal/clock"
	"qrattend/internal/events"
	"qrattend/internal/geo"
	"qrattend/internal/keylock"
	"qrattend/internal/log"
	"qrattend/internal/metrics"
	"qrattend/internal/model"
	"qrattend/internal/ratelimit"
	"qrattend/internal/session"
	"qrattend/internal/store"
)

// Ledger is the durable one-record-per-(session, student) store.
type Ledger interface {
	FindAttendance(ctx context.Context, sessionID, studentID string) (*model.AttendanceRecord, error)
	// InsertAttendance stores rec unless the pair is already recorded and returns the
	// stored record plus whether this call created it.
	InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, bool, error)
}

// SessionRecords resolves sessions that have left the live store.
type SessionRecords interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

// Policy holds the admission constants.
type Policy struct {
	SessionWindow         time.Duration
	GracePeriod           time.Duration
	FaceDistanceThreshold float64
	StrictGeofence        bool
}

// DefaultPolicy returns a 2 minute window, 60 second grace and a 0.45 face threshold.
func DefaultPolicy() Policy {
	return Policy{
		SessionWindow:         2 * time.Minute,
		GracePeriod:           time.Minute,
		FaceDistanceThreshold: 0.45,
	}
}

// Request is one check-in attempt. StudentID must come from an authenticated identity.
type Request struct {
	SessionID    string
	StudentID    string
	FaceVerified *bool
	FaceDistance *float64
	Location     *geo.Point
}

// Result is a successful admission.
type Result struct {
	SessionID     string       `json:"session_id"`
	Subject       string       `json:"subject,omitempty"`
	Status        model.Status `json:"status"`
	Timestamp     time.Time    `json:"timestamp"`
	AlreadyMarked bool         `json:"already_marked"`
}

// Deps are the collaborators of the pipeline. Records and Publisher are optional.
type Deps struct {
	Live      session.LiveStore
	Records   SessionRecords
	Ledger    Ledger
	Limiter   ratelimit.Limiter
	Publisher events.Publisher
	Clock     clock.Clock
}

// Service runs the admission pipeline.
type Service struct {
	policy Policy
	deps   Deps
	locks  *keylock.Locker
	logger zerolog.Logger
}

// NewService creates the pipeline.
func NewService(policy Policy, deps Deps) *Service {
	def := DefaultPolicy()
	if policy.SessionWindow <= 0 {
		policy.SessionWindow = def.SessionWindow
	}
	if policy.GracePeriod <= 0 {
		policy.GracePeriod = def.GracePeriod
	}
	if policy.FaceDistanceThreshold <= 0 {
		policy.FaceDistanceThreshold = def.FaceDistanceThreshold
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Service{
		policy: policy,
		deps:   deps,
		locks:  keylock.New(),
		logger: log.WithComponent("admission"),
	}
}

// Policy returns the effective policy.
func (s *Service) Policy() Policy { return s.policy }

// Mark runs the ordered checks and records attendance on success. Every failure is an
// *apperr.Error; a repeat of a successful mark is a success with AlreadyMarked set.
func (s *Service) Mark(ctx context.Context, req Request) (Result, error) {
	res, err := s.mark(ctx, req)
	if err != nil {
		s.reject(ctx, req, err)
		return Result{}, err
	}
	outcome := string(res.Status)
	if res.AlreadyMarked {
		outcome = "already_marked"
	}
	metrics.RecordAdmit(outcome)
	logger := log.WithContext(ctx, s.logger)
	logger.Info().
		Str("session_id", req.SessionID).
		Str("student_id", req.StudentID).
		Str("status", string(res.Status)).
		Bool("already_marked", res.AlreadyMarked).
		Msg("attendance accepted")
	return res, nil
}

func (s *Service) mark(ctx context.Context, req Request) (Result, error) {
	if req.SessionID == "" || req.StudentID == "" {
		return Result{}, apperr.New(apperr.MissingRequiredFields, "session and student are required")
	}

	// 1. rate limit
	dec, err := s.deps.Limiter.Allow(ctx, ratelimit.Key(req.StudentID, req.SessionID))
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, err, "rate limiter unavailable")
	}
	if !dec.Allowed {
		e := apperr.New(apperr.RateLimited, "too many attempts, try again later")
		e.RetryAfter = dec.RetryAfter
		return Result{}, e
	}

	// Steps 2-8 are atomic per pair; other students and sessions proceed in parallel.
	unlock := s.locks.Lock(req.SessionID + "\x00" + req.StudentID)
	defer unlock()

	// 2. existence
	sess, ok, err := s.deps.Live.Get(ctx, req.SessionID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, err, "failed to load session")
	}
	now := s.deps.Clock.Now().UTC().Truncate(time.Millisecond)
	if !ok {
		return Result{}, s.missing(ctx, req.SessionID, now)
	}

	// 3. expiry
	if sess.ExpiredAt(now) {
		if err := s.deps.Live.Delete(ctx, sess.ID); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("evict expired session failed")
		}
		return Result{}, apperr.New(apperr.SessionExpired, "session expired, ask for a new code")
	}

	// 4. face gate
	if req.FaceVerified == nil || !*req.FaceVerified {
		return Result{}, apperr.New(apperr.FaceVerificationRequired, "face verification required")
	}
	if req.FaceDistance != nil {
		d := *req.FaceDistance
		if math.IsNaN(d) || d > s.policy.FaceDistanceThreshold {
			e := apperr.New(apperr.FaceMatchBelowThreshold, "face does not match the registered profile")
			e.Distance = d
			e.Threshold = s.policy.FaceDistanceThreshold
			return Result{}, e
		}
	}

	// 5. geofence
	if sess.GeoRequired && sess.Location != nil {
		if err := s.checkGeofence(ctx, sess, req); err != nil {
			return Result{}, err
		}
	}

	// 6. idempotency
	existing, err := s.deps.Ledger.FindAttendance(ctx, sess.ID, req.StudentID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, err, "failed to check attendance")
	}
	if existing != nil {
		return resultOf(sess, *existing, true), nil
	}

	// 7. status from the server clock only
	status := s.deriveStatus(sess, now)

	// 8. commit
	stored, created, err := s.deps.Ledger.InsertAttendance(ctx, model.AttendanceRecord{
		SessionID: sess.ID,
		StudentID: req.StudentID,
		Status:    status,
		Timestamp: now,
	})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, err, "failed to record attendance")
	}
	if !created {
		return resultOf(sess, stored, true), nil
	}

	ev := events.Event{
		Type:  events.AttendanceMarked,
		Scope: events.FacultyScope(sess.FacultyID),
		At:    now,
		Data:  events.Payload{Session: sess, Attendance: &stored},
	}
	if err := s.deps.Publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("attendance broadcast failed")
	}
	return resultOf(sess, stored, false), nil
}

// missing tells a session that expired and left the live store apart from one that never
// existed or was ended, so expired sessions keep reporting SessionExpired.
func (s *Service) missing(ctx context.Context, sessionID string, now time.Time) error {
	if s.deps.Records != nil {
		rec, err := s.deps.Records.GetSession(ctx, sessionID)
		switch {
		case err == nil:
			if !rec.Ended() && rec.ExpiredAt(now) {
				return apperr.New(apperr.SessionExpired, "session expired, ask for a new code")
			}
		case !errors.Is(err, store.ErrNotFound):
			return apperr.Wrap(apperr.Internal, err, "failed to load session")
		}
	}
	return apperr.New(apperr.InvalidSession, "session not found or ended")
}

func (s *Service) checkGeofence(ctx context.Context, sess *model.Session, req Request) error {
	if req.Location == nil {
		if s.policy.StrictGeofence {
			return apperr.New(apperr.LocationRequired, "location is required for this session")
		}
		logger := log.WithContext(ctx, s.logger)
		logger.Warn().
			Str("session_id", sess.ID).
			Str("student_id", req.StudentID).
			Msg("geofenced session marked without location")
		return nil
	}
	anchor := geo.Point{Latitude: sess.Location.Latitude, Longitude: sess.Location.Longitude}
	distance, err := geo.Distance(anchor, *req.Location)
	if err != nil {
		return err
	}
	if !geo.WithinRadius(distance, sess.Location.RadiusMeters) {
		e := apperr.New(apperr.OutsideGeofence, "you are outside the classroom area")
		e.Distance = distance
		e.Radius = sess.Location.RadiusMeters
		return e
	}
	return nil
}

// deriveStatus measures from the nominal start, expiresAt minus the session window.
// Exactly GracePeriod after the start is still present.
func (s *Service) deriveStatus(sess *model.Session, now time.Time) model.Status {
	start := sess.ExpiresAt.Add(-s.policy.SessionWindow)
	if now.Sub(start) <= s.policy.GracePeriod {
		return model.StatusPresent
	}
	return model.StatusLate
}

func (s *Service) reject(ctx context.Context, req Request, err error) {
	kind := apperr.KindOf(err)
	metrics.RecordReject(string(kind))

	logger := log.WithContext(ctx, s.logger)
	var evt *zerolog.Event
	switch apperr.ClassOf(kind) {
	case apperr.ClassPersistence:
		evt = logger.Error().Err(err)
	case apperr.ClassAuthorization:
		evt = logger.Warn()
	default:
		evt = logger.Debug()
	}
	evt.Str("session_id", req.SessionID).
		Str("student_id", req.StudentID).
		Str("kind", string(kind)).
		Msg("attendance rejected")
}

func resultOf(sess *model.Session, rec model.AttendanceRecord, already bool) Result {
	return Result{
		SessionID:     rec.SessionID,
		Subject:       sess.Subject,
		Status:        rec.Status,
		Timestamp:     rec.Timestamp,
		AlreadyMarked: already,
	}
}
