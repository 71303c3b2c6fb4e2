// Package session owns the session lifecycle: create, regenerate, end and passive expiry.
package session

import (
	"context"
	"errors"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"qrattend/internal/apperr"
	"qrattend/internal/clock"
	"qrattend/internal/events"
	"qrattend/internal/geo"
	"qrattend/internal/keylock"
	"qrattend/internal/log"
	"qrattend/internal/metrics"
	"qrattend/internal/model"
	"qrattend/internal/store"
)

// Records is the durable session table.
type Records interface {
	InsertSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error
	EndSession(ctx context.Context, id string, endedAt time.Time) error
}

// Notifier tells enrolled students a session opened.
type Notifier interface {
	SessionCreated(ctx context.Context, s *model.Session) error
}

// Config is the lifecycle policy.
type Config struct {
	SessionWindow  time.Duration
	RegenWindow    time.Duration
	DefaultRadius  float64
	DefaultRoom    string
	CheckInBaseURL string
}

func (c Config) withDefaults() Config {
	if c.SessionWindow <= 0 {
		c.SessionWindow = 2 * time.Minute
	}
	if c.RegenWindow <= 0 {
		c.RegenWindow = c.SessionWindow
	}
	if c.DefaultRadius <= 0 {
		c.DefaultRadius = 100
	}
	if c.DefaultRoom == "" {
		c.DefaultRoom = "Classroom"
	}
	return c
}

// CreateRequest describes a new session. Coordinates are pointers so that a missing value
// can be told apart from zero.
type CreateRequest struct {
	FacultyID    string
	Subject      string
	Room         string
	GeoRequired  bool
	Latitude     *float64
	Longitude    *float64
	RadiusMeters *float64
}

// Manager orchestrates session transitions against the durable record and the live store.
type Manager struct {
	cfg       Config
	records   Records
	live      LiveStore
	publisher events.Publisher
	notifier  Notifier
	clock     clock.Clock
	locks     *keylock.Locker
	newID     func() string
	logger    zerolog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithNotifier sets the enrollment notifier.
func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notifier = n } }

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithIDFunc overrides session id generation.
func WithIDFunc(fn func() string) Option { return func(m *Manager) { m.newID = fn } }

// NewManager creates a manager. publisher may be nil.
func NewManager(cfg Config, records Records, live LiveStore, publisher events.Publisher, opts ...Option) *Manager {
	if publisher == nil {
		publisher = events.Discard{}
	}
	m := &Manager{
		cfg:       cfg.withDefaults(),
		records:   records,
		live:      live,
		publisher: publisher,
		clock:     clock.Real{},
		locks:     keylock.New(),
		newID:     uuid.NewString,
		logger:    log.WithComponent("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionWindow returns the configured session window.
func (m *Manager) SessionWindow() time.Duration { return m.cfg.SessionWindow }

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC().Truncate(time.Millisecond)
}

// Create opens a new session.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*model.Session, error) {
	facultyID := strings.TrimSpace(req.FacultyID)
	subject := strings.TrimSpace(req.Subject)
	if facultyID == "" || subject == "" {
		return nil, apperr.New(apperr.MissingRequiredFields, "faculty and subject are required")
	}
	room := strings.TrimSpace(req.Room)
	if room == "" {
		room = m.cfg.DefaultRoom
	}

	var loc *model.Location
	if req.GeoRequired {
		if req.Latitude == nil || req.Longitude == nil || math.IsNaN(*req.Latitude) || math.IsNaN(*req.Longitude) {
			return nil, apperr.New(apperr.InvalidLocationConfig, "latitude and longitude are required for geofenced sessions")
		}
		if err := geo.Validate(*req.Latitude, *req.Longitude); err != nil {
			return nil, err
		}
		radius := m.cfg.DefaultRadius
		if req.RadiusMeters != nil && *req.RadiusMeters > 0 && !math.IsInf(*req.RadiusMeters, 0) {
			radius = *req.RadiusMeters
		}
		loc = &model.Location{Latitude: *req.Latitude, Longitude: *req.Longitude, RadiusMeters: radius}
	}

	now := m.now()
	s := &model.Session{
		ID:          m.newID(),
		FacultyID:   facultyID,
		Subject:     subject,
		Room:        room,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.SessionWindow),
		GeoRequired: req.GeoRequired,
		Location:    loc,
	}
	s.CheckInURL = CheckInURL(m.cfg.CheckInBaseURL, s.ID)

	if err := m.records.InsertSession(ctx, s); err != nil {
		m.logger.Error().Err(err).Str("session_id", s.ID).Str("faculty_id", facultyID).Msg("persist session failed")
		return nil, apperr.Wrap(apperr.Internal, err, "failed to create session")
	}
	if err := m.live.Put(ctx, s); err != nil {
		m.logger.Error().Err(err).Str("session_id", s.ID).Msg("live store put failed")
		return nil, apperr.Wrap(apperr.Internal, err, "failed to create session")
	}
	metrics.RecordTransition("created")
	m.logger.Info().
		Str("session_id", s.ID).
		Str("faculty_id", facultyID).
		Str("subject", subject).
		Bool("geo_required", s.GeoRequired).
		Time("expires_at", s.ExpiresAt).
		Msg("session created")

	m.publish(ctx, events.SessionCreated, s)
	if m.notifier != nil {
		if err := m.notifier.SessionCreated(ctx, s.Clone()); err != nil {
			m.logger.Warn().Err(err).Str("session_id", s.ID).Msg("enrollment notification failed")
		}
	}
	return s.Clone(), nil
}

// Regenerate extends a live session's expiry to now + RegenWindow. Recorded attendance is
// untouched.
func (m *Manager) Regenerate(ctx context.Context, sessionID, facultyID string) (*model.Session, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.owned(ctx, sessionID, facultyID)
	if err != nil {
		return nil, err
	}
	if s.Ended() {
		return nil, apperr.New(apperr.AlreadyEnded, "session already ended")
	}
	now := m.now()
	if s.ExpiredAt(now) {
		return nil, apperr.New(apperr.AlreadyExpired, "session already expired")
	}

	s.ExpiresAt = now.Add(m.cfg.RegenWindow)
	if err := m.records.UpdateSessionExpiry(ctx, s.ID, s.ExpiresAt); err != nil {
		m.logger.Error().Err(err).Str("session_id", s.ID).Msg("persist regenerated expiry failed")
		return nil, apperr.Wrap(apperr.Internal, err, "failed to regenerate session")
	}
	if err := m.live.Put(ctx, s); err != nil {
		m.logger.Error().Err(err).Str("session_id", s.ID).Msg("live store put failed")
		return nil, apperr.Wrap(apperr.Internal, err, "failed to regenerate session")
	}
	metrics.RecordTransition("regenerated")
	m.logger.Info().Str("session_id", s.ID).Time("expires_at", s.ExpiresAt).Msg("session regenerated")

	m.publish(ctx, events.SessionRegenerated, s)
	return s, nil
}

// End terminates a session. It is the only irreversible transition.
func (m *Manager) End(ctx context.Context, sessionID, facultyID string) (*model.Session, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.owned(ctx, sessionID, facultyID)
	if err != nil {
		return nil, err
	}
	if s.Ended() {
		return nil, apperr.New(apperr.AlreadyEnded, "session already ended")
	}

	// Leave the live store first so admission stops before the durable write lands.
	if err := m.live.Delete(ctx, s.ID); err != nil {
		m.logger.Error().Err(err).Str("session_id", s.ID).Msg("live store delete failed")
		return nil, apperr.Wrap(apperr.Internal, err, "failed to end session")
	}
	now := m.now()
	if err := m.records.EndSession(ctx, s.ID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.AlreadyEnded, "session already ended")
		}
		m.logger.Error().Err(err).Str("session_id", s.ID).Msg("persist session end failed")
		return nil, apperr.Wrap(apperr.Internal, err, "failed to end session")
	}
	s.EndedAt = &now
	metrics.RecordTransition("ended")
	m.logger.Info().Str("session_id", s.ID).Str("faculty_id", s.FacultyID).Msg("session ended")

	m.publish(ctx, events.SessionEnded, s)
	return s, nil
}

// Live returns the live entry of a session, or InvalidSession / SessionExpired.
func (m *Manager) Live(ctx context.Context, sessionID string) (*model.Session, error) {
	s, ok, err := m.live.Get(ctx, sessionID)
	if err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("live store get failed")
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load session")
	}
	if !ok {
		return nil, apperr.New(apperr.InvalidSession, "session not found or ended")
	}
	if s.ExpiredAt(m.now()) {
		return nil, apperr.New(apperr.SessionExpired, "session expired")
	}
	return s, nil
}

// Owned returns the durable record of a session owned by facultyID.
func (m *Manager) Owned(ctx context.Context, sessionID, facultyID string) (*model.Session, error) {
	return m.owned(ctx, sessionID, facultyID)
}

func (m *Manager) owned(ctx context.Context, sessionID, facultyID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, apperr.New(apperr.MissingRequiredFields, "session id is required")
	}
	s, err := m.records.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "session not found")
		}
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("load session failed")
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load session")
	}
	if s.FacultyID != facultyID {
		m.logger.Warn().Str("session_id", sessionID).Str("faculty_id", facultyID).Msg("session owner mismatch")
		return nil, apperr.New(apperr.Unauthorized, "session belongs to another faculty member")
	}
	return s, nil
}

func (m *Manager) publish(ctx context.Context, typ events.Type, s *model.Session) {
	ev := events.Event{
		Type:  typ,
		Scope: events.FacultyScope(s.FacultyID),
		At:    m.now(),
		Data:  events.Payload{Session: s.Clone()},
	}
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.logger.Warn().Err(err).Str("session_id", s.ID).Str("type", string(typ)).Msg("broadcast failed")
	}
}

// CheckInURL builds the URL a QR code points students to.
func CheckInURL(base, sessionID string) string {
	base = strings.TrimRight(base, "/")
	return base + "/checkin?session=" + url.QueryEscape(sessionID)
}
