package store

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// DB wraps sqlx.DB for Postgres (pgx) or SQLite (modernc).
type DB struct {
	Client *sqlx.DB
	Driver string
}

// NewDB opens a connection with sane pool defaults and verifies it with a ping.
func NewDB(ctx context.Context, driver, dsn string) (*DB, error) {
	if driver == "" {
		driver = DriverPostgres
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	switch driver {
	case DriverSQLite:
		// One writer keeps SQLite free of SQLITE_BUSY and gives :memory: a single database.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &DB{Client: db, Driver: driver}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Healthy verifies database connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id    TEXT PRIMARY KEY,
		faculty_id    TEXT NOT NULL,
		subject       TEXT NOT NULL,
		room          TEXT NOT NULL,
		created_at_ms BIGINT NOT NULL,
		expires_at_ms BIGINT NOT NULL,
		ended_at_ms   BIGINT,
		geo_required  INTEGER NOT NULL DEFAULT 0,
		latitude      DOUBLE PRECISION,
		longitude     DOUBLE PRECISION,
		radius_meters DOUBLE PRECISION,
		check_in_url  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_faculty ON sessions(faculty_id, created_at_ms)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		session_id   TEXT NOT NULL,
		student_id   TEXT NOT NULL,
		status       TEXT NOT NULL CHECK (status IN ('present', 'late')),
		marked_at_ms BIGINT NOT NULL,
		UNIQUE (session_id, student_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance(student_id)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		student_id    TEXT NOT NULL,
		subject       TEXT NOT NULL,
		faculty_id    TEXT NOT NULL,
		created_at_ms BIGINT NOT NULL,
		UNIQUE (student_id, subject)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enrollments_subject ON enrollments(subject, faculty_id)`,
}

// Migrate creates the tables when they do not exist.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
