package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/model"
	"qrattend/internal/store"
)

func testConfig(t *testing.T) func() config.App {
	path := filepath.Join(t.TempDir(), "attend.db")
	return func() config.App {
		return config.App{
			StoreDriver:   store.DriverSQLite,
			SQLitePath:    path,
			JWTIssuer:     "attendctl-test",
			JWTSigningKey: "attendctl-key",
			AccessTTL:     time.Hour,
		}
	}
}

func run(t *testing.T, load func() config.App, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(load, &out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	load := testConfig(t)
	out, err := run(t, load, "token", "F1", "--role", "faculty")
	require.NoError(t, err)

	claims, err := auth.Parse(strings.TrimSpace(out), "attendctl-key", "attendctl-test")
	require.NoError(t, err)
	assert.Equal(t, "F1", claims.Subject)
	assert.Equal(t, auth.RoleFaculty, claims.Role)

	_, err = run(t, load, "token", "F1", "--role", "admin")
	assert.Error(t, err)

	_, err = run(t, load, "token")
	assert.Error(t, err)
}

func TestMigrateAndExport(t *testing.T) {
	load := testConfig(t)
	out, err := run(t, load, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")

	ctx := context.Background()
	db, err := store.NewDB(ctx, store.DriverSQLite, load().SQLitePath)
	require.NoError(t, err)
	repo := store.NewRepository(db.Client)
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertSession(ctx, &model.Session{
		ID: "s-1", FacultyID: "F1", Subject: "Networks", Room: "B12",
		CreatedAt: created, ExpiresAt: created.Add(2 * time.Minute),
	}))
	_, _, err = repo.InsertAttendance(ctx, model.AttendanceRecord{
		SessionID: "s-1", StudentID: "S1", Status: model.StatusLate, Timestamp: created.Add(90 * time.Second),
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err = run(t, load, "export", "--session", "s-1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Student ID,Status,Timestamp,Subject,Room,Session Date", lines[0])
	assert.Equal(t, "S1,late,2026-03-02T09:01:30Z,Networks,B12,2026-03-02", lines[1])

	_, err = run(t, load, "export", "--session", "missing")
	assert.ErrorContains(t, err, "not found")

	_, err = run(t, load, "export")
	assert.ErrorContains(t, err, "--session")
}
