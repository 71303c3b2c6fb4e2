package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/model"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	db, err := NewDB(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return NewRepository(db.Client)
}

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestSessionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s := &model.Session{
		ID:          "sess-1",
		FacultyID:   "F001",
		Subject:     "Networks",
		Room:        "B-204",
		CreatedAt:   base,
		ExpiresAt:   base.Add(2 * time.Minute),
		GeoRequired: true,
		Location:    &model.Location{Latitude: 12.97, Longitude: 77.59, RadiusMeters: 100},
		CheckInURL:  "http://localhost/checkin?session=sess-1",
	}
	require.NoError(t, repo.InsertSession(ctx, s))

	got, err := repo.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, s.FacultyID, got.FacultyID)
	assert.True(t, got.ExpiresAt.Equal(s.ExpiresAt))
	assert.True(t, got.GeoRequired)
	require.NotNil(t, got.Location)
	assert.Equal(t, *s.Location, *got.Location)
	assert.Nil(t, got.EndedAt)
}

func TestGetSessionNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEndSessionOnlyOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertSession(ctx, &model.Session{
		ID: "sess-2", FacultyID: "F001", Subject: "OS", Room: "A",
		CreatedAt: base, ExpiresAt: base.Add(time.Minute),
	}))

	require.NoError(t, repo.EndSession(ctx, "sess-2", base.Add(30*time.Second)))
	assert.ErrorIs(t, repo.EndSession(ctx, "sess-2", base.Add(40*time.Second)), ErrNotFound)

	got, err := repo.GetSession(ctx, "sess-2")
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(base.Add(30*time.Second)))
}

func TestUpdateSessionExpiry(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertSession(ctx, &model.Session{
		ID: "sess-3", FacultyID: "F001", Subject: "OS", Room: "A",
		CreatedAt: base, ExpiresAt: base.Add(time.Minute),
	}))

	require.NoError(t, repo.UpdateSessionExpiry(ctx, "sess-3", base.Add(5*time.Minute)))
	got, err := repo.GetSession(ctx, "sess-3")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(base.Add(5*time.Minute)))

	assert.ErrorIs(t, repo.UpdateSessionExpiry(ctx, "nope", base), ErrNotFound)
}

func TestInsertAttendanceIsUnique(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := model.AttendanceRecord{SessionID: "s", StudentID: "S1", Status: model.StatusPresent, Timestamp: base}
	stored, created, err := repo.InsertAttendance(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.StatusPresent, stored.Status)

	second := model.AttendanceRecord{SessionID: "s", StudentID: "S1", Status: model.StatusLate, Timestamp: base.Add(time.Minute)}
	stored, created, err = repo.InsertAttendance(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.StatusPresent, stored.Status)
	assert.True(t, stored.Timestamp.Equal(base))

	list, err := repo.ListAttendance(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInsertAttendanceConcurrent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := model.AttendanceRecord{
				SessionID: "s", StudentID: "S1", Status: model.StatusPresent,
				Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			}
			_, ok, err := repo.InsertAttendance(ctx, rec)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	list, err := repo.ListAttendance(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFindAttendanceMissing(t *testing.T) {
	repo := newTestRepo(t)
	rec, err := repo.FindAttendance(context.Background(), "s", "nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEnrollments(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	added, err := repo.Enroll(ctx, "F001", "Networks", []string{"S2", "S1"}, base)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = repo.Enroll(ctx, "F001", "Networks", []string{"S1", "S3"}, base)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	ids, err := repo.EnrolledStudents(ctx, "Networks", "F001")
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2", "S3"}, ids)

	ids, err = repo.EnrolledStudents(ctx, "Networks", "F999")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListFacultySessions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.InsertSession(ctx, &model.Session{
			ID: id, FacultyID: "F001", Subject: "OS", Room: "A",
			CreatedAt: base.Add(time.Duration(i) * time.Minute), ExpiresAt: base.Add(time.Hour),
		}))
	}
	require.NoError(t, repo.InsertSession(ctx, &model.Session{
		ID: "x", FacultyID: "F002", Subject: "OS", Room: "A", CreatedAt: base, ExpiresAt: base.Add(time.Hour),
	}))

	list, err := repo.ListFacultySessions(ctx, "F001", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestLedgerReads(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, sess := range []*model.Session{
		{ID: "s-old", FacultyID: "F1", Subject: "Networks", Room: "B1", CreatedAt: base},
		{ID: "s-new", FacultyID: "F1", Subject: "OS", Room: "B2", CreatedAt: base.Add(time.Hour)},
		{ID: "s-other", FacultyID: "F2", Subject: "DB", Room: "C1", CreatedAt: base.Add(2 * time.Hour)},
	} {
		sess.ExpiresAt = sess.CreatedAt.Add(2 * time.Minute)
		require.NoError(t, repo.InsertSession(ctx, sess), i)
	}
	mark := func(sessionID, studentID string, status model.Status, at time.Time) {
		_, _, err := repo.InsertAttendance(ctx, model.AttendanceRecord{
			SessionID: sessionID, StudentID: studentID, Status: status, Timestamp: at,
		})
		require.NoError(t, err)
	}
	mark("s-old", "S1", model.StatusPresent, base.Add(10*time.Second))
	mark("s-old", "S2", model.StatusLate, base.Add(90*time.Second))
	mark("s-new", "S1", model.StatusLate, base.Add(time.Hour+80*time.Second))
	mark("s-other", "S1", model.StatusPresent, base.Add(2*time.Hour+5*time.Second))

	history, err := repo.StudentHistory(ctx, "S1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "s-other", history[0].SessionID)
	assert.Equal(t, "s-old", history[2].SessionID)
	assert.Equal(t, "Networks", history[2].Subject)
	assert.Equal(t, "F1", history[2].FacultyID)
	assert.True(t, history[2].SessionDate.Equal(base))

	limited, err := repo.StudentHistory(ctx, "S1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	all, err := repo.FacultyAttendance(ctx, "F1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"s-new", "s-old", "s-old"}, []string{all[0].SessionID, all[1].SessionID, all[2].SessionID})
	assert.Equal(t, "S1", all[1].StudentID)
	assert.Equal(t, "S2", all[2].StudentID)

	none, err := repo.FacultyAttendance(ctx, "F9")
	require.NoError(t, err)
	assert.Empty(t, none)
}
