package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/events"
	"qrattend/internal/model"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	scopes []events.Scope
	fail   events.Scope
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	if ev.Scope == p.fail {
		return errors.New("boom")
	}
	p.mu.Lock()
	p.scopes = append(p.scopes, ev.Scope)
	p.mu.Unlock()
	return nil
}

func newRepo(t *testing.T) *store.Repository {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewDB(ctx, store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return store.NewRepository(db.Client)
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestFanoutReachesEnrolledStudentsOnly(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	_, err := repo.Enroll(ctx, "F1", "Networks", []string{"S1", "S2"}, t0)
	require.NoError(t, err)
	_, err = repo.Enroll(ctx, "F2", "OS", []string{"S3"}, t0)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	f := NewFanout(repo, pub, nil)
	require.NoError(t, f.SessionCreated(ctx, &model.Session{ID: "s1", FacultyID: "F1", Subject: "Networks"}))

	assert.ElementsMatch(t, []events.Scope{events.StudentScope("S1"), events.StudentScope("S2")}, pub.scopes)
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	_, err := repo.Enroll(ctx, "F1", "Networks", []string{"S1", "S2"}, t0)
	require.NoError(t, err)

	pub := &recordingPublisher{fail: events.StudentScope("S1")}
	err = NewFanout(repo, pub, nil).SessionCreated(ctx, &model.Session{ID: "s1", FacultyID: "F1", Subject: "Networks"})
	assert.Error(t, err)
	assert.Equal(t, []events.Scope{events.StudentScope("S2")}, pub.scopes)
}

func TestQueuedWorkerFansOut(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	_, err := repo.Enroll(ctx, "F1", "Networks", []string{"S1"}, t0)
	require.NoError(t, err)
	s := &model.Session{ID: "s1", FacultyID: "F1", Subject: "Networks", Room: "A", CreatedAt: t0, ExpiresAt: t0.Add(2 * time.Minute)}
	require.NoError(t, repo.InsertSession(ctx, s))

	q := queue.NewInMemory(4)
	require.NoError(t, NewQueued(q).SessionCreated(ctx, s))

	pub := &recordingPublisher{}
	w := NewWorker(q, repo, NewFanout(repo, pub, nil))

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	msgs, err := q.Consume(cctx)
	require.NoError(t, err)
	msg := <-msgs
	require.NoError(t, w.Handle(ctx, msg))
	assert.Equal(t, []events.Scope{events.StudentScope("S1")}, pub.scopes)
}

func TestWorkerSkipsEndedAndUnknown(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	_, err := repo.Enroll(ctx, "F1", "Networks", []string{"S1"}, t0)
	require.NoError(t, err)
	require.NoError(t, repo.InsertSession(ctx, &model.Session{ID: "s1", FacultyID: "F1", Subject: "Networks", CreatedAt: t0, ExpiresAt: t0.Add(time.Minute)}))
	require.NoError(t, repo.EndSession(ctx, "s1", t0.Add(time.Second)))

	pub := &recordingPublisher{}
	w := NewWorker(queue.NewInMemory(1), repo, NewFanout(repo, pub, nil))

	require.NoError(t, w.Handle(ctx, queue.Message{Type: JobSessionCreated, Body: []byte(`{"session_id":"s1"}`)}))
	require.NoError(t, w.Handle(ctx, queue.Message{Type: "something_else"}))
	assert.Empty(t, pub.scopes)

	assert.Error(t, w.Handle(ctx, queue.Message{Type: JobSessionCreated, Body: []byte(`{"session_id":"missing"}`)}))
}
