// Package notify tells enrolled students that a session for their subject has opened.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"qrattend/internal/clock"
	"qrattend/internal/events"
	"qrattend/internal/log"
	"qrattend/internal/model"
	"qrattend/internal/queue"
)

// JobSessionCreated is the queue message type for a new session.
const JobSessionCreated = "session_created"

// Enrollments lists the students taking a subject with a faculty member.
type Enrollments interface {
	EnrolledStudents(ctx context.Context, subject, facultyID string) ([]string, error)
}

// Fanout publishes session_created into the scope of every enrolled student.
type Fanout struct {
	enrollments Enrollments
	publisher   events.Publisher
	clock       clock.Clock
	logger      zerolog.Logger
}

// NewFanout creates an inline notifier.
func NewFanout(enrollments Enrollments, publisher events.Publisher, clk clock.Clock) *Fanout {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Fanout{
		enrollments: enrollments,
		publisher:   publisher,
		clock:       clk,
		logger:      log.WithComponent("notify"),
	}
}

// SessionCreated notifies every enrolled student. Delivery failures for one student do
// not stop the others.
func (f *Fanout) SessionCreated(ctx context.Context, s *model.Session) error {
	students, err := f.enrollments.EnrolledStudents(ctx, s.Subject, s.FacultyID)
	if err != nil {
		return fmt.Errorf("load enrollments: %w", err)
	}
	var errs []error
	for _, id := range students {
		ev := events.Event{
			Type:  events.SessionCreated,
			Scope: events.StudentScope(id),
			At:    f.clock.Now().UTC(),
			Data:  events.Payload{Session: s},
		}
		if err := f.publisher.Publish(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", id, err))
		}
	}
	f.logger.Debug().Str("session_id", s.ID).Int("students", len(students)).Msg("enrolled students notified")
	return errors.Join(errs...)
}

type sessionJob struct {
	SessionID string `json:"session_id"`
}

// Queued defers the fan-out to the worker.
type Queued struct {
	q queue.Queue
}

// NewQueued creates a notifier that enqueues jobs on q.
func NewQueued(q queue.Queue) *Queued {
	return &Queued{q: q}
}

func (n *Queued) SessionCreated(ctx context.Context, s *model.Session) error {
	body, err := json.Marshal(sessionJob{SessionID: s.ID})
	if err != nil {
		return err
	}
	if err := n.q.Publish(ctx, queue.Message{Type: JobSessionCreated, Body: body}); err != nil {
		return fmt.Errorf("enqueue %s: %w", JobSessionCreated, err)
	}
	return nil
}

// SessionRecords loads a session by id.
type SessionRecords interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

// Worker consumes queued jobs and runs the fan-out.
type Worker struct {
	q        queue.Queue
	sessions SessionRecords
	fanout   *Fanout
	logger   zerolog.Logger
}

// NewWorker creates a worker.
func NewWorker(q queue.Queue, sessions SessionRecords, fanout *Fanout) *Worker {
	return &Worker{q: q, sessions: sessions, fanout: fanout, logger: log.WithComponent("worker")}
}

// Run handles jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info().Msg("worker started")
	for msg := range msgs {
		if err := w.Handle(ctx, msg); err != nil {
			w.logger.Error().Err(err).Str("type", msg.Type).Msg("job failed")
		}
	}
	return nil
}

// Handle processes one job. Unknown job types are ignored.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case JobSessionCreated:
		var job sessionJob
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			return fmt.Errorf("decode job: %w", err)
		}
		s, err := w.sessions.GetSession(ctx, job.SessionID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", job.SessionID, err)
		}
		if s.Ended() {
			return nil
		}
		return w.fanout.SessionCreated(ctx, s)
	default:
		w.logger.Debug().Str("type", msg.Type).Msg("ignoring unknown job")
		return nil
	}
}
