package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"qrattend/internal/apperr"
	"qrattend/internal/log"
	"qrattend/internal/metrics"
)

// Verifier resolves a bearer credential to its subject and role.
type Verifier interface {
	Verify(token string) (subject, role string, err error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(token string) (subject, role string, err error)

func (f VerifierFunc) Verify(token string) (string, string, error) { return f(token) }

const defaultBuffer = 32

// Hub is the in-process subscriber registry.
type Hub struct {
	mu       sync.RWMutex
	subs     map[Scope]map[*Subscription]struct{}
	buffer   int
	verifier Verifier
	closed   bool
	logger   zerolog.Logger
}

// NewHub creates a hub whose subscribers are buffered by buffer events.
func NewHub(verifier Verifier, buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:     make(map[Scope]map[*Subscription]struct{}),
		buffer:   buffer,
		verifier: verifier,
		logger:   log.WithComponent("events"),
	}
}

// Subscription receives the events of one scope until closed.
type Subscription struct {
	scope Scope
	ch    chan Event
	hub   *Hub
}

// Scope returns the subscribed scope.
func (s *Subscription) Scope() Scope { return s.scope }

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	set, ok := s.hub.subs[s.scope]
	if !ok {
		return
	}
	if _, ok := set[s]; ok {
		delete(set, s)
		close(s.ch)
	}
	if len(set) == 0 {
		delete(s.hub.subs, s.scope)
	}
}

// Subscribe registers a subscriber for role:id after checking that token belongs to that
// identity. A token for another subject or role fails with AuthorizationFailed.
func (h *Hub) Subscribe(token, role, id string) (*Subscription, error) {
	if id == "" || (role != RoleFaculty && role != RoleStudent) {
		return nil, apperr.New(apperr.MissingRequiredFields, "faculty_id or student_id is required")
	}
	if h.verifier == nil {
		return nil, apperr.New(apperr.AuthorizationFailed, "no credential verifier configured")
	}
	subject, tokenRole, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Warn().Str("role", role).Str("id", id).Err(err).Msg("subscription rejected: bad credential")
		return nil, apperr.Wrap(apperr.AuthorizationFailed, err, "invalid credential")
	}
	if subject != id || tokenRole != role {
		h.logger.Warn().Str("role", role).Str("id", id).Str("subject", subject).Msg("subscription rejected: identity mismatch")
		return nil, apperr.New(apperr.AuthorizationFailed, "credential does not match requested identity")
	}

	scope := Scope(role + ":" + id)
	sub := &Subscription{scope: scope, ch: make(chan Event, h.buffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, apperr.New(apperr.Internal, "event hub closed")
	}
	set, ok := h.subs[scope]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[scope] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Publish delivers ev locally. It never fails.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.Deliver(ev)
	return nil
}

// Deliver hands ev to every subscriber of its scope without blocking. Subscribers with a
// full buffer miss the event. It returns the number of subscribers reached.
func (h *Hub) Deliver(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[ev.Scope] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			metrics.IncBroadcastDrop(ev.Scope.Kind())
			h.logger.Debug().Str("scope", string(ev.Scope)).Str("type", string(ev.Type)).Msg("subscriber buffer full, event dropped")
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers of scope.
func (h *Hub) Subscribers(scope Scope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[scope])
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for scope, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subs, scope)
	}
}
