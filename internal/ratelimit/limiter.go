// Package ratelimit throttles check-in attempts per (student, session) pair.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"qrattend/internal/clock"
	"qrattend/internal/log"
)

// Decision is the outcome of one attempt.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter counts attempts for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config holds the attempt budget.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultConfig returns 5 attempts per 60 seconds.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, Window: time.Minute}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	return c
}

// Key builds the counter key for a student attempting a session.
func Key(studentID, sessionID string) string {
	return studentID + ":" + sessionID
}

type counter struct {
	count         int
	windowStarted time.Time
	lastAttempt   time.Time
}

// Window is an in-memory window counter. The window opens on the first attempt and
// the count restarts once more than Window has passed since it opened.
type Window struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	counters map[string]*counter
}

// NewWindow creates an in-memory limiter.
func NewWindow(cfg Config, clk clock.Clock) *Window {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Window{
		cfg:      cfg.normalized(),
		clock:    clk,
		logger:   log.WithComponent("ratelimit"),
		counters: make(map[string]*counter),
	}
}

// Allow increments the counter for key and reports whether the attempt fits the budget.
func (w *Window) Allow(_ context.Context, key string) (Decision, error) {
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	c, ok := w.counters[key]
	if !ok || now.Sub(c.windowStarted) > w.cfg.Window {
		c = &counter{windowStarted: now}
		w.counters[key] = c
	}
	c.count++
	c.lastAttempt = now

	if c.count > w.cfg.MaxAttempts {
		retry := c.windowStarted.Add(w.cfg.Window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, Count: c.count, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true, Count: c.count}, nil
}

// Sweep drops counters idle for more than twice the window and returns how many went.
func (w *Window) Sweep() int {
	now := w.clock.Now()
	idle := 2 * w.cfg.Window

	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for key, c := range w.counters {
		if now.Sub(c.lastAttempt) > idle {
			delete(w.counters, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked counters.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.counters)
}

// Run sweeps idle counters every interval until ctx is done.
func (w *Window) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = w.cfg.Window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.Sweep(); n > 0 {
				w.logger.Debug().Int("removed", n).Msg("evicted idle rate limit counters")
			}
		}
	}
}
