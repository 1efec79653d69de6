// Package quota gates calls to the remote classifier with a fixed-window
// request budget.
package quota

import (
	"context"
	log "log/slog"
	"sync"
	"time"
)

const (
	DefaultLimit  = 15
	DefaultWindow = 60 * time.Second
)

// Window is a blocking, fixed-window request budget. Reserve consumes one
// slot, waiting for the window to roll over when the budget is spent.
type Window struct {
	clock    Clock
	limit    int
	duration time.Duration

	// reserving serializes Reserve callers, including one asleep on a
	// spent window; mu only guards the counters.
	reserving sync.Mutex

	mu    sync.Mutex
	count int
	start time.Time
}

type Snapshot struct {
	Count    int       `json:"count"`
	Limit    int       `json:"limit"`
	ResetsAt time.Time `json:"resets_at"`
}

func New(limit int, duration time.Duration, clock Clock) *Window {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if duration <= 0 {
		duration = DefaultWindow
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Window{
		clock:    clock,
		limit:    limit,
		duration: duration,
	}
}

// Reserve blocks until a slot is available and takes it. Concurrent callers
// queue behind one that is waiting for the window to roll over.
func (w *Window) Reserve(ctx context.Context) error {
	w.reserving.Lock()
	defer w.reserving.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	wait := w.take(w.clock.Now())
	if wait == 0 {
		return nil
	}

	log.Warn("Classifier quota reached, waiting", "wait", wait.Round(time.Millisecond), "limit", w.limit)
	if err := Sleep(ctx, w.clock, wait); err != nil {
		return err
	}

	w.mu.Lock()
	w.reset(w.clock.Now())
	w.count++
	w.mu.Unlock()
	return nil
}

// take consumes a slot if one is free and returns 0, otherwise it returns
// how long until the current window ends.
func (w *Window) take(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || now.Sub(w.start) >= w.duration {
		w.reset(now)
	}
	if w.count < w.limit {
		w.count++
		log.Debug("Reserved classifier slot", "used", w.count, "limit", w.limit)
		return 0
	}
	return w.duration - now.Sub(w.start)
}

func (w *Window) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Snapshot{Count: w.count, Limit: w.limit}
	if !w.start.IsZero() {
		s.ResetsAt = w.start.Add(w.duration)
	}
	return s
}

func (w *Window) reset(now time.Time) {
	w.count = 0
	w.start = now
}
