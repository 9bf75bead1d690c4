// Package tracker keeps a bound ticket's displayed position and estimated wait
// in step with the queue service. Network refreshes are explicit; the display
// tick only re-derives the countdown from the last committed snapshot.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"queue-visitor/internal/queueapi"
)

// ErrStopped is returned by Refresh once the tracker has been torn down.
var ErrStopped = errors.New("tracker stopped")

// Lookup is the read side of the queue service a refresh needs.
type Lookup interface {
	GetTicket(ctx context.Context, id int64) (queueapi.Ticket, error)
	GetQueue(ctx context.Context, id int64) (queueapi.Queue, error)
	GetEvent(ctx context.Context, id int64) (queueapi.Event, error)
	GetQueueStatus(ctx context.Context, id int64) (queueapi.QueueStatus, error)
}

type Config struct {
	AverageService time.Duration
	TickInterval   time.Duration
	Clock          clockwork.Clock
	Logger         *slog.Logger
	// OnTick, if set, receives the view after each display tick.
	OnTick func(View)
}

type Tracker struct {
	api      Lookup
	ticketID int64
	cfg      Config

	mu      sync.Mutex
	snap    *Snapshot
	lastErr error
	view    View
	started bool
	stopped bool
	done    chan struct{}
}

func New(api Lookup, ticketID int64, cfg Config) *Tracker {
	if cfg.AverageService <= 0 {
		cfg.AverageService = 5 * time.Minute
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tracker{
		api:      api,
		ticketID: ticketID,
		cfg:      cfg,
		view:     View{EstimatedWait: emptyDuration, Remaining: emptyDuration},
		done:     make(chan struct{}),
	}
}

func (t *Tracker) TicketID() int64 { return t.ticketID }

// Refresh reads ticket, queue, event and queue status as one unit. On any
// failure the previous snapshot stays displayed and the view carries the error.
func (t *Tracker) Refresh(ctx context.Context) (Snapshot, error) {
	snap, err := t.fetch(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return Snapshot{}, ErrStopped
	}

	now := t.cfg.Clock.Now()
	if err != nil {
		t.lastErr = err
		t.view = t.computeLocked(now)
		return Snapshot{}, err
	}

	snap.FetchedAt = now
	t.snap = &snap
	t.lastErr = nil
	t.view = t.computeLocked(now)
	return snap, nil
}

func (t *Tracker) fetch(ctx context.Context) (Snapshot, error) {
	ticket, err := t.api.GetTicket(ctx, t.ticketID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("t.api.GetTicket(%d): %w", t.ticketID, err)
	}
	queue, err := t.api.GetQueue(ctx, ticket.QueueID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("t.api.GetQueue(%d): %w", ticket.QueueID, err)
	}
	event, err := t.api.GetEvent(ctx, queue.EventID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("t.api.GetEvent(%d): %w", queue.EventID, err)
	}
	status, err := t.api.GetQueueStatus(ctx, ticket.QueueID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("t.api.GetQueueStatus(%d): %w", ticket.QueueID, err)
	}
	return Snapshot{Ticket: ticket, Queue: queue, Event: event, Status: status}, nil
}

func (t *Tracker) computeLocked(now time.Time) View {
	var v View
	if t.snap == nil {
		v = View{EstimatedWait: emptyDuration, Remaining: emptyDuration}
	} else {
		v = Compute(*t.snap, t.cfg.AverageService, now)
	}
	if t.lastErr != nil {
		v.Error = "refresh failed: " + t.lastErr.Error()
	}
	return v
}

// View returns the view as of the last refresh or tick.
func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

// Snapshot returns the last committed snapshot.
func (t *Tracker) Snapshot() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap == nil {
		return Snapshot{}, false
	}
	return *t.snap, true
}

// Start runs the display tick until Stop. Calling it twice is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	ticker := t.cfg.Clock.NewTicker(t.cfg.TickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				t.tick()
			case <-t.done:
				return
			}
		}
	}()
}

func (t *Tracker) tick() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.view = t.computeLocked(t.cfg.Clock.Now())
	v := t.view
	t.mu.Unlock()

	if t.cfg.OnTick != nil {
		t.cfg.OnTick(v)
	}
}

// Stop tears the tracker down. No tick fires afterwards and refreshes still in
// flight are discarded when they return.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.done)
	t.cfg.Logger.Debug("tracker stopped", "ticketID", t.ticketID)
}

func (t *Tracker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
