package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"queue-visitor/internal/queueapi"
	"queue-visitor/internal/reconcile"
	"queue-visitor/internal/session"
	"queue-visitor/internal/tracker"
)

// QueueAPI is everything the daemon asks of the queue service.
type QueueAPI interface {
	reconcile.TicketAPI
	tracker.Lookup
	notificationLister
}

// Visitor is one browser profile: its persisted record, its reconciliation
// machine and, while a page is open, its position tracker.
type Visitor struct {
	ProfileID  string
	Store      session.Store
	Controller *reconcile.Controller

	mu         sync.Mutex
	tracker    *tracker.Tracker
	generation uint64
	lastSeen   time.Time
}

func (v *Visitor) Tracker() *tracker.Tracker {
	tr, _ := v.Attached()
	return tr
}

// Attached returns the tracker and the generation it was attached under.
// Every attach gets a new generation, also for the same ticket.
func (v *Visitor) Attached() (*tracker.Tracker, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tracker, v.generation
}

// Detach stops the tracker, if any. Results of refreshes still in flight are
// discarded by the stopped tracker.
func (v *Visitor) Detach() {
	v.mu.Lock()
	tr := v.tracker
	v.tracker = nil
	v.mu.Unlock()
	if tr != nil {
		tr.Stop()
	}
}

func (v *Visitor) touch(now time.Time) {
	v.mu.Lock()
	v.lastSeen = now
	v.mu.Unlock()
}

type VisitorsConfig struct {
	NewStore       func(profileID string) session.Store
	AverageService time.Duration
	DisplayTick    time.Duration
	Clock          clockwork.Clock
}

// Visitors keeps the per-profile state of this daemon.
type Visitors struct {
	api QueueAPI
	cfg VisitorsConfig

	generations atomic.Uint64

	mu        sync.Mutex
	byProfile map[string]*Visitor
}

func NewVisitors(api QueueAPI, cfg VisitorsConfig) *Visitors {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NewStore == nil {
		cfg.NewStore = func(string) session.Store { return session.NewMemoryStore() }
	}
	return &Visitors{
		api:       api,
		cfg:       cfg,
		byProfile: make(map[string]*Visitor),
	}
}

// Get returns the profile's visitor, creating it on first use.
func (vs *Visitors) Get(profileID string) *Visitor {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, ok := vs.byProfile[profileID]
	if !ok {
		store := vs.cfg.NewStore(profileID)
		v = &Visitor{
			ProfileID:  profileID,
			Store:      store,
			Controller: reconcile.New(vs.api, store, slog.Default().With("profileID", profileID)),
		}
		vs.byProfile[profileID] = v
	}
	v.touch(vs.cfg.Clock.Now())
	return v
}

// Lookup returns the profile's visitor without creating or touching it.
func (vs *Visitors) Lookup(profileID string) (*Visitor, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.byProfile[profileID]
	return v, ok
}

// Attach makes sure v tracks ticketID, replacing a tracker bound to another
// ticket. created reports whether a new tracker was started under generation.
func (vs *Visitors) Attach(v *Visitor, ticketID int64) (tr *tracker.Tracker, generation uint64, created bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.tracker != nil && v.tracker.TicketID() == ticketID && !v.tracker.Stopped() {
		return v.tracker, v.generation, false
	}
	if v.tracker != nil {
		v.tracker.Stop()
	}

	v.tracker = tracker.New(vs.api, ticketID, tracker.Config{
		AverageService: vs.cfg.AverageService,
		TickInterval:   vs.cfg.DisplayTick,
		Clock:          vs.cfg.Clock,
		Logger:         slog.Default().With("profileID", v.ProfileID),
	})
	v.generation = vs.generations.Add(1)
	v.tracker.Start()
	return v.tracker, v.generation, true
}

// Sweep forgets visitors not seen for longer than idle and stops their
// trackers. A forgotten profile is rebuilt from its store on its next request.
func (vs *Visitors) Sweep(_ context.Context, idle time.Duration) (evicted, detached int) {
	now := vs.cfg.Clock.Now()

	vs.mu.Lock()
	var stale []*Visitor
	for profileID, v := range vs.byProfile {
		v.mu.Lock()
		idleFor := now.Sub(v.lastSeen)
		v.mu.Unlock()
		if idleFor > idle {
			stale = append(stale, v)
			delete(vs.byProfile, profileID)
		}
	}
	vs.mu.Unlock()

	for _, v := range stale {
		if v.Tracker() != nil {
			detached++
		}
		v.Detach()
	}
	if len(stale) > 0 {
		slog.Info("Swept idle visitors", "evicted", len(stale), "detachedViews", detached)
	}
	return len(stale), detached
}

// Len is the number of profiles held in memory.
func (vs *Visitors) Len() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.byProfile)
}

func (vs *Visitors) Now() time.Time { return vs.cfg.Clock.Now() }

var _ QueueAPI = (*queueapi.Client)(nil)
