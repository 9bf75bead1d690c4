package tracker

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"queue-visitor/internal/queueapi"
)

type fakeLookup struct {
	ticket    queueapi.Ticket
	status    queueapi.QueueStatus
	statusErr error
	calls     atomic.Int32
}

func (f *fakeLookup) GetTicket(ctx context.Context, id int64) (queueapi.Ticket, error) {
	f.calls.Add(1)
	return f.ticket, nil
}

func (f *fakeLookup) GetQueue(ctx context.Context, id int64) (queueapi.Queue, error) {
	f.calls.Add(1)
	return queueapi.Queue{ID: id, EventID: 4, Name: "A"}, nil
}

func (f *fakeLookup) GetEvent(ctx context.Context, id int64) (queueapi.Event, error) {
	f.calls.Add(1)
	return queueapi.Event{ID: id, Name: "Open Day"}, nil
}

func (f *fakeLookup) GetQueueStatus(ctx context.Context, id int64) (queueapi.QueueStatus, error) {
	f.calls.Add(1)
	if f.statusErr != nil {
		return queueapi.QueueStatus{}, f.statusErr
	}
	return f.status, nil
}

func snapshot(position, current int) Snapshot {
	return Snapshot{
		Ticket: queueapi.Ticket{ID: 1, Position: position, Status: queueapi.StatusWaiting},
		Queue:  queueapi.Queue{Name: "B"},
		Status: queueapi.QueueStatus{CurrentPosition: current},
	}
}

func TestPeopleAheadNeverNegative(t *testing.T) {
	if got := PeopleAhead(3, 7); got != 0 {
		t.Fatalf("PeopleAhead(3, 7)=%d, want 0", got)
	}
	if got := PeopleAhead(10, 4); got != 6 {
		t.Fatalf("PeopleAhead(10, 4)=%d, want 6", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                               "00:00:00",
		-time.Minute:                    "00:00:00",
		30 * time.Minute:                "00:30:00",
		150*time.Minute + 5*time.Second: "02:30:05",
		100 * time.Hour:                 "100:00:00",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Fatalf("FormatDuration(%v)=%q, want %q", d, got, want)
		}
	}
}

func TestCompute(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	s := snapshot(10, 4)
	s.FetchedAt = now
	v := Compute(s, 5*time.Minute, now.Add(90*time.Second))
	if v.PeopleAhead != 6 || v.EstimatedWait != "00:30:00" || v.Remaining != "00:28:30" {
		t.Fatalf("view=%+v", v)
	}
	if v.TicketNumber != "B-010" || v.Headline != "6 people ahead of you" || v.Next {
		t.Fatalf("view=%+v", v)
	}

	passed := Compute(snapshot(3, 7), 5*time.Minute, now)
	if passed.PeopleAhead != 0 || !passed.Next {
		t.Fatalf("position behind current: %+v", passed)
	}

	first := Compute(snapshot(1, 0), 5*time.Minute, now)
	if !first.Next || first.Headline != "You are next" || strings.Contains(first.Headline, "0 ") {
		t.Fatalf("first in an unstarted queue: %+v", first)
	}

	called := snapshot(5, 5)
	called.Ticket.Status = queueapi.StatusCalled
	if v := Compute(called, time.Minute, now); v.Headline != "You are being called" || v.StatusLabel != "Called" {
		t.Fatalf("called: %+v", v)
	}
}

func TestRefreshFailureKeepsPreviousView(t *testing.T) {
	clock := clockwork.NewFakeClock()
	api := &fakeLookup{
		ticket: queueapi.Ticket{ID: 1, QueueID: 3, Position: 9, Status: queueapi.StatusWaiting},
		status: queueapi.QueueStatus{CurrentPosition: 4, WaitingCount: 12, CompletedCount: 3},
	}
	tr := New(api, 1, Config{AverageService: 5 * time.Minute, Clock: clock})

	if _, err := tr.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before := tr.View()
	if before.PeopleAhead != 5 || before.WaitingCount != 12 || before.Error != "" {
		t.Fatalf("first view=%+v", before)
	}

	api.ticket.Position = 9
	api.status = queueapi.QueueStatus{CurrentPosition: 8, WaitingCount: 1}
	api.statusErr = errors.New("status endpoint down")
	if _, err := tr.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh succeeded with a failing status fetch")
	}

	after := tr.View()
	if after.Error == "" {
		t.Fatal("failed refresh not flagged")
	}
	if after.PeopleAhead != before.PeopleAhead || after.CurrentPosition != before.CurrentPosition || after.WaitingCount != before.WaitingCount {
		t.Fatalf("partial overwrite: before=%+v after=%+v", before, after)
	}

	api.statusErr = nil
	tr.Refresh(context.Background())
	if v := tr.View(); v.Error != "" || v.CurrentPosition != 8 {
		t.Fatalf("recovered view=%+v", v)
	}
}

func TestRefreshFailureBeforeFirstSnapshot(t *testing.T) {
	api := &fakeLookup{statusErr: errors.New("down")}
	tr := New(api, 1, Config{Clock: clockwork.NewFakeClock()})
	tr.Refresh(context.Background())

	v := tr.View()
	if v.Error == "" || v.EstimatedWait != emptyDuration || v.Position != 0 {
		t.Fatalf("view=%+v", v)
	}
	if _, ok := tr.Snapshot(); ok {
		t.Fatal("snapshot committed from a failed refresh")
	}
}

func TestTickRecomputesWithoutPolling(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ticks := make(chan View, 4)
	api := &fakeLookup{
		ticket: queueapi.Ticket{ID: 1, QueueID: 3, Position: 5, Status: queueapi.StatusWaiting},
		status: queueapi.QueueStatus{CurrentPosition: 4},
	}
	tr := New(api, 1, Config{
		AverageService: 5 * time.Minute,
		TickInterval:   time.Second,
		Clock:          clock,
		OnTick:         func(v View) { ticks <- v },
	})
	if _, err := tr.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	fetches := api.calls.Load()

	tr.Start()
	defer tr.Stop()
	clock.BlockUntil(1)

	clock.Advance(time.Second)
	v := <-ticks
	if v.Remaining != "00:04:59" || v.EstimatedWait != "00:05:00" {
		t.Fatalf("after one tick view=%+v", v)
	}
	clock.Advance(time.Second)
	if v := <-ticks; v.Remaining != "00:04:58" {
		t.Fatalf("after two ticks remaining=%q", v.Remaining)
	}
	if api.calls.Load() != fetches {
		t.Fatal("display tick hit the network")
	}
}

func TestStopDiscardsLateRefresh(t *testing.T) {
	clock := clockwork.NewFakeClock()
	api := &fakeLookup{
		ticket: queueapi.Ticket{ID: 1, QueueID: 3, Position: 5, Status: queueapi.StatusWaiting},
	}
	var ticked atomic.Int32
	tr := New(api, 1, Config{Clock: clock, OnTick: func(View) { ticked.Add(1) }})
	tr.Start()
	clock.BlockUntil(1)
	tr.Stop()
	tr.Stop()

	if _, err := tr.Refresh(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Refresh after Stop err=%v, want ErrStopped", err)
	}
	if _, ok := tr.Snapshot(); ok {
		t.Fatal("late refresh committed a snapshot")
	}
	clock.Advance(5 * time.Second)
	if ticked.Load() != 0 {
		t.Fatal("tick fired after Stop")
	}
	if !tr.Stopped() {
		t.Fatal("Stopped() = false")
	}
}
