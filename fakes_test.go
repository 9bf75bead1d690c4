package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/hibiken/asynq"

	"queue-visitor/internal/queueapi"
)

// fakeQueue is an in-memory queue service with one queue per event.
type fakeQueue struct {
	mu            sync.Mutex
	tickets       map[int64]queueapi.Ticket
	nextID        int64
	current       int
	creates       int
	getTickets    int
	createErr     error
	notifications []queueapi.Notification
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{tickets: make(map[int64]queueapi.Ticket), nextID: 100}
}

func (f *fakeQueue) CreateOrFetchTicket(_ context.Context, eventCode, sessionID, notes string) (queueapi.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return queueapi.Ticket{}, f.createErr
	}
	for _, t := range f.tickets {
		if t.SessionID == sessionID && t.EventCode == eventCode && !t.Terminal() {
			return t, nil
		}
	}
	f.nextID++
	t := queueapi.Ticket{
		ID:        f.nextID,
		QueueID:   1,
		EventCode: eventCode,
		Position:  len(f.tickets) + 1,
		Status:    queueapi.StatusWaiting,
		Notes:     notes,
		SessionID: sessionID,
	}
	f.tickets[t.ID] = t
	return t, nil
}

func (f *fakeQueue) GetTicket(_ context.Context, id int64) (queueapi.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getTickets++
	t, ok := f.tickets[id]
	if !ok {
		return queueapi.Ticket{}, &queueapi.APIError{StatusCode: http.StatusNotFound, Message: "Ticket not found"}
	}
	return t, nil
}

func (f *fakeQueue) FindTicketsBySessionAndEvent(_ context.Context, sessionID, eventCode string) ([]queueapi.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []queueapi.Ticket
	for _, t := range f.tickets {
		if t.SessionID == sessionID && t.EventCode == eventCode {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeQueue) CancelTicket(_ context.Context, id int64, _ string) error {
	return f.setStatus(id, queueapi.StatusCancelled)
}

func (f *fakeQueue) UpdateNotes(_ context.Context, id int64, _ string, notes string) (queueapi.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return queueapi.Ticket{}, &queueapi.APIError{StatusCode: http.StatusNotFound, Message: "Ticket not found"}
	}
	t.Notes = notes
	f.tickets[id] = t
	return t, nil
}

func (f *fakeQueue) GetQueue(_ context.Context, id int64) (queueapi.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return queueapi.Queue{ID: id, EventID: 7, Name: "Main hall", IsActive: true, CurrentPosition: f.current}, nil
}

func (f *fakeQueue) GetEvent(_ context.Context, id int64) (queueapi.Event, error) {
	return queueapi.Event{ID: id, Code: "EXPO", Name: "Expo", IsActive: true}, nil
}

func (f *fakeQueue) GetQueueStatus(_ context.Context, id int64) (queueapi.QueueStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return queueapi.QueueStatus{QueueID: id, Name: "Main hall", CurrentPosition: f.current, WaitingCount: len(f.tickets), IsActive: true, TotalTickets: len(f.tickets)}, nil
}

func (f *fakeQueue) ListNotifications(_ context.Context, sessionID string) ([]queueapi.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []queueapi.Notification
	for _, n := range f.notifications {
		if n.SessionID == sessionID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeQueue) setStatus(id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return &queueapi.APIError{StatusCode: http.StatusNotFound, Message: "Ticket not found"}
	}
	t.Status = status
	f.tickets[id] = t
	return nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) ofType(typename string) []*asynq.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*asynq.Task
	for _, t := range f.tasks {
		if t.Type() == typename {
			out = append(out, t)
		}
	}
	return out
}

type published struct {
	channel string
	message string
}

type fakePublisher struct {
	mu        sync.Mutex
	published []published
	tokenErr  error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, messagePayload any) (string, error) {
	message, err := setPrepareMessage(messagePayload)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{channel: channel, message: message})
	return fmt.Sprint(len(f.published)), nil
}

func (f *fakePublisher) GenGrantToken(_ context.Context, channel string) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "token-for-" + channel, nil
}
