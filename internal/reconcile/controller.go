// Package reconcile decides which ticket, if any, a browser profile owns for an
// event: reuse the stored reference, look it up, or create one, and resolve the
// "already has an active ticket" conflict without ever creating a duplicate.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"queue-visitor/internal/queueapi"
	"queue-visitor/internal/session"
)

// TicketAPI is the part of the queue service the controller drives.
type TicketAPI interface {
	CreateOrFetchTicket(ctx context.Context, eventCode, sessionID, notes string) (queueapi.Ticket, error)
	GetTicket(ctx context.Context, id int64) (queueapi.Ticket, error)
	FindTicketsBySessionAndEvent(ctx context.Context, sessionID, eventCode string) ([]queueapi.Ticket, error)
	CancelTicket(ctx context.Context, id int64, sessionID string) error
	UpdateNotes(ctx context.Context, id int64, sessionID, notes string) (queueapi.Ticket, error)
}

type Request struct {
	SessionID string
	EventCode string
	Notes     string
}

// Snapshot is a copy of the controller's state at one instant.
type Snapshot struct {
	State     State
	Ticket    queueapi.Ticket
	SessionID string
	EventCode string
	Err       *Error
}

// Controller is the state machine for one browser profile. Its operations are
// serialized: a second Resolve waits for the first and then sees its result in
// the store, so a profile never issues two creation calls for one event.
type Controller struct {
	api    TicketAPI
	store  session.Store
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	ticket    queueapi.Ticket
	sessionID string
	eventCode string
	err       *Error
}

func New(api TicketAPI, store session.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{api: api, store: store, logger: logger}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:     c.state,
		Ticket:    c.ticket,
		SessionID: c.sessionID,
		EventCode: c.eventCode,
		Err:       c.err,
	}
}

// Resolve runs the reconciliation sequence once and returns the bound ticket.
func (c *Controller) Resolve(ctx context.Context, req Request) (queueapi.Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transition(StateResolving); err != nil {
		return queueapi.Ticket{}, err
	}
	c.err = nil

	if req.SessionID == "" || req.EventCode == "" {
		return queueapi.Ticket{}, c.fail(&Error{Kind: KindMissingContext, Message: msgMissingContext})
	}

	rec, err := session.Load(ctx, c.store)
	if err != nil {
		return queueapi.Ticket{}, c.fail(&Error{Kind: KindTransient, Message: msgTransient, Err: err})
	}

	if rec.HasTicket() {
		ticket, ok, err := c.confirmStored(ctx, rec, req)
		if err != nil {
			return queueapi.Ticket{}, c.fail(err)
		}
		if ok {
			return c.bind(ctx, ticket, req)
		}
	}

	ticket, err := c.api.CreateOrFetchTicket(ctx, req.EventCode, req.SessionID, req.Notes)
	if err == nil {
		return c.bind(ctx, ticket, req)
	}

	classified := Classify(err)
	if classified.Kind == KindNotFound {
		// the service answers 404 for an unknown event code
		classified = &Error{Kind: KindNotFound, Message: msgEventNotFound, Err: err}
	}
	if classified.Kind != KindConflict {
		c.logUnexpected("CreateOrFetchTicket", classified)
		return queueapi.Ticket{}, c.fail(classified)
	}

	c.logger.Info("ticket conflict, looking up existing ticket", "session", req.SessionID, "event", req.EventCode)
	tickets, err := c.api.FindTicketsBySessionAndEvent(ctx, req.SessionID, req.EventCode)
	if err != nil {
		c.logger.Error(fmt.Sprintf("c.api.FindTicketsBySessionAndEvent(%v, %v)", req.SessionID, req.EventCode), "error", err)
		return queueapi.Ticket{}, c.fail(&Error{Kind: KindConflict, Message: msgTicketExists, Err: err})
	}
	existing, ok := preferWaiting(tickets)
	if !ok {
		return queueapi.Ticket{}, c.fail(&Error{Kind: KindConflict, Message: msgTicketExists, Err: classified})
	}
	return c.bind(ctx, existing, req)
}

// confirmStored checks the stored ticket reference with the server. ok=false
// means the reference does not apply and creation should proceed.
func (c *Controller) confirmStored(ctx context.Context, rec session.Record, req Request) (queueapi.Ticket, bool, *Error) {
	if rec.EventCode != "" && rec.EventCode != req.EventCode {
		c.logger.Info("stored ticket belongs to another event", "ticketID", rec.TicketID, "storedEvent", rec.EventCode, "event", req.EventCode)
		return queueapi.Ticket{}, false, nil
	}

	ticket, err := c.api.GetTicket(ctx, rec.TicketID)
	if err != nil {
		classified := Classify(err)
		if classified.Kind == KindNotFound {
			c.logger.Info("stored ticket not found, treating reference as absent", "ticketID", rec.TicketID)
			return queueapi.Ticket{}, false, nil
		}
		c.logUnexpected("GetTicket", classified)
		return queueapi.Ticket{}, false, classified
	}

	if ticket.SessionID != "" && ticket.SessionID != req.SessionID {
		c.logger.Warn("stored ticket owned by another session", "ticketID", ticket.ID)
		return queueapi.Ticket{}, false, nil
	}
	return ticket, true, nil
}

func (c *Controller) bind(ctx context.Context, ticket queueapi.Ticket, req Request) (queueapi.Ticket, error) {
	if err := session.Bind(ctx, c.store, ticket.ID, req.SessionID, req.EventCode); err != nil {
		return queueapi.Ticket{}, c.fail(&Error{Kind: KindTransient, Message: "could not save the ticket, please retry", Err: err})
	}

	c.ticket = ticket
	c.sessionID = req.SessionID
	c.eventCode = req.EventCode

	next := StateBound
	if ticket.Terminal() {
		next = StateTerminal
	}
	if err := c.transition(next); err != nil {
		return queueapi.Ticket{}, err
	}
	return ticket, nil
}

// Observe applies a server read of the bound ticket. A completed or cancelled
// status moves the controller to Terminal. It reports whether the state changed.
func (c *Controller) Observe(ticket queueapi.Ticket) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateBound || ticket.ID != c.ticket.ID {
		return c.state, false
	}
	c.ticket = ticket
	if !ticket.Terminal() {
		return c.state, false
	}
	if err := c.transition(StateTerminal); err != nil {
		return c.state, false
	}
	return c.state, true
}

// Cancel cancels the bound ticket and forgets it, returning the ticket as
// cancelled. The controller passes through Terminal and ends Uninitialized, so
// the next Resolve starts fresh. A transient failure leaves the ticket and the
// stored record untouched.
func (c *Controller) Cancel(ctx context.Context) (queueapi.Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateBound {
		return queueapi.Ticket{}, &Error{Kind: KindMissingContext, Message: msgNotBound}
	}

	err := c.api.CancelTicket(ctx, c.ticket.ID, c.sessionID)
	if err != nil {
		classified := Classify(err)
		if classified.Kind != KindNotFound {
			c.logUnexpected("CancelTicket", classified)
			return queueapi.Ticket{}, classified
		}
		c.logger.Info("cancelled ticket already gone", "ticketID", c.ticket.ID)
	}

	if err := session.Clear(ctx, c.store); err != nil {
		return queueapi.Ticket{}, fmt.Errorf("session.Clear: %w", err)
	}
	c.ticket.Status = queueapi.StatusCancelled
	cancelled := c.ticket
	if err := c.transition(StateTerminal); err != nil {
		return queueapi.Ticket{}, err
	}
	return cancelled, c.reset()
}

// Logout forgets the profile's ticket without touching it on the server.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := session.Clear(ctx, c.store); err != nil {
		return fmt.Errorf("session.Clear: %w", err)
	}
	return c.reset()
}

func (c *Controller) reset() error {
	if c.state != StateUninitialized {
		if err := c.transition(StateUninitialized); err != nil {
			return err
		}
	}
	c.ticket = queueapi.Ticket{}
	c.sessionID = ""
	c.eventCode = ""
	c.err = nil
	return nil
}

func (c *Controller) UpdateNotes(ctx context.Context, notes string) (queueapi.Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateBound {
		return queueapi.Ticket{}, &Error{Kind: KindMissingContext, Message: msgNotBound}
	}
	ticket, err := c.api.UpdateNotes(ctx, c.ticket.ID, c.sessionID, notes)
	if err != nil {
		classified := Classify(err)
		c.logUnexpected("UpdateNotes", classified)
		return queueapi.Ticket{}, classified
	}
	c.ticket = ticket
	return ticket, nil
}

func (c *Controller) transition(to State) error {
	if !ValidTransition(c.state, to) {
		return &Error{Kind: KindUnexpected, Message: msgUnexpected, Err: fmt.Errorf("invalid transition %s -> %s", c.state, to)}
	}
	c.logger.Debug("reconcile transition", "from", c.state, "to", to, "ticketID", c.ticket.ID)
	c.state = to
	return nil
}

func (c *Controller) fail(err *Error) error {
	c.err = err
	if tErr := c.transition(StateFailed); tErr != nil {
		return tErr
	}
	return err
}

func (c *Controller) logUnexpected(call string, err *Error) {
	if err.Kind == KindUnexpected {
		c.logger.Error("c.api."+call, "error", err)
	}
}

// preferWaiting picks the waiting ticket when there is one, else the first.
func preferWaiting(tickets []queueapi.Ticket) (queueapi.Ticket, bool) {
	if len(tickets) == 0 {
		return queueapi.Ticket{}, false
	}
	for _, t := range tickets {
		if t.Status == queueapi.StatusWaiting {
			return t, true
		}
	}
	return tickets[0], true
}
