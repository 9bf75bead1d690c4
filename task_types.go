package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"queue-visitor/internal/reconcile"
	"queue-visitor/internal/tracker"
)

const (
	TypeRefreshVisitor = "visitor:refresh"
	TypeNotifyVisitor  = "visitor:notify"
	TypeSweepViews     = "visitor:sweep"
)

// Task payloads
type RefreshVisitorPayload struct {
	ProfileID  string `json:"profile_id"`
	TicketID   int64  `json:"ticket_id"`
	Generation uint64 `json:"generation"`
}

type NotifyVisitorPayload struct {
	ProfileID string          `json:"profile_id"`
	SessionID string          `json:"session_id"`
	Message   RealtimeMessage `json:"message"`
}

type SweepViewsPayload struct {
	IdleSeconds int `json:"idle_seconds"`
}

// HandleRefreshVisitor is the interval refresh of an attached view. Each
// attached tracker runs one chain, keyed by its generation; the chain ends once
// the tracker is detached, replaced or its ticket is no longer bound.
func (h *Handlers) HandleRefreshVisitor(ctx context.Context, t *asynq.Task) error {
	var payload RefreshVisitorPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal: %v: %w", err, asynq.SkipRetry)
	}

	v, ok := h.visitors.Lookup(payload.ProfileID)
	if !ok {
		return nil
	}
	tr, generation := v.Attached()
	if tr == nil || generation != payload.Generation || tr.Stopped() {
		return nil
	}

	view, err := h.refreshVisitor(ctx, v, tr)
	switch {
	case errors.Is(err, tracker.ErrStopped):
		return nil
	case err != nil:
		// the view keeps its previous snapshot; try again next interval
		slog.Warn("interval refresh failed", "profileID", payload.ProfileID, "ticketID", payload.TicketID, "error", err)
	default:
		snap := v.Controller.Snapshot()
		h.scheduleNotify(payload.ProfileID, snap.SessionID, RealtimeMessage{Type: MessageView, State: snap.State.String(), View: &view})
		h.relayNotifications(ctx, payload.ProfileID, snap.SessionID)
	}

	if v.Controller.Snapshot().State != reconcile.StateBound {
		v.Detach()
		return nil
	}
	if current, _ := v.Attached(); current == tr {
		h.scheduleRefresh(payload.ProfileID, payload.TicketID, payload.Generation)
	}
	return nil
}

func (h *Handlers) HandleNotifyVisitor(ctx context.Context, t *asynq.Task) error {
	var payload NotifyVisitorPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal: %v: %w", err, asynq.SkipRetry)
	}
	if payload.SessionID == "" {
		return nil
	}

	// Send notification via PubNub
	channel := ChannelFor(payload.SessionID)
	if _, err := h.publisher.Publish(ctx, channel, payload.Message); err != nil {
		return fmt.Errorf("h.publisher.Publish(%v): %w", channel, err)
	}
	return nil
}

func (h *Handlers) HandleSweepViews(ctx context.Context, t *asynq.Task) error {
	var payload SweepViewsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal: %v: %w", err, asynq.SkipRetry)
	}

	idle := time.Duration(payload.IdleSeconds) * time.Second
	if idle <= 0 {
		idle = h.cfg.ViewIdleTimeout
	}
	if idle <= 0 {
		return nil // sweeping disabled
	}
	h.visitors.Sweep(ctx, idle)
	return nil
}

func (h *Handlers) relayNotifications(ctx context.Context, profileID, sessionID string) {
	if h.notificationService == nil || sessionID == "" {
		return
	}
	pending, err := h.notificationService.Pending(ctx, profileID, sessionID)
	if err != nil {
		slog.Warn(fmt.Sprintf("h.notificationService.Pending(%v)", sessionID), "error", err)
	}
	for i := range pending {
		h.scheduleNotify(profileID, sessionID, RealtimeMessage{Type: MessageNotification, Notification: &pending[i]})
	}
}

// Helper methods for scheduling tasks
func (h *Handlers) scheduleRefresh(profileID string, ticketID int64, generation uint64) {
	payloadByte, _ := json.Marshal(RefreshVisitorPayload{ProfileID: profileID, TicketID: ticketID, Generation: generation})
	task := asynq.NewTask(TypeRefreshVisitor, payloadByte)
	if _, err := h.asynqClient.Enqueue(task, asynq.ProcessIn(h.cfg.RefreshInterval), asynq.MaxRetry(0)); err != nil {
		slog.Error(fmt.Sprintf("h.asynqClient.Enqueue(%v)", TypeRefreshVisitor), "error", err)
	}
}

func (h *Handlers) scheduleNotify(profileID, sessionID string, message RealtimeMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = h.visitors.Now()
	}
	payloadByte, _ := json.Marshal(NotifyVisitorPayload{ProfileID: profileID, SessionID: sessionID, Message: message})
	task := asynq.NewTask(TypeNotifyVisitor, payloadByte)
	if _, err := h.asynqClient.Enqueue(task, asynq.Queue("critical")); err != nil {
		slog.Error(fmt.Sprintf("h.asynqClient.Enqueue(%v)", TypeNotifyVisitor), "error", err)
	}
}
