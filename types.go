package main

import (
	"time"

	"queue-visitor/internal/identity"
	"queue-visitor/internal/queueapi"
	"queue-visitor/internal/tracker"
)

type JoinRequest struct {
	EventCode string           `json:"event_code" validate:"required,max=64"`
	Notes     string           `json:"notes" validate:"max=500"`
	Signals   identity.Signals `json:"signals"`
}

type NotesRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

// VisitorResponse is what the page renders: the machine state plus the
// derived view when a ticket is bound.
type VisitorResponse struct {
	State     string           `json:"state"`
	SessionID string           `json:"session_id,omitempty"`
	EventCode string           `json:"event_code,omitempty"`
	Ticket    *queueapi.Ticket `json:"ticket,omitempty"`
	View      *tracker.View    `json:"view,omitempty"`
	Channel   string           `json:"channel,omitempty"`
}

type ErrorBody struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable"`
	ReturnToEntry bool   `json:"return_to_entry,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type RealtimeTokenResponse struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

const (
	MessageView         = "view"
	MessageTransition   = "transition"
	MessageNotification = "notification"
)

// RealtimeMessage is published on a visitor's channel.
type RealtimeMessage struct {
	Type         string                 `json:"type"`
	State        string                 `json:"state,omitempty"`
	View         *tracker.View          `json:"view,omitempty"`
	Notification *queueapi.Notification `json:"notification,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}
