package reconcile

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"queue-visitor/internal/queueapi"
)

// Kind classifies why a reconciliation step failed and what the visitor can do about it.
type Kind int

const (
	KindUnexpected Kind = iota
	KindMissingContext
	KindNotFound
	KindConflict
	KindValidation
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindMissingContext:
		return "missing_context"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	default:
		return "unexpected"
	}
}

// Error is a classified failure. Message is safe to show to the visitor.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the visitor may simply try again. MissingContext
// needs the entry form instead.
func (e *Error) Retryable() bool { return e.Kind != KindMissingContext }

// KindOf classifies err. A nil error has no meaningful kind and reports KindUnexpected.
func KindOf(err error) Kind {
	if e := Classify(err); e != nil {
		return e.Kind
	}
	return KindUnexpected
}

const (
	msgMissingContext = "session identity and event code are required"
	msgTicketExists   = "a ticket already exists for this session, please retry"
	msgTransient      = "the queue service is unavailable, please retry"
	msgUnexpected     = "something went wrong, please retry"
	msgNotBound       = "no active ticket, enter the event code again"
	msgEventNotFound  = "event not found, check the code"
)

var conflictPattern = regexp.MustCompile(`(?i)already\s+(has|have)\s+(an\s+)?active\s+ticket|active\s+ticket\s+already\s+exists|уже\s+есть\s+активный\s+талон`)

// Classify maps a Ticket Client failure to the taxonomy. It is the only place
// status codes and message patterns are interpreted.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, queueapi.ErrUnexpectedResponse) {
		return &Error{Kind: KindUnexpected, Message: msgUnexpected, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Message: msgTransient, Err: err}
	}

	var apiErr *queueapi.APIError
	if !errors.As(err, &apiErr) {
		// transport failure: no answer at all
		return &Error{Kind: KindTransient, Message: msgTransient, Err: err}
	}

	switch code := apiErr.StatusCode; {
	case code == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Message: apiErr.Message, Err: err}
	case code == http.StatusConflict,
		code == http.StatusBadRequest && conflictPattern.MatchString(apiErr.Message):
		return &Error{Kind: KindConflict, Message: apiErr.Message, Err: err}
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return &Error{Kind: KindValidation, Message: apiErr.Message, Err: err}
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return &Error{Kind: KindTransient, Message: msgTransient, Err: err}
	}
	return &Error{Kind: KindUnexpected, Message: msgUnexpected, Err: err}
}
