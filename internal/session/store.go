// Package session is the visitor's durable key/value record: the only state
// that survives a page reload. Each browser profile gets its own Store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Key names one of the values kept for a profile.
type Key string

const (
	KeyTicketID    Key = "ticket_id"
	KeyDeviceToken Key = "device_token"
	KeySessionID   Key = "session_id"
	KeyEventCode   Key = "event_code"
)

// Keys is every key a profile may hold. Clear removes exactly these.
var Keys = []Key{KeyTicketID, KeyDeviceToken, KeySessionID, KeyEventCode}

// Store is a string-keyed durable store scoped to one browser profile.
// Get reports ok=false for an absent key; err is reserved for the backend failing.
type Store interface {
	Get(ctx context.Context, key Key) (value string, ok bool, err error)
	Set(ctx context.Context, key Key, value string) error
	Remove(ctx context.Context, key Key) error
}

// clearer is implemented by stores that can drop every key in one round trip.
type clearer interface {
	Clear(ctx context.Context) error
}

// Clear forgets the profile's ticket, identity and event. It is the only way a
// ticket reference is dropped and must only follow an explicit cancel or logout.
func Clear(ctx context.Context, s Store) error {
	if c, ok := s.(clearer); ok {
		return c.Clear(ctx)
	}
	var errs []error
	for _, key := range Keys {
		if err := s.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Record is the typed view of a profile's store.
type Record struct {
	TicketID  int64 // 0 when no ticket is referenced
	SessionID string
	EventCode string
}

// HasTicket reports whether the record references a ticket.
func (r Record) HasTicket() bool { return r.TicketID > 0 }

// Load reads the record. A ticket id that does not parse is treated as absent,
// the same way a reference the server no longer knows is.
func Load(ctx context.Context, s Store) (Record, error) {
	var rec Record

	raw, ok, err := s.Get(ctx, KeyTicketID)
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", KeyTicketID, err)
	}
	if ok && raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			slog.Warn("ignoring malformed stored ticket id", "value", raw)
		} else {
			rec.TicketID = id
		}
	}

	if rec.SessionID, _, err = s.Get(ctx, KeySessionID); err != nil {
		return Record{}, fmt.Errorf("get %s: %w", KeySessionID, err)
	}
	if rec.EventCode, _, err = s.Get(ctx, KeyEventCode); err != nil {
		return Record{}, fmt.Errorf("get %s: %w", KeyEventCode, err)
	}
	return rec, nil
}

// Bind stores the ticket id together with the identity and event it was bound for.
func Bind(ctx context.Context, s Store, ticketID int64, sessionID, eventCode string) error {
	if err := s.Set(ctx, KeySessionID, sessionID); err != nil {
		return fmt.Errorf("set %s: %w", KeySessionID, err)
	}
	if err := s.Set(ctx, KeyEventCode, eventCode); err != nil {
		return fmt.Errorf("set %s: %w", KeyEventCode, err)
	}
	if err := s.Set(ctx, KeyTicketID, strconv.FormatInt(ticketID, 10)); err != nil {
		return fmt.Errorf("set %s: %w", KeyTicketID, err)
	}
	return nil
}
