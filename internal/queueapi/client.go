// Package queueapi is a typed client for the external queue service. Every
// method is exactly one HTTP exchange; nothing is retried or cached here.
package queueapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SessionHeader associates cancel and update calls with the owning session.
const SessionHeader = "X-Session-ID"

const maxBodyBytes = 1 << 20

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CreateOrFetchTicket asks the service for a ticket for the session at the
// event. The service may answer with an already active ticket instead.
func (c *Client) CreateOrFetchTicket(ctx context.Context, eventCode, sessionID, notes string) (Ticket, error) {
	var ticket Ticket
	req := createTicketRequest{EventCode: eventCode, SessionID: sessionID, Notes: notes}
	if err := c.do(ctx, http.MethodPost, "/ticket/", "", req, &ticket); err != nil {
		return Ticket{}, err
	}
	return ticket, nil
}

func (c *Client) GetTicket(ctx context.Context, id int64) (Ticket, error) {
	var ticket Ticket
	if err := c.do(ctx, http.MethodGet, "/ticket/"+strconv.FormatInt(id, 10), "", nil, &ticket); err != nil {
		return Ticket{}, err
	}
	return ticket, nil
}

// FindTicketsBySessionAndEvent lists the session's tickets at the event. A
// single-object answer is returned as a one-element slice.
func (c *Client) FindTicketsBySessionAndEvent(ctx context.Context, sessionID, eventCode string) ([]Ticket, error) {
	query := url.Values{}
	query.Set("session_id", sessionID)
	query.Set("event_code", eventCode)

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/ticket/?"+query.Encode(), "", nil, &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || string(raw) == "null":
		return nil, nil
	case raw[0] == '[':
		var tickets []Ticket
		if err := json.Unmarshal(raw, &tickets); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
		}
		return tickets, nil
	case raw[0] == '{':
		var ticket Ticket
		if err := json.Unmarshal(raw, &ticket); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
		}
		return []Ticket{ticket}, nil
	}
	return nil, fmt.Errorf("%w: ticket list is %.20q", ErrUnexpectedResponse, raw)
}

func (c *Client) CancelTicket(ctx context.Context, id int64, sessionID string) error {
	path := "/ticket/" + strconv.FormatInt(id, 10) + "/cancel"
	return c.do(ctx, http.MethodPost, path, sessionID, nil, nil)
}

func (c *Client) UpdateNotes(ctx context.Context, id int64, sessionID, notes string) (Ticket, error) {
	var ticket Ticket
	path := "/ticket/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodPut, path, sessionID, updateNotesRequest{Notes: notes}, &ticket); err != nil {
		return Ticket{}, err
	}
	return ticket, nil
}

func (c *Client) GetQueue(ctx context.Context, id int64) (Queue, error) {
	var queue Queue
	if err := c.do(ctx, http.MethodGet, "/queue/"+strconv.FormatInt(id, 10), "", nil, &queue); err != nil {
		return Queue{}, err
	}
	return queue, nil
}

func (c *Client) GetQueueStatus(ctx context.Context, id int64) (QueueStatus, error) {
	var status QueueStatus
	if err := c.do(ctx, http.MethodGet, "/queue/"+strconv.FormatInt(id, 10)+"/status", "", nil, &status); err != nil {
		return QueueStatus{}, err
	}
	return status, nil
}

func (c *Client) GetEvent(ctx context.Context, id int64) (Event, error) {
	var event Event
	if err := c.do(ctx, http.MethodGet, "/event/"+strconv.FormatInt(id, 10), "", nil, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// ListNotifications returns notifications not yet delivered to the session.
func (c *Client) ListNotifications(ctx context.Context, sessionID string) ([]Notification, error) {
	var notifications []Notification
	if err := c.do(ctx, http.MethodGet, "/notifications/"+url.PathEscape(sessionID), "", nil, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (c *Client) do(ctx context.Context, method, path, sessionID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: extractMessage(resp.StatusCode, respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrUnexpectedResponse, err)
	}
	return nil
}
