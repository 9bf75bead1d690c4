package tracker

import (
	"fmt"
	"time"

	"queue-visitor/internal/queueapi"
)

// Snapshot is one committed refresh: all four reads succeeded together.
type Snapshot struct {
	Ticket    queueapi.Ticket
	Queue     queueapi.Queue
	Event     queueapi.Event
	Status    queueapi.QueueStatus
	FetchedAt time.Time
}

// View is what the visitor page displays.
type View struct {
	TicketID        int64     `json:"ticket_id,omitempty"`
	TicketNumber    string    `json:"ticket_number,omitempty"`
	EventName       string    `json:"event_name,omitempty"`
	QueueName       string    `json:"queue_name,omitempty"`
	Status          string    `json:"status,omitempty"`
	StatusLabel     string    `json:"status_label,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	Position        int       `json:"position"`
	CurrentPosition int       `json:"current_position"`
	PeopleAhead     int       `json:"people_ahead"`
	WaitingCount    int       `json:"waiting_count"`
	ProcessingCount int       `json:"processing_count"`
	CompletedCount  int       `json:"completed_count"`
	Next            bool      `json:"next"`
	Headline        string    `json:"headline"`
	EstimatedWait   string    `json:"estimated_wait"`
	Remaining       string    `json:"remaining"`
	RefreshedAt     time.Time `json:"refreshed_at,omitempty"`
	Error           string    `json:"error,omitempty"`
}

const emptyDuration = "--:--:--"

var statusLabels = map[string]string{
	queueapi.StatusWaiting:   "Waiting",
	queueapi.StatusCalled:    "Called",
	queueapi.StatusCompleted: "Completed",
	queueapi.StatusCancelled: "Cancelled",
}

// PeopleAhead is the number of visitors served before position; never negative.
func PeopleAhead(position, currentPosition int) int {
	return max(0, position-currentPosition)
}

// FormatDuration renders d as HH:MM:SS, clamping negatives to zero.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

func ticketNumber(queueName string, position int) string {
	if queueName == "" {
		return fmt.Sprintf("%03d", position)
	}
	return fmt.Sprintf("%s-%03d", queueName, position)
}

// Compute derives the display from a committed snapshot at instant now.
func Compute(s Snapshot, averageService time.Duration, now time.Time) View {
	ticket, status := s.Ticket, s.Status
	ahead := PeopleAhead(ticket.Position, status.CurrentPosition)
	estimated := time.Duration(ahead) * averageService

	label, ok := statusLabels[ticket.Status]
	if !ok {
		label = ticket.Status
	}

	v := View{
		TicketID:        ticket.ID,
		TicketNumber:    ticketNumber(s.Queue.Name, ticket.Position),
		EventName:       s.Event.Name,
		QueueName:       s.Queue.Name,
		Status:          ticket.Status,
		StatusLabel:     label,
		Notes:           ticket.Notes,
		Position:        ticket.Position,
		CurrentPosition: status.CurrentPosition,
		PeopleAhead:     ahead,
		WaitingCount:    status.WaitingCount,
		ProcessingCount: status.ProcessingCount,
		CompletedCount:  status.CompletedCount,
		EstimatedWait:   FormatDuration(estimated),
		Remaining:       FormatDuration(estimated - now.Sub(s.FetchedAt)),
		RefreshedAt:     s.FetchedAt,
	}

	switch ticket.Status {
	case queueapi.StatusCalled:
		v.Headline = "You are being called"
	case queueapi.StatusCompleted:
		v.Headline = "Service completed"
	case queueapi.StatusCancelled:
		v.Headline = "Ticket cancelled"
	default:
		// Nobody has been served yet, so the first ticket is next rather than one behind.
		if (status.CurrentPosition == 0 && ticket.Position == 1) || ahead == 0 {
			v.Next = true
			v.Headline = "You are next"
		} else if ahead == 1 {
			v.Headline = "1 person ahead of you"
		} else {
			v.Headline = fmt.Sprintf("%d people ahead of you", ahead)
		}
	}
	return v
}
