package queueapi

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type Ticket struct {
	ID          int64  `json:"id"`
	QueueID     int64  `json:"queue_id"`
	EventCode   string `json:"event_code,omitempty"`
	Position    int    `json:"position"`
	Status      string `json:"status"`
	Notes       string `json:"notes,omitempty"`
	SessionID   string `json:"session_id"`
	CreatedAt   string `json:"created_at,omitempty"`
	CalledAt    string `json:"called_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Terminal reports whether the ticket can no longer advance.
func (t Ticket) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

type Queue struct {
	ID              int64  `json:"id"`
	EventID         int64  `json:"event_id"`
	Name            string `json:"name"`
	IsActive        bool   `json:"is_active"`
	CurrentPosition int    `json:"current_position"`
}

type Event struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// QueueStatus is a point-in-time read of queue progress.
type QueueStatus struct {
	QueueID         int64  `json:"queue_id"`
	Name            string `json:"name"`
	CurrentPosition int    `json:"current_position"`
	WaitingCount    int    `json:"waiting_count"`
	ProcessingCount int    `json:"processing_count"`
	CompletedCount  int    `json:"completed_count"`
	IsActive        bool   `json:"is_active"`
	TotalTickets    int    `json:"total_tickets"`
}

type Notification struct {
	ID        int64  `json:"id"`
	TicketID  int64  `json:"ticket_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Type      string `json:"notification_type"`
	IsSent    bool   `json:"is_sent"`
	CreatedAt string `json:"created_at,omitempty"`
}

type createTicketRequest struct {
	EventCode string `json:"event_code"`
	SessionID string `json:"session_id"`
	Notes     string `json:"notes,omitempty"`
}

type updateNotesRequest struct {
	Notes string `json:"notes"`
}
