package storage

import "time"

// Alert outcomes persisted to the audit table.
const (
	OutcomeSent         = "sent"
	OutcomePending      = "pending"
	OutcomeAcknowledged = "acknowledged"
	OutcomeEscalated    = "escalated"
	OutcomeFailed       = "failed"
)

// AlertRecord captures a submitted alert for auditing.
type AlertRecord struct {
	ID        string
	Channel   string
	Title     string
	Body      string
	Priority  string
	Outcome   string
	Deadline  *time.Time
	CreatedAt time.Time
}

// CommandRecord captures an appended mailbox command for auditing.
type CommandRecord struct {
	Seq       int64
	Target    string
	Action    string
	Args      []string
	CreatedAt time.Time
}
