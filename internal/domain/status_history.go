package domain

import "time"

// StatusHistoryEntry is an immutable audit trail record written once per
// successful transition. OldStatus is nil only for entries predating the
// ticket's first recorded transition.
type StatusHistoryEntry struct {
	ID        string
	TicketID  string
	OldStatus *TicketStatus
	NewStatus TicketStatus
	ActorID   string
	Note      *string
	CreatedAt time.Time
}
