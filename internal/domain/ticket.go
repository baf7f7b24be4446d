package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew       TicketStatus = "NEW"
	TicketStatusAssigned  TicketStatus = "ASSIGNED"
	TicketStatusResolved  TicketStatus = "RESOLVED"
	TicketStatusClosed    TicketStatus = "CLOSED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
)

// IsTerminal reports whether the status ends the ticket lifecycle.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed || s == TicketStatusCancelled
}

// IsValid reports whether the status belongs to the fixed vocabulary.
func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketStatusNew, TicketStatusAssigned, TicketStatusResolved, TicketStatusClosed, TicketStatusCancelled:
		return true
	}
	return false
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// IsValid reports whether the priority belongs to the fixed vocabulary.
func (p TicketPriority) IsValid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// Ticket is the aggregate for support requests. Category references are
// owned by an external taxonomy; this service stores them opaquely.
type Ticket struct {
	ID            string
	Subject       string
	Description   string
	Status        TicketStatus
	Priority      TicketPriority
	CreatorID     string
	AssigneeID    *string
	CategoryID    *string
	SubcategoryID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time
}
