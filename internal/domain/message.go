package domain

import "time"

// Message is one entry in a ticket's conversation thread. Internal messages
// are staff-only notes hidden from requesters.
type Message struct {
	ID        string
	TicketID  string
	SenderID  string
	Body      string
	Internal  bool
	CreatedAt time.Time
}
