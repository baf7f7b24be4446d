package domain

import "time"

// InboundEmail records one piece of ingested mail. MessageID carries the
// RFC 5322 Message-Id header; its uniqueness is what prevents the same mail
// from producing two tickets. Mail without the header is stored with a nil
// MessageID and can never be deduplicated.
type InboundEmail struct {
	ID         string
	MessageID  *string
	FromEmail  string
	Subject    string
	Body       string
	ReceivedAt time.Time
	Processed  bool
	TicketID   *string
}
