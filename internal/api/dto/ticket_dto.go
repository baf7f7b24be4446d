package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject       string                `json:"subject"`
	Description   string                `json:"description"`
	Priority      domain.TicketPriority `json:"priority"`
	CategoryID    *string               `json:"category_id"`
	SubcategoryID *string               `json:"subcategory_id"`
}

// UpdateStatusRequest payload for status transitions.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
	Note   *string             `json:"note"`
}

// AssignRequest payload.
type AssignRequest struct {
	AssigneeID string  `json:"assignee_id"`
	Note       *string `json:"note"`
}

// TicketResponse describes a ticket.
type TicketResponse struct {
	ID            string                `json:"id"`
	Subject       string                `json:"subject"`
	Description   string                `json:"description"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority"`
	CreatorID     string                `json:"creator_id"`
	AssigneeID    *string               `json:"assignee_id"`
	CategoryID    *string               `json:"category_id"`
	SubcategoryID *string               `json:"subcategory_id"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	ClosedAt      *time.Time            `json:"closed_at"`
}

// StatusHistoryResponse is one audit trail entry.
type StatusHistoryResponse struct {
	ID        string               `json:"id"`
	OldStatus *domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus  `json:"new_status"`
	ActorID   string               `json:"actor_id"`
	Note      *string              `json:"note"`
	CreatedAt time.Time            `json:"created_at"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Body     string `json:"body"`
	Internal bool   `json:"internal"`
}

// MessageResponse is one thread entry.
type MessageResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	Internal  bool      `json:"internal"`
	CreatedAt time.Time `json:"created_at"`
}
