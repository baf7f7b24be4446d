package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/authz"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// ConversationService appends messages to ticket threads and returns ordered
// history. Posting is not assignment-gated: any authenticated user may reply
// on any existing ticket; only internal notes are staff-only.
type ConversationService struct {
	tickets    repository.TicketRepository
	messages   repository.MessageRepository
	dispatcher events.Dispatcher
}

// ConversationDependencies bundles repositories for the conversation service.
type ConversationDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.MessageRepository
	Dispatcher  events.Dispatcher
}

// NewConversationService constructs the service.
func NewConversationService(deps ConversationDependencies) *ConversationService {
	return &ConversationService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		dispatcher: deps.Dispatcher,
	}
}

// Post appends a message to the ticket's thread and publishes a
// message-created event for the ticket's viewers.
func (s *ConversationService) Post(ctx context.Context, ticketID string, actor domain.Actor, body string, internal bool) (*domain.Message, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, apperrors.NewInvalidInput("body required", nil)
	}
	if internal && !authz.CanPostInternal(actor) {
		return nil, apperrors.NewForbidden("internal notes are staff-only")
	}

	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}

	msg := &domain.Message{
		TicketID: ticketID,
		SenderID: actor.ID,
		Body:     trimmed,
		Internal: internal,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperrors.MapError(err)
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTicketMessageAdded,
		TicketID: ticketID,
		ActorID:  actor.ID,
		Payload: events.TicketMessageAddedPayload{
			MessageID:   msg.ID,
			SenderID:    msg.SenderID,
			Internal:    msg.Internal,
			BodyPreview: stringPreview(msg.Body, 120),
		},
	})
	return msg, nil
}

// History returns all messages for the ticket in ascending (timestamp, id)
// order. Pass includeInternal=false for requester callers.
func (s *ConversationService) History(ctx context.Context, ticketID string, includeInternal bool) ([]domain.Message, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}

	msgs, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if includeInternal {
		return msgs, nil
	}
	filtered := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Internal {
			continue
		}
		filtered = append(filtered, msg)
	}
	return filtered, nil
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
