package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// IntakeService validates and creates tickets in their initial state,
// whether they arrive by direct submission or from ingested mail.
type IntakeService struct {
	tickets    repository.TicketRepository
	inbound    repository.InboundEmailRepository
	dispatcher events.Dispatcher
}

// NewIntakeService builds the service.
func NewIntakeService(tickets repository.TicketRepository, inbound repository.InboundEmailRepository, dispatcher events.Dispatcher) *IntakeService {
	return &IntakeService{tickets: tickets, inbound: inbound, dispatcher: dispatcher}
}

// TicketCreateInput describes ticket creation payload. CreatedAt is only set
// for mail-sourced tickets, where it carries the message date.
type TicketCreateInput struct {
	Subject       string
	Description   string
	Priority      domain.TicketPriority
	CategoryID    *string
	SubcategoryID *string
	CreatorID     string
	CreatedAt     time.Time
	Source        string
}

// Create persists a new NEW-status ticket. Creation is the initial state,
// not a transition into it, so no history entry is written here.
func (s *IntakeService) Create(ctx context.Context, input TicketCreateInput) (*domain.Ticket, error) {
	ticket, err := buildTicket(input)
	if err != nil {
		return nil, err
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.publishCreated(ctx, ticket, input)
	return ticket, nil
}

// CreateFromMail persists the ticket together with the mail's dedup ledger
// row in one store transaction, so a crash mid-ingestion leaves nothing
// behind to double-create on retry. A Message-Id the ledger has already
// seen yields created=false with nothing written and no event.
func (s *IntakeService) CreateFromMail(ctx context.Context, input TicketCreateInput, record *domain.InboundEmail) (*domain.Ticket, bool, error) {
	ticket, err := buildTicket(input)
	if err != nil {
		return nil, false, err
	}
	created, err := s.inbound.RecordAndCreate(ctx, record, ticket)
	if err != nil {
		return nil, false, apperrors.MapError(err)
	}
	if !created {
		return nil, false, nil
	}
	s.publishCreated(ctx, ticket, input)
	return ticket, true, nil
}

func buildTicket(input TicketCreateInput) (*domain.Ticket, error) {
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return nil, apperrors.NewInvalidInput("subject required", nil)
	}

	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.IsValid() {
		return nil, apperrors.NewInvalidInput("invalid priority", map[string]any{"priority": input.Priority})
	}

	return &domain.Ticket{
		Subject:       subject,
		Description:   strings.TrimSpace(input.Description),
		Status:        domain.TicketStatusNew,
		Priority:      priority,
		CreatorID:     input.CreatorID,
		CategoryID:    input.CategoryID,
		SubcategoryID: input.SubcategoryID,
		CreatedAt:     input.CreatedAt,
	}, nil
}

func (s *IntakeService) publishCreated(ctx context.Context, ticket *domain.Ticket, input TicketCreateInput) {
	source := input.Source
	if source == "" {
		source = "web"
	}
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		ActorID:  input.CreatorID,
		Payload: events.TicketCreatedPayload{
			Subject:  ticket.Subject,
			Priority: ticket.Priority,
			Source:   source,
		},
	})
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = dispatcher.Publish(ctx, event)
}
