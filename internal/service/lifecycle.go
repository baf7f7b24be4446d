package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/authz"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// LifecycleService is the ticket state machine: it validates and applies
// status and assignment transitions, enforces role-scoped authority and
// writes the audit trail.
type LifecycleService struct {
	tickets    repository.TicketRepository
	users      repository.UserRepository
	history    repository.StatusHistoryRepository
	dispatcher events.Dispatcher
}

// LifecycleDependencies bundles repositories for the lifecycle engine.
type LifecycleDependencies struct {
	TicketRepo  repository.TicketRepository
	UserRepo    repository.UserRepository
	HistoryRepo repository.StatusHistoryRepository
	Dispatcher  events.Dispatcher
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	return &LifecycleService{
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
	}
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusNew:       {domain.TicketStatusAssigned, domain.TicketStatusResolved, domain.TicketStatusCancelled, domain.TicketStatusClosed},
	domain.TicketStatusAssigned:  {domain.TicketStatusNew, domain.TicketStatusResolved, domain.TicketStatusCancelled, domain.TicketStatusClosed},
	domain.TicketStatusResolved:  {domain.TicketStatusClosed},
	domain.TicketStatusClosed:    {},
	domain.TicketStatusCancelled: {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Transition moves the ticket to newStatus on behalf of the actor. Repeating
// a transition the ticket has already taken is a no-op success so unreliable
// clients can retry safely.
func (s *LifecycleService) Transition(ctx context.Context, ticketID string, actor domain.Actor, newStatus domain.TicketStatus, note *string) (*domain.Ticket, error) {
	if !newStatus.IsValid() {
		return nil, apperrors.NewInvalidInput("invalid status", map[string]any{"status": newStatus})
	}

	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if !authz.CanTransition(actor, ticketRef(ticket), newStatus) {
		return nil, apperrors.NewForbidden("transition not permitted for role")
	}
	if ticket.Status == newStatus {
		return ticket, nil
	}
	if len(allowedTransitions[ticket.Status]) == 0 {
		return nil, apperrors.NewTicketClosed("ticket is in a terminal state", map[string]any{"status": ticket.Status})
	}
	if !isValidTransition(ticket.Status, newStatus) {
		return nil, apperrors.NewConflict("invalid status transition", map[string]any{
			"from": ticket.Status,
			"to":   newStatus,
		})
	}

	oldStatus := ticket.Status
	ticket.Status = newStatus
	if newStatus == domain.TicketStatusNew {
		ticket.AssigneeID = nil
	}
	recomputeClosedAt(ticket)

	if err := s.applyAndRecord(ctx, ticket, oldStatus, actor, note); err != nil {
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		ActorID:  actor.ID,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: newStatus,
			Note:      noteValue(note),
		},
	})
	return ticket, nil
}

// Assign sets the ticket's assignee and moves it to ASSIGNED. It validates
// the proposed assignee and rejects assignment onto terminal tickets.
func (s *LifecycleService) Assign(ctx context.Context, ticketID string, actor domain.Actor, assigneeID string, note *string) (*domain.Ticket, error) {
	if !authz.CanAssign(actor) {
		return nil, apperrors.NewForbidden("assignment not permitted for role")
	}

	assignee, err := s.users.GetByID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewInvalidAssignee("assignee not found", map[string]any{"assignee_id": assigneeID})
		}
		return nil, apperrors.MapError(err)
	}
	if !assignee.Active {
		return nil, apperrors.NewInvalidAssignee("assignee inactive", map[string]any{"assignee_id": assigneeID})
	}
	if !assignee.Role.IsStaff() {
		return nil, apperrors.NewInvalidAssignee("assignee cannot be a requester", map[string]any{"assignee_id": assigneeID})
	}

	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, apperrors.NewTicketClosed("cannot assign a terminal ticket", map[string]any{"status": ticket.Status})
	}
	if ticket.Status == domain.TicketStatusAssigned && ticket.AssigneeID != nil && *ticket.AssigneeID == assignee.ID {
		return ticket, nil
	}

	oldStatus := ticket.Status
	ticket.Status = domain.TicketStatusAssigned
	ticket.AssigneeID = &assignee.ID
	recomputeClosedAt(ticket)

	if err := s.applyAndRecord(ctx, ticket, oldStatus, actor, note); err != nil {
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticket.ID,
		ActorID:  actor.ID,
		Payload: events.TicketAssignedPayload{
			AssigneeID: ticket.AssigneeID,
		},
	})
	return ticket, nil
}

// Unassign clears the assignee and returns the ticket to NEW.
func (s *LifecycleService) Unassign(ctx context.Context, ticketID string, actor domain.Actor, note *string) (*domain.Ticket, error) {
	if !authz.CanUnassign(actor) {
		return nil, apperrors.NewForbidden("unassign not permitted for role")
	}

	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, apperrors.NewTicketClosed("cannot unassign a terminal ticket", map[string]any{"status": ticket.Status})
	}
	if ticket.Status == domain.TicketStatusNew {
		return ticket, nil
	}

	oldStatus := ticket.Status
	ticket.Status = domain.TicketStatusNew
	ticket.AssigneeID = nil
	recomputeClosedAt(ticket)

	if err := s.applyAndRecord(ctx, ticket, oldStatus, actor, note); err != nil {
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticket.ID,
		ActorID:  actor.ID,
		Payload:  events.TicketAssignedPayload{AssigneeID: nil},
	})
	return ticket, nil
}

// Delete removes the ticket entirely. Administrative, not a lifecycle
// transition: no history entry, no event beyond the row delete.
func (s *LifecycleService) Delete(ctx context.Context, ticketID string, actor domain.Actor) error {
	if !authz.CanDelete(actor) {
		return apperrors.NewForbidden("delete not permitted for role")
	}
	if err := s.tickets.Delete(ctx, ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return apperrors.MapError(err)
	}
	return nil
}

// Get loads a ticket the actor is allowed to see.
func (s *LifecycleService) Get(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !authz.CanView(actor, ticketRef(ticket)) {
		return nil, apperrors.NewForbidden("ticket not visible to role")
	}
	return ticket, nil
}

// List returns tickets scoped to the actor: staff browse freely, requesters
// only see tickets they created or hold.
func (s *LifecycleService) List(ctx context.Context, actor domain.Actor, filter repository.TicketFilter) ([]domain.Ticket, error) {
	if !actor.Role.IsStaff() {
		filter.CreatorID = nil
		filter.AssigneeID = nil
		filter.InvolvedID = &actor.ID
	}
	tickets, err := s.tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// History returns the ticket's audit trail in write order. Visibility
// follows ticket visibility.
func (s *LifecycleService) History(ctx context.Context, ticketID string, actor domain.Actor) ([]domain.StatusHistoryEntry, error) {
	if _, err := s.Get(ctx, ticketID, actor); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

func (s *LifecycleService) getTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *LifecycleService) applyAndRecord(ctx context.Context, ticket *domain.Ticket, oldStatus domain.TicketStatus, actor domain.Actor, note *string) error {
	prior := oldStatus
	entry := &domain.StatusHistoryEntry{
		TicketID:  ticket.ID,
		OldStatus: &prior,
		NewStatus: ticket.Status,
		ActorID:   actor.ID,
		Note:      note,
	}
	if err := s.tickets.ApplyTransition(ctx, ticket, entry); err != nil {
		return apperrors.NewUpstreamUnavailable("store", err)
	}
	return nil
}

// recomputeClosedAt keeps the closed_at invariant: set iff terminal.
func recomputeClosedAt(ticket *domain.Ticket) {
	if ticket.Status.IsTerminal() {
		if ticket.ClosedAt == nil {
			now := time.Now()
			ticket.ClosedAt = &now
		}
		return
	}
	ticket.ClosedAt = nil
}

func ticketRef(ticket *domain.Ticket) authz.TicketRef {
	return authz.TicketRef{CreatorID: ticket.CreatorID, AssigneeID: ticket.AssigneeID}
}

func noteValue(note *string) string {
	if note == nil {
		return ""
	}
	return *note
}
