// Package authz holds the single transition-authority decision point. Every
// call site asks these functions; role logic is never re-implemented at
// handlers or services.
package authz

import (
	"github.com/spec-kit/helpdesk/internal/domain"
)

// TicketRef carries the ownership facts the policy needs.
type TicketRef struct {
	CreatorID  string
	AssigneeID *string
}

func ownsOrHolds(actor domain.Actor, ticket TicketRef) bool {
	if ticket.CreatorID == actor.ID {
		return true
	}
	return ticket.AssigneeID != nil && *ticket.AssigneeID == actor.ID
}

// CanTransition decides whether the actor may move the ticket to newStatus.
// Administrators and handlers may set any status. Dispatchers may cancel.
// Requesters may only finish tickets they created or are assigned to.
func CanTransition(actor domain.Actor, ticket TicketRef, newStatus domain.TicketStatus) bool {
	switch actor.Role {
	case domain.RoleAdministrator, domain.RoleHandler:
		return true
	case domain.RoleDispatcher:
		return newStatus == domain.TicketStatusCancelled
	case domain.RoleRequester:
		if !ownsOrHolds(actor, ticket) {
			return false
		}
		return newStatus.IsTerminal()
	}
	return false
}

// CanView decides whether the actor may read the ticket at all. Staff see
// every ticket; requesters see only tickets they created or are assigned to.
func CanView(actor domain.Actor, ticket TicketRef) bool {
	if actor.Role.IsStaff() {
		return true
	}
	return ownsOrHolds(actor, ticket)
}

// CanAssign decides whether the actor may set the ticket's assignee.
// Handlers and administrators assign to themselves or reassign; dispatchers
// assign to any handler. Requesters never assign.
func CanAssign(actor domain.Actor) bool {
	return actor.Role.IsStaff()
}

// CanUnassign decides whether the actor may return an assigned ticket to the
// unassigned pool.
func CanUnassign(actor domain.Actor) bool {
	return actor.Role.IsStaff()
}

// CanDelete gates the administrative hard delete.
func CanDelete(actor domain.Actor) bool {
	return actor.Role == domain.RoleDispatcher || actor.Role == domain.RoleAdministrator
}

// CanPostInternal decides whether the actor may write staff-only notes.
func CanPostInternal(actor domain.Actor) bool {
	return actor.Role.IsStaff()
}
