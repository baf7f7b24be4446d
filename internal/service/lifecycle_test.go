package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

type lifecycleFixture struct {
	svc        *LifecycleService
	tickets    *fakeTicketRepo
	users      *fakeUserRepo
	dispatcher *capturingDispatcher
}

func newLifecycleFixture() *lifecycleFixture {
	tickets := newFakeTicketRepo()
	users := newFakeUserRepo()
	dispatcher := &capturingDispatcher{}
	svc := NewLifecycleService(LifecycleDependencies{
		TicketRepo:  tickets,
		UserRepo:    users,
		HistoryRepo: &fakeHistoryRepo{source: tickets},
		Dispatcher:  dispatcher,
	})
	return &lifecycleFixture{svc: svc, tickets: tickets, users: users, dispatcher: dispatcher}
}

func (f *lifecycleFixture) seedTicket(status domain.TicketStatus, creatorID string, assigneeID *string) *domain.Ticket {
	ticket := &domain.Ticket{
		Subject:   "printer on fire",
		Status:    status,
		Priority:  domain.TicketPriorityMedium,
		CreatorID: creatorID,
	}
	_ = f.tickets.Create(context.Background(), ticket)
	ticket.AssigneeID = assigneeID
	if status.IsTerminal() {
		recomputeClosedAt(ticket)
	}
	f.tickets.put(ticket)
	return ticket
}

func (f *lifecycleFixture) seedStaff(role domain.UserRole) *domain.User {
	return f.users.add(domain.User{
		Name:   "staff member",
		Email:  fmt.Sprintf("%s@example.com", role),
		Role:   role,
		Active: true,
	})
}

func handlerActor() domain.Actor {
	return domain.Actor{ID: "h1", Role: domain.RoleHandler}
}

func TestTransitionWritesHistory(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusNew, "r1", nil)

	updated, err := f.svc.Transition(context.Background(), ticket.ID, handlerActor(), domain.TicketStatusResolved, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, updated.Status)
	require.NotNil(t, updated.ClosedAt, "resolved is terminal and must set closed_at")

	require.Len(t, f.tickets.history, 1)
	entry := f.tickets.history[0]
	assert.Equal(t, ticket.ID, entry.TicketID)
	require.NotNil(t, entry.OldStatus)
	assert.Equal(t, domain.TicketStatusNew, *entry.OldStatus)
	assert.Equal(t, domain.TicketStatusResolved, entry.NewStatus)
	assert.Equal(t, "h1", entry.ActorID)

	event := f.dispatcher.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, events.EventTicketStatusChanged, event.Type)
	assert.Equal(t, ticket.ID, event.TicketID)
}

func TestTransitionSameStatusIsNoOp(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusResolved, "r1", nil)

	updated, err := f.svc.Transition(context.Background(), ticket.ID, handlerActor(), domain.TicketStatusResolved, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, updated.Status)
	assert.Empty(t, f.tickets.history, "repeat of the current status must not write history")
	assert.Empty(t, f.dispatcher.published)
}

func TestTransitionTerminalGuard(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusClosed, "r1", nil)

	_, err := f.svc.Transition(context.Background(), ticket.ID, handlerActor(), domain.TicketStatusNew, nil)
	assert.True(t, apperrors.IsCode(err, "TICKET_CLOSED"), "got %v", err)
}

func TestTransitionResolvedCanClose(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusResolved, "r1", nil)

	updated, err := f.svc.Transition(context.Background(), ticket.ID, handlerActor(), domain.TicketStatusClosed, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, updated.Status)
	assert.NotNil(t, updated.ClosedAt)
	require.Len(t, f.tickets.history, 1)
	assert.Equal(t, domain.TicketStatusClosed, f.tickets.history[0].NewStatus)
}

func TestTransitionGraphRejectsSkips(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusResolved, "r1", nil)

	_, err := f.svc.Transition(context.Background(), ticket.ID, handlerActor(), domain.TicketStatusAssigned, nil)
	assert.True(t, apperrors.IsCode(err, "CONFLICT"), "got %v", err)
}

func TestTransitionForbiddenBeforeNoOp(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusNew, "someone-else", nil)
	requester := domain.Actor{ID: "r1", Role: domain.RoleRequester}

	_, err := f.svc.Transition(context.Background(), ticket.ID, requester, domain.TicketStatusNew, nil)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"),
		"unauthorized actors get FORBIDDEN even for the current status, got %v", err)
}

func TestTransitionRequesterCanFinishOwnTicket(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusNew, "r1", nil)
	requester := domain.Actor{ID: "r1", Role: domain.RoleRequester}

	updated, err := f.svc.Transition(context.Background(), ticket.ID, requester, domain.TicketStatusCancelled, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCancelled, updated.Status)
	assert.NotNil(t, updated.ClosedAt)
}

func TestTransitionBackToNewClearsAssignee(t *testing.T) {
	f := newLifecycleFixture()
	assignee := "h2"
	ticket := f.seedTicket(domain.TicketStatusAssigned, "r1", &assignee)

	updated, err := f.svc.Transition(context.Background(), ticket.ID, handlerActor(), domain.TicketStatusNew, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, updated.Status)
	assert.Nil(t, updated.AssigneeID)
}

func TestTransitionUnknownTicket(t *testing.T) {
	f := newLifecycleFixture()

	_, err := f.svc.Transition(context.Background(), "missing", handlerActor(), domain.TicketStatusClosed, nil)
	assert.True(t, apperrors.IsCode(err, "NOT_FOUND"), "got %v", err)
}

func TestTransitionStoreFailure(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusNew, "r1", nil)
	f.tickets.applyErr = fmt.Errorf("connection reset")

	_, err := f.svc.Transition(context.Background(), ticket.ID, handlerActor(), domain.TicketStatusResolved, nil)
	assert.True(t, apperrors.IsCode(err, "UPSTREAM_UNAVAILABLE"), "got %v", err)
	assert.Empty(t, f.tickets.history)

	stored, getErr := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.TicketStatusNew, stored.Status, "failed transition must not leak into the store")
}

func TestAssignHappyPath(t *testing.T) {
	f := newLifecycleFixture()
	handler := f.seedStaff(domain.RoleHandler)
	ticket := f.seedTicket(domain.TicketStatusNew, "r1", nil)

	updated, err := f.svc.Assign(context.Background(), ticket.ID, handlerActor(), handler.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, updated.Status)
	require.NotNil(t, updated.AssigneeID)
	assert.Equal(t, handler.ID, *updated.AssigneeID)
	require.Len(t, f.tickets.history, 1)

	event := f.dispatcher.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, events.EventTicketAssigned, event.Type)
}

func TestAssignValidatesAssignee(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusNew, "r1", nil)

	_, err := f.svc.Assign(context.Background(), ticket.ID, handlerActor(), "missing", nil)
	assert.True(t, apperrors.IsCode(err, "INVALID_ASSIGNEE"), "unknown assignee, got %v", err)

	inactive := f.users.add(domain.User{Email: "gone@example.com", Role: domain.RoleHandler, Active: false})
	_, err = f.svc.Assign(context.Background(), ticket.ID, handlerActor(), inactive.ID, nil)
	assert.True(t, apperrors.IsCode(err, "INVALID_ASSIGNEE"), "inactive assignee, got %v", err)

	requester := f.users.add(domain.User{Email: "req@example.com", Role: domain.RoleRequester, Active: true})
	_, err = f.svc.Assign(context.Background(), ticket.ID, handlerActor(), requester.ID, nil)
	assert.True(t, apperrors.IsCode(err, "INVALID_ASSIGNEE"), "requester assignee, got %v", err)
}

func TestAssignRejectsTerminalAndRequesterActor(t *testing.T) {
	f := newLifecycleFixture()
	handler := f.seedStaff(domain.RoleHandler)
	closed := f.seedTicket(domain.TicketStatusClosed, "r1", nil)

	_, err := f.svc.Assign(context.Background(), closed.ID, handlerActor(), handler.ID, nil)
	assert.True(t, apperrors.IsCode(err, "TICKET_CLOSED"), "got %v", err)

	open := f.seedTicket(domain.TicketStatusNew, "r1", nil)
	requester := domain.Actor{ID: "r1", Role: domain.RoleRequester}
	_, err = f.svc.Assign(context.Background(), open.ID, requester, handler.ID, nil)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"), "got %v", err)
}

func TestAssignSameAssigneeIsNoOp(t *testing.T) {
	f := newLifecycleFixture()
	handler := f.seedStaff(domain.RoleHandler)
	ticket := f.seedTicket(domain.TicketStatusAssigned, "r1", &handler.ID)

	_, err := f.svc.Assign(context.Background(), ticket.ID, handlerActor(), handler.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, f.tickets.history)
}

func TestUnassignReturnsTicketToPool(t *testing.T) {
	f := newLifecycleFixture()
	handler := f.seedStaff(domain.RoleHandler)
	ticket := f.seedTicket(domain.TicketStatusAssigned, "r1", &handler.ID)

	updated, err := f.svc.Unassign(context.Background(), ticket.ID, handlerActor(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, updated.Status)
	assert.Nil(t, updated.AssigneeID)
	require.Len(t, f.tickets.history, 1)
}

func TestDeleteAuthority(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusNew, "r1", nil)

	err := f.svc.Delete(context.Background(), ticket.ID, handlerActor())
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"), "handlers cannot delete, got %v", err)

	dispatcher := domain.Actor{ID: "d1", Role: domain.RoleDispatcher}
	require.NoError(t, f.svc.Delete(context.Background(), ticket.ID, dispatcher))

	err = f.svc.Delete(context.Background(), ticket.ID, dispatcher)
	assert.True(t, apperrors.IsCode(err, "NOT_FOUND"), "got %v", err)
}

func TestGetEnforcesVisibility(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusNew, "someone-else", nil)
	requester := domain.Actor{ID: "r1", Role: domain.RoleRequester}

	_, err := f.svc.Get(context.Background(), ticket.ID, requester)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"), "got %v", err)

	_, err = f.svc.Get(context.Background(), ticket.ID, handlerActor())
	assert.NoError(t, err)
}

func TestListScopesRequesters(t *testing.T) {
	f := newLifecycleFixture()
	f.seedTicket(domain.TicketStatusNew, "r1", nil)
	f.seedTicket(domain.TicketStatusNew, "someone-else", nil)
	held := "r1"
	f.seedTicket(domain.TicketStatusAssigned, "someone-else", &held)

	requester := domain.Actor{ID: "r1", Role: domain.RoleRequester}
	mine, err := f.svc.List(context.Background(), requester, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 2, "requesters see created plus held tickets")

	all, err := f.svc.List(context.Background(), handlerActor(), repository.TicketFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestHistoryFollowsTicketVisibility(t *testing.T) {
	f := newLifecycleFixture()
	ticket := f.seedTicket(domain.TicketStatusNew, "someone-else", nil)
	_, err := f.svc.Transition(context.Background(), ticket.ID, handlerActor(), domain.TicketStatusResolved, nil)
	require.NoError(t, err)

	entries, err := f.svc.History(context.Background(), ticket.ID, handlerActor())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	requester := domain.Actor{ID: "r1", Role: domain.RoleRequester}
	_, err = f.svc.History(context.Background(), ticket.ID, requester)
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"), "got %v", err)
}
