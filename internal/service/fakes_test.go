package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
)

type fakeTicketRepo struct {
	tickets  map[string]*domain.Ticket
	history  []domain.StatusHistoryEntry
	applyErr error
	nextID   int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: map[string]*domain.Ticket{}}
}

func (r *fakeTicketRepo) put(ticket *domain.Ticket) *domain.Ticket {
	copied := *ticket
	r.tickets[copied.ID] = &copied
	return &copied
}

func (r *fakeTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.nextID++
	ticket.ID = fmt.Sprintf("t-%d", r.nextID)
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}
	ticket.UpdatedAt = ticket.CreatedAt
	r.put(ticket)
	return nil
}

func (r *fakeTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *ticket
	return &copied, nil
}

func (r *fakeTicketRepo) ListWithFilter(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if filter.InvolvedID != nil {
			involved := ticket.CreatorID == *filter.InvolvedID ||
				(ticket.AssigneeID != nil && *ticket.AssigneeID == *filter.InvolvedID)
			if !involved {
				continue
			}
		}
		result = append(result, *ticket)
	}
	return result, nil
}

func (r *fakeTicketRepo) ApplyTransition(ctx context.Context, ticket *domain.Ticket, entry *domain.StatusHistoryEntry) error {
	if r.applyErr != nil {
		return r.applyErr
	}
	ticket.UpdatedAt = time.Now()
	r.put(ticket)
	entry.ID = fmt.Sprintf("h-%d", len(r.history)+1)
	entry.CreatedAt = time.Now()
	r.history = append(r.history, *entry)
	return nil
}

func (r *fakeTicketRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.tickets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.tickets, id)
	return nil
}

type fakeUserRepo struct {
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
	nextID  int
	// lookupMisses makes that many GetByEmail calls miss, simulating a
	// concurrent insert landing between lookup and create.
	lookupMisses int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[string]*domain.User{}, byEmail: map[string]*domain.User{}}
}

func (r *fakeUserRepo) add(user domain.User) *domain.User {
	if user.ID == "" {
		r.nextID++
		user.ID = fmt.Sprintf("u-%d", r.nextID)
	}
	r.byID[user.ID] = &user
	r.byEmail[user.Email] = &user
	return &user
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	if _, exists := r.byEmail[user.Email]; exists {
		return errDuplicateEmail
	}
	stored := r.add(*user)
	*user = *stored
	return nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user *domain.User) error {
	if _, ok := r.byID[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	stored := r.add(*user)
	*user = *stored
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, ok := r.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if r.lookupMisses > 0 {
		r.lookupMisses--
		return nil, pgx.ErrNoRows
	}
	user, ok := r.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) ListAssignable(ctx context.Context) ([]domain.User, error) {
	var result []domain.User
	for _, user := range r.byID {
		if user.Active && user.Role != domain.RoleRequester {
			result = append(result, *user)
		}
	}
	return result, nil
}

var errDuplicateEmail = &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}

// fakeInboundRepo mirrors the ledger's transactional contract: a duplicate
// Message-Id writes nothing, a success records mail and ticket together.
type fakeInboundRepo struct {
	tickets *fakeTicketRepo
	records map[string]*domain.InboundEmail
	nextID  int
	txErr   error
}

func newFakeInboundRepo(tickets *fakeTicketRepo) *fakeInboundRepo {
	return &fakeInboundRepo{tickets: tickets, records: map[string]*domain.InboundEmail{}}
}

func (r *fakeInboundRepo) RecordAndCreate(ctx context.Context, record *domain.InboundEmail, ticket *domain.Ticket) (bool, error) {
	if r.txErr != nil {
		err := r.txErr
		r.txErr = nil
		return false, err
	}
	if record.MessageID != nil {
		if _, dup := r.records[*record.MessageID]; dup {
			return false, nil
		}
	}
	if err := r.tickets.Create(ctx, ticket); err != nil {
		return false, err
	}
	r.nextID++
	record.ID = fmt.Sprintf("e-%d", r.nextID)
	record.Processed = true
	record.TicketID = &ticket.ID
	if record.MessageID != nil {
		copied := *record
		r.records[*record.MessageID] = &copied
	}
	return true, nil
}

type fakeHistoryRepo struct {
	source *fakeTicketRepo
}

func (r *fakeHistoryRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.StatusHistoryEntry, error) {
	var result []domain.StatusHistoryEntry
	for _, entry := range r.source.history {
		if entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}

type fakeMessageRepo struct {
	messages []domain.Message
	nextID   int
}

func (r *fakeMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	r.nextID++
	msg.ID = fmt.Sprintf("m-%d", r.nextID)
	msg.CreatedAt = time.Now()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *fakeMessageRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error) {
	var result []domain.Message
	for _, msg := range r.messages {
		if msg.TicketID == ticketID {
			result = append(result, msg)
		}
	}
	return result, nil
}

type capturingDispatcher struct {
	published []events.Event
}

func (d *capturingDispatcher) Publish(ctx context.Context, event events.Event) error {
	d.published = append(d.published, event)
	return nil
}

func (d *capturingDispatcher) Subscribe(eventType events.EventType, handler events.EventHandler) {}

func (d *capturingDispatcher) lastEvent() *events.Event {
	if len(d.published) == 0 {
		return nil
	}
	return &d.published[len(d.published)-1]
}
