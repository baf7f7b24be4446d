package mailroom

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/service"
)

// IdentityResolver maps a sender address to a user account.
type IdentityResolver interface {
	Resolve(ctx context.Context, email string) (*domain.User, error)
}

// TicketIntake creates a ticket and the mail's dedup ledger row atomically.
type TicketIntake interface {
	CreateFromMail(ctx context.Context, input service.TicketCreateInput, record *domain.InboundEmail) (*domain.Ticket, bool, error)
}

// Ingestor turns one parsed inbound message into at most one ticket. The
// dedup ledger's unique constraint, not a lookup, decides whether the
// message is new, so concurrent pollers and retries cannot double-create.
type Ingestor struct {
	identity IdentityResolver
	intake   TicketIntake
	logger   *zap.Logger
}

// NewIngestor builds the ingestor.
func NewIngestor(identity IdentityResolver, intake TicketIntake, logger *zap.Logger) *Ingestor {
	return &Ingestor{identity: identity, intake: intake, logger: logger}
}

// IngestResult reports what Ingest did with a message.
type IngestResult struct {
	Duplicate bool
	TicketID  string
}

// Ingest resolves the sender and creates the ticket together with its dedup
// ledger row in one store transaction. A crash mid-ingestion writes nothing,
// so the next cycle retries the still-unseen message from scratch; a
// Message-Id the ledger already holds is a no-op. In both outcomes the
// caller may mark the source message seen.
func (i *Ingestor) Ingest(ctx context.Context, m *ParsedMail) (*IngestResult, error) {
	record := &domain.InboundEmail{
		FromEmail:  m.From,
		Subject:    m.Subject,
		Body:       m.Body,
		ReceivedAt: receivedAt(m),
	}
	if m.MessageID != "" {
		msgID := m.MessageID
		record.MessageID = &msgID
	} else {
		// without a Message-Id the mail can never be deduplicated
		i.logger.Warn("inbound mail carries no message id", zap.String("from", m.From))
	}

	user, err := i.identity.Resolve(ctx, m.From)
	if err != nil {
		return nil, err
	}

	ticket, created, err := i.intake.CreateFromMail(ctx, service.TicketCreateInput{
		Subject:     m.Subject,
		Description: m.Body,
		CreatorID:   user.ID,
		CreatedAt:   receivedAt(m),
		Source:      "email",
	}, record)
	if err != nil {
		return nil, err
	}
	if !created {
		return &IngestResult{Duplicate: true}, nil
	}

	i.logger.Info("ticket created from inbound mail",
		zap.String("ticket_id", ticket.ID),
		zap.String("from", m.From))
	return &IngestResult{TicketID: ticket.ID}, nil
}

func receivedAt(m *ParsedMail) time.Time {
	if !m.Date.IsZero() {
		return m.Date
	}
	return time.Now()
}
