package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// InboundEmailRepository is the dedup ledger for ingested mail.
type InboundEmailRepository interface {
	// RecordAndCreate inserts the ledger row and the ticket in one
	// transaction: the mail lands recorded with its ticket, or not at all.
	// It reports false and writes nothing when a row with the same
	// Message-Id already exists; the store's unique constraint makes that
	// call, so concurrent pollers and retries cannot double-create.
	RecordAndCreate(ctx context.Context, record *domain.InboundEmail, ticket *domain.Ticket) (bool, error)
}

type inboundEmailRepository struct {
	pool *pgxpool.Pool
}

// NewInboundEmailRepository builds repository.
func NewInboundEmailRepository(pool *pgxpool.Pool) InboundEmailRepository {
	return &inboundEmailRepository{pool: pool}
}

func (r *inboundEmailRepository) RecordAndCreate(ctx context.Context, record *domain.InboundEmail, ticket *domain.Ticket) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const recordQuery = `
        INSERT INTO inbound_emails (message_id, from_email, subject, body, received_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (message_id) DO NOTHING
        RETURNING id`
	err = tx.QueryRow(ctx, recordQuery,
		record.MessageID,
		record.FromEmail,
		record.Subject,
		record.Body,
		record.ReceivedAt,
	).Scan(&record.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := insertTicket(ctx, tx, ticket); err != nil {
		return false, err
	}

	const markQuery = `
        UPDATE inbound_emails SET processed=TRUE, ticket_id=$1 WHERE id=$2`
	if _, err := tx.Exec(ctx, markQuery, ticket.ID, record.ID); err != nil {
		return false, err
	}
	record.Processed = true
	record.TicketID = &ticket.ID

	return true, tx.Commit(ctx)
}
