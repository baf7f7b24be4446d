package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

func TestCreateTicketDefaults(t *testing.T) {
	tickets := newFakeTicketRepo()
	dispatcher := &capturingDispatcher{}
	svc := NewIntakeService(tickets, newFakeInboundRepo(tickets), dispatcher)

	ticket, err := svc.Create(context.Background(), TicketCreateInput{
		Subject:     "  vpn is down  ",
		Description: "cannot connect since this morning",
		CreatorID:   "u-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "vpn is down", ticket.Subject)
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority, "missing priority defaults to MEDIUM")
	assert.Nil(t, ticket.ClosedAt)
	assert.Empty(t, tickets.history, "creation is the initial state, not a transition")

	event := dispatcher.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, events.EventTicketCreated, event.Type)
	assert.Equal(t, ticket.ID, event.TicketID)
}

func TestCreateTicketValidation(t *testing.T) {
	tickets := newFakeTicketRepo()
	svc := NewIntakeService(tickets, newFakeInboundRepo(tickets), &capturingDispatcher{})

	_, err := svc.Create(context.Background(), TicketCreateInput{Subject: "   ", CreatorID: "u-1"})
	assert.True(t, apperrors.IsCode(err, "INVALID_INPUT"), "blank subject, got %v", err)

	_, err = svc.Create(context.Background(), TicketCreateInput{
		Subject:   "hi",
		Priority:  domain.TicketPriority("URGENT"),
		CreatorID: "u-1",
	})
	assert.True(t, apperrors.IsCode(err, "INVALID_INPUT"), "unknown priority, got %v", err)
}

func TestCreateTicketKeepsMailDate(t *testing.T) {
	tickets := newFakeTicketRepo()
	svc := NewIntakeService(tickets, newFakeInboundRepo(tickets), &capturingDispatcher{})

	sent := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	ticket, err := svc.Create(context.Background(), TicketCreateInput{
		Subject:   "mailed in",
		CreatorID: "u-1",
		CreatedAt: sent,
		Source:    "email",
	})
	require.NoError(t, err)
	assert.Equal(t, sent, ticket.CreatedAt)
}

func mailRecord(messageID string) *domain.InboundEmail {
	record := &domain.InboundEmail{
		FromEmail:  "sender@example.com",
		Subject:    "mailed in",
		Body:       "it broke",
		ReceivedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	if messageID != "" {
		record.MessageID = &messageID
	}
	return record
}

func TestCreateFromMailRecordsLedgerAndTicketTogether(t *testing.T) {
	tickets := newFakeTicketRepo()
	inbound := newFakeInboundRepo(tickets)
	dispatcher := &capturingDispatcher{}
	svc := NewIntakeService(tickets, inbound, dispatcher)

	record := mailRecord("<m1@mail>")
	ticket, created, err := svc.CreateFromMail(context.Background(), TicketCreateInput{
		Subject:   "mailed in",
		CreatorID: "u-1",
		Source:    "email",
	}, record)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, record.Processed)
	require.NotNil(t, record.TicketID)
	assert.Equal(t, ticket.ID, *record.TicketID)

	event := dispatcher.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, events.EventTicketCreated, event.Type)
}

func TestCreateFromMailDuplicateWritesNothing(t *testing.T) {
	tickets := newFakeTicketRepo()
	inbound := newFakeInboundRepo(tickets)
	dispatcher := &capturingDispatcher{}
	svc := NewIntakeService(tickets, inbound, dispatcher)

	_, created, err := svc.CreateFromMail(context.Background(), TicketCreateInput{Subject: "mailed in", CreatorID: "u-1"}, mailRecord("<m1@mail>"))
	require.NoError(t, err)
	require.True(t, created)

	ticket, created, err := svc.CreateFromMail(context.Background(), TicketCreateInput{Subject: "mailed in", CreatorID: "u-1"}, mailRecord("<m1@mail>"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, ticket)
	assert.Len(t, tickets.tickets, 1)
	assert.Len(t, dispatcher.published, 1, "a deduplicated mail publishes no event")
}

func TestCreateFromMailRetryAfterRollbackCreatesOneTicket(t *testing.T) {
	tickets := newFakeTicketRepo()
	inbound := newFakeInboundRepo(tickets)
	svc := NewIntakeService(tickets, inbound, &capturingDispatcher{})

	inbound.txErr = fmt.Errorf("connection reset")
	_, _, err := svc.CreateFromMail(context.Background(), TicketCreateInput{Subject: "mailed in", CreatorID: "u-1"}, mailRecord("<m9@mail>"))
	require.Error(t, err)
	assert.Empty(t, tickets.tickets, "a failed ingestion must leave no ticket behind")

	_, created, err := svc.CreateFromMail(context.Background(), TicketCreateInput{Subject: "mailed in", CreatorID: "u-1"}, mailRecord("<m9@mail>"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, tickets.tickets, 1)

	_, created, err = svc.CreateFromMail(context.Background(), TicketCreateInput{Subject: "mailed in", CreatorID: "u-1"}, mailRecord("<m9@mail>"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, tickets.tickets, 1, "retries of the same Message-Id keep exactly one ticket")
}
