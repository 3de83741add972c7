package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/notify"
)

func TestNotifyAssignee(t *testing.T) {
	sender := &notify.RecordingSender{}
	svc := NewNotificationService(sender, nil)
	ticket := &domain.Ticket{ID: "t-1", Title: "Cannot log in", Description: "SSO loop", Priority: domain.TicketPriorityHigh, Status: domain.TicketStatusAssigned}

	require.NoError(t, svc.NotifyAssignee(context.Background(), &domain.User{ID: "m-1", Email: "mod@example.com"}, ticket))

	msgs := sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mod@example.com", msgs[0].To)
	assert.Equal(t, "Ticket Assigned", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "A new ticket is assigned to you: Cannot log in")
	assert.Contains(t, msgs[0].Body, "Priority: high")
	assert.Contains(t, msgs[0].Body, "Status: ASSIGNED")
}

func TestNotifyStatusChange(t *testing.T) {
	sender := &notify.RecordingSender{}
	svc := NewNotificationService(sender, nil)
	ticket := &domain.Ticket{ID: "t-1", Title: "Cannot log in", Description: "SSO loop"}

	require.NoError(t, svc.NotifyStatusChange(context.Background(), &domain.User{ID: "u-1", Email: "user@example.com"}, ticket,
		domain.TicketStatusInProgress, domain.TicketStatusAssigned))

	msgs := sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "(ID: t-1)")
	assert.Contains(t, msgs[0].Body, "Old Status: IN_PROGRESS")
	assert.Contains(t, msgs[0].Body, "New Status: ASSIGNED")
	assert.Contains(t, msgs[0].Body, "Priority: N/A")
}

func TestNotifySenderErrorIsReturned(t *testing.T) {
	down := errors.New("smtp down")
	svc := NewNotificationService(&notify.RecordingSender{Err: down}, nil)

	err := svc.NotifyAssignee(context.Background(), &domain.User{ID: "m-1", Email: "mod@example.com"}, &domain.Ticket{ID: "t-1"})
	assert.ErrorIs(t, err, down)
}
