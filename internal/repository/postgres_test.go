package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-triage/internal/domain"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_init.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)
	return pool
}

func TestPostgresTicketRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t)
	users := NewUserRepository(pool)
	tickets := NewTicketRepository(pool)

	creator := &domain.User{Email: uuid.NewString() + "@example.com", Role: domain.UserRoleUser}
	require.NoError(t, users.Create(ctx, creator))

	ticket := &domain.Ticket{Title: "Cannot log in", Description: "SSO loop", CreatedBy: creator.ID}
	require.NoError(t, tickets.Create(ctx, ticket))

	priority := domain.TicketPriorityHigh
	notes := "check the IdP"
	updated, err := tickets.Update(ctx, ticket.ID, domain.TicketUpdate{
		Priority:      &priority,
		HelpfulNotes:  &notes,
		RelatedSkills: []string{"auth"},
		SetSkills:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, updated.Status)
	assert.Equal(t, domain.TicketPriorityHigh, updated.Priority)
	assert.Equal(t, []string{"auth"}, updated.RelatedSkills)
	assert.Nil(t, updated.AssignedTo)

	_, err = tickets.GetByID(ctx, uuid.NewString())
	assert.True(t, apperrors.IsNotFound(err))
	_, err = tickets.GetByID(ctx, "not-a-uuid")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestPostgresFindOneMatchesSkillSubstring(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t)
	users := NewUserRepository(pool)

	tag := "skill" + uuid.NewString()[:8]
	moderator := &domain.User{Email: uuid.NewString() + "@example.com", Role: domain.UserRoleModerator, Skills: []string{"Senior " + tag}}
	require.NoError(t, users.Create(ctx, moderator))

	found, err := users.FindOne(ctx, UserQuery{Role: domain.UserRoleModerator, AnySkill: []string{tag}})
	require.NoError(t, err)
	assert.Equal(t, moderator.ID, found.ID)

	_, err = users.FindOne(ctx, UserQuery{Role: domain.UserRoleModerator, AnySkill: []string{tag + "-absent"}})
	assert.True(t, apperrors.IsNotFound(err))
}
