package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-triage/internal/domain"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

// TicketFilter captures list parameters.
type TicketFilter struct {
	Statuses   []domain.TicketStatus
	CreatedBy  *string
	AssignedTo *string
	Limit      int
	Offset     int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// Update writes only the fields set in update and returns the stored ticket.
	Update(ctx context.Context, id string, update domain.TicketUpdate) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

const ticketColumns = `id, title, description, status, priority, helpful_notes, related_skills,
               assigned_to, created_by, created_at, updated_at`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusNew
	}
	if ticket.RelatedSkills == nil {
		ticket.RelatedSkills = []string{}
	}
	const query = `
        INSERT INTO tickets (id, title, description, status, priority, helpful_notes, related_skills, assigned_to, created_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.ID,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		nullableString(string(ticket.Priority)),
		nullableString(ticket.HelpfulNotes),
		ticket.RelatedSkills,
		ticket.AssignedTo,
		ticket.CreatedBy,
	).Scan(&ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, ticketLookupError(id, err)
	}
	return ticket, nil
}

func (r *ticketRepository) Update(ctx context.Context, id string, update domain.TicketUpdate) (*domain.Ticket, error) {
	if update.Empty() {
		return r.GetByID(ctx, id)
	}

	sets := make([]string, 0, 6)
	args := make([]any, 0, 6)
	set := func(column string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if update.Status != nil {
		set("status", *update.Status)
	}
	if update.Priority != nil {
		set("priority", nullableString(string(*update.Priority)))
	}
	if update.HelpfulNotes != nil {
		set("helpful_notes", *update.HelpfulNotes)
	}
	if update.SetSkills {
		skills := update.RelatedSkills
		if skills == nil {
			skills = []string{}
		}
		set("related_skills", skills)
	}
	if update.SetAssignee {
		set("assigned_to", update.AssignedTo)
	}
	sets = append(sets, "updated_at=NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE tickets SET %s WHERE id=$%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), ticketColumns)
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, ticketLookupError(id, err)
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Ticket, 0)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket   domain.Ticket
		priority *string
		notes    *string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&priority,
		&notes,
		&ticket.RelatedSkills,
		&ticket.AssignedTo,
		&ticket.CreatedBy,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if priority != nil {
		ticket.Priority = domain.TicketPriority(*priority)
	}
	if notes != nil {
		ticket.HelpfulNotes = *notes
	}
	if ticket.RelatedSkills == nil {
		ticket.RelatedSkills = []string{}
	}
	return &ticket, nil
}

func ticketLookupError(id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
		return apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}
	return err
}

// isInvalidID matches Postgres rejecting a malformed uuid literal.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func nullableString(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
