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

// UserQuery selects a single user. AnySkill matches users holding a skill
// equal to or containing any of the tags, ignoring case. Empty tags are
// ignored; an empty AnySkill matches every user of the role.
type UserQuery struct {
	Role     domain.UserRole
	AnySkill []string
}

// UserRepository defines persistence access for users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// FindOne returns the matching user with the lowest id, or a NotFound error.
	FindOne(ctx context.Context, query UserQuery) (*domain.User, error)
}

const userColumns = `id, email, role, skills, created_at`

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Skills == nil {
		user.Skills = []string{}
	}
	const query = `
        INSERT INTO users (id, email, role, skills)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		user.ID,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.Role,
		user.Skills,
	).Scan(&user.CreatedAt)
	if isUniqueViolation(err) {
		return apperrors.NewConflict("email already registered", map[string]any{"email": user.Email})
	}
	return err
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
		}
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"email": email})
		}
		return nil, err
	}
	return user, nil
}

func (r *userRepository) FindOne(ctx context.Context, q UserQuery) (*domain.User, error) {
	args := []any{q.Role}
	clauses := []string{"role=$1"}

	if patterns := skillPatterns(q.AnySkill); len(patterns) > 0 {
		args = append(args, patterns)
		clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(skills) AS s WHERE s ILIKE ANY($%d))", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY id LIMIT 1`, userColumns, strings.Join(clauses, " AND "))
	user, err := scanUser(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"role": q.Role, "skills": q.AnySkill})
		}
		return nil, err
	}
	return user, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(&user.ID, &user.Email, &user.Role, &user.Skills, &user.CreatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

// skillPatterns turns tags into ILIKE substring patterns.
func skillPatterns(tags []string) []string {
	patterns := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		patterns = append(patterns, "%"+likeEscaper.Replace(tag)+"%")
	}
	return patterns
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
