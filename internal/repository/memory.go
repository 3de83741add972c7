package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-triage/internal/domain"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

// MemoryTicketRepository keeps tickets in process memory. It backs the
// service when Postgres is not configured and is used by tests.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]*domain.Ticket
	now     func() time.Time
}

// NewMemoryTicketRepository creates an empty repository.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[string]*domain.Ticket),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if _, exists := r.tickets[ticket.ID]; exists {
		return apperrors.NewConflict("ticket already exists", map[string]any{"id": ticket.ID})
	}
	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusNew
	}
	if ticket.RelatedSkills == nil {
		ticket.RelatedSkills = []string{}
	}
	now := r.now()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now
	r.tickets[ticket.ID] = cloneTicket(ticket)
	return nil
}

func (r *MemoryTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}
	return cloneTicket(ticket), nil
}

func (r *MemoryTicketRepository) Update(ctx context.Context, id string, update domain.TicketUpdate) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}
	if !update.Empty() {
		update.Apply(ticket)
		ticket.UpdatedAt = r.now()
	}
	return cloneTicket(ticket), nil
}

func (r *MemoryTicketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Ticket, 0)
	for _, ticket := range r.tickets {
		if !matchesTicketFilter(ticket, filter) {
			continue
		}
		result = append(result, *cloneTicket(ticket))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	if offset >= len(result) {
		return []domain.Ticket{}, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func matchesTicketFilter(ticket *domain.Ticket, filter TicketFilter) bool {
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if ticket.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.CreatedBy != nil && ticket.CreatedBy != *filter.CreatedBy {
		return false
	}
	if filter.AssignedTo != nil && (ticket.AssignedTo == nil || *ticket.AssignedTo != *filter.AssignedTo) {
		return false
	}
	return true
}

func cloneTicket(ticket *domain.Ticket) *domain.Ticket {
	cp := *ticket
	cp.RelatedSkills = append([]string{}, ticket.RelatedSkills...)
	if ticket.AssignedTo != nil {
		id := *ticket.AssignedTo
		cp.AssignedTo = &id
	}
	return &cp
}

// MemoryUserRepository keeps users in process memory.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewMemoryUserRepository creates a repository seeded with users.
func NewMemoryUserRepository(users ...domain.User) *MemoryUserRepository {
	repo := &MemoryUserRepository{users: make(map[string]*domain.User)}
	for i := range users {
		user := users[i]
		_ = repo.Create(context.Background(), &user)
	}
	return repo
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, existing := range r.users {
		if existing.Email == user.Email && user.Email != "" {
			return apperrors.NewConflict("email already registered", map[string]any{"email": user.Email})
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
	}
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range r.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return nil, apperrors.NewNotFound("user", map[string]any{"email": email})
}

func (r *MemoryUserRepository) FindOne(ctx context.Context, q UserQuery) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	filterSkills := len(skillPatterns(q.AnySkill)) > 0
	for _, id := range ids {
		user := r.users[id]
		if user.Role != q.Role {
			continue
		}
		if filterSkills && !user.HasSkillMatching(q.AnySkill) {
			continue
		}
		return cloneUser(user), nil
	}
	return nil, apperrors.NewNotFound("user", map[string]any{"role": q.Role, "skills": q.AnySkill})
}

func cloneUser(user *domain.User) *domain.User {
	cp := *user
	cp.Skills = append([]string{}, user.Skills...)
	return &cp
}
