package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/repository"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

// AssignmentService picks the user a triaged ticket is assigned to.
type AssignmentService struct {
	users  repository.UserRepository
	logger *zap.Logger
}

// AssignmentDependencies bundles repositories.
type AssignmentDependencies struct {
	UserRepo repository.UserRepository
	Logger   *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{users: deps.UserRepo, logger: logger}
}

// Resolve returns the first moderator, by id, holding a skill that equals or
// contains one of skills; failing that the first administrator; failing that
// nil. Store errors other than NotFound are returned.
func (s *AssignmentService) Resolve(ctx context.Context, skills []string) (*domain.User, error) {
	tags := make([]string, 0, len(skills))
	for _, skill := range skills {
		if skill = strings.TrimSpace(skill); skill != "" {
			tags = append(tags, skill)
		}
	}

	if len(tags) > 0 {
		moderator, err := s.users.FindOne(ctx, repository.UserQuery{Role: domain.UserRoleModerator, AnySkill: tags})
		switch {
		case err == nil:
			return moderator, nil
		case !apperrors.IsNotFound(err):
			return nil, err
		}
		s.logger.Debug("no moderator matches skills; falling back to admin", zap.Strings("skills", tags))
	}

	admin, err := s.users.FindOne(ctx, repository.UserQuery{Role: domain.UserRoleAdmin})
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.logger.Warn("no moderator or admin available; ticket left unassigned", zap.Strings("skills", tags))
			return nil, nil
		}
		return nil, err
	}
	return admin, nil
}
