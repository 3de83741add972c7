package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-triage/internal/domain"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

var (
	userEmail  string
	userRole   string
	userSkills []string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User directory commands",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a user, moderator or admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.TrimSpace(userEmail)
		if email == "" {
			return apperrors.NewValidationError("--email is required", nil)
		}
		role := domain.UserRole(strings.ToLower(strings.TrimSpace(userRole)))
		if !role.Valid() {
			return apperrors.NewValidationError("unknown role", map[string]any{"role": userRole})
		}
		skills := make([]string, 0, len(userSkills))
		for _, skill := range userSkills {
			if skill = strings.TrimSpace(skill); skill != "" {
				skills = append(skills, skill)
			}
		}

		user := &domain.User{Email: email, Role: role, Skills: skills}
		if err := container.Users.Create(cmd.Context(), user); err != nil {
			return err
		}
		return printJSON(cmd, user)
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address")
	userAddCmd.Flags().StringVar(&userRole, "role", string(domain.UserRoleUser), "Role: user, moderator or admin")
	userAddCmd.Flags().StringSliceVar(&userSkills, "skill", nil, "Skill tag (repeat flag or comma separated)")
	userCmd.AddCommand(userAddCmd)
}
