package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-triage/internal/domain"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

var (
	tokenUserID string
	tokenEmail  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Access token commands",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for an existing user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var (
			user *domain.User
			err  error
		)
		switch {
		case strings.TrimSpace(tokenUserID) != "":
			user, err = container.Users.GetByID(ctx, strings.TrimSpace(tokenUserID))
		case strings.TrimSpace(tokenEmail) != "":
			user, err = container.Users.GetByEmail(ctx, tokenEmail)
		default:
			return apperrors.NewValidationError("--user or --email is required", nil)
		}
		if err != nil {
			return err
		}

		token, expiresAt, err := container.Tokens.GenerateToken(user.ID, user.Role)
		if err != nil {
			return err
		}
		return printJSON(cmd, struct {
			Token     string    `json:"token"`
			UserID    string    `json:"userId"`
			ExpiresAt time.Time `json:"expiresAt"`
		}{token, user.ID, expiresAt})
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenUserID, "user", "", "User id to issue the token for")
	tokenIssueCmd.Flags().StringVar(&tokenEmail, "email", "", "User email to issue the token for")
	tokenCmd.AddCommand(tokenIssueCmd)
}
