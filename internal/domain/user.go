package domain

import (
	"strings"
	"time"
)

// UserRole enumerates account roles.
type UserRole string

const (
	UserRoleUser      UserRole = "user"
	UserRoleModerator UserRole = "moderator"
	UserRoleAdmin     UserRole = "admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleUser, UserRoleModerator, UserRoleAdmin:
		return true
	}
	return false
}

// CanBeAssigned reports whether users with this role may own tickets.
func (r UserRole) CanBeAssigned() bool {
	return r == UserRoleModerator || r == UserRoleAdmin
}

// User is an account that files or handles tickets.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	Skills    []string  `json:"skills,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasSkillMatching reports whether any of the user's skills equals or contains
// one of tags, ignoring case.
func (u *User) HasSkillMatching(tags []string) bool {
	for _, skill := range u.Skills {
		skill = strings.ToLower(skill)
		for _, tag := range tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" {
				continue
			}
			if strings.Contains(skill, tag) {
				return true
			}
		}
	}
	return false
}
