package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "NEW"
	TicketStatusTodo       TicketStatus = "TODO"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusAssigned   TicketStatus = "ASSIGNED"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketPriority enumerates triage urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// DefaultHelpfulNotes is stored when the classifier returns no notes.
const DefaultHelpfulNotes = "No helpful notes provided by AI."

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Status        TicketStatus   `json:"status"`
	Priority      TicketPriority `json:"priority,omitempty"`
	HelpfulNotes  string         `json:"helpful_notes,omitempty"`
	RelatedSkills []string       `json:"related_skills"`
	AssignedTo    *string        `json:"assigned_to,omitempty"`
	CreatedBy     string         `json:"created_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TicketUpdate is a field-level partial update. Nil fields are left untouched.
type TicketUpdate struct {
	Status        *TicketStatus
	Priority      *TicketPriority
	HelpfulNotes  *string
	RelatedSkills []string
	SetSkills     bool
	// SetAssignee writes AssignedTo, including clearing it when AssignedTo is nil.
	SetAssignee bool
	AssignedTo  *string
}

// Empty reports whether the update carries no field changes.
func (u TicketUpdate) Empty() bool {
	return u.Status == nil && u.Priority == nil && u.HelpfulNotes == nil && !u.SetSkills && !u.SetAssignee
}

// Apply merges the update into ticket.
func (u TicketUpdate) Apply(ticket *Ticket) {
	if u.Status != nil {
		ticket.Status = *u.Status
	}
	if u.Priority != nil {
		ticket.Priority = *u.Priority
	}
	if u.HelpfulNotes != nil {
		ticket.HelpfulNotes = *u.HelpfulNotes
	}
	if u.SetSkills {
		ticket.RelatedSkills = append([]string{}, u.RelatedSkills...)
	}
	if u.SetAssignee {
		if u.AssignedTo == nil {
			ticket.AssignedTo = nil
		} else {
			id := *u.AssignedTo
			ticket.AssignedTo = &id
		}
	}
}

// ParsePriority returns the priority matching val, case-insensitively.
func ParsePriority(val string) (TicketPriority, bool) {
	switch TicketPriority(strings.ToLower(strings.TrimSpace(val))) {
	case TicketPriorityLow:
		return TicketPriorityLow, true
	case TicketPriorityMedium:
		return TicketPriorityMedium, true
	case TicketPriorityHigh:
		return TicketPriorityHigh, true
	}
	return "", false
}

// NormalizePriority maps absent or unrecognized values to medium.
func NormalizePriority(val string) TicketPriority {
	if p, ok := ParsePriority(val); ok {
		return p
	}
	return TicketPriorityMedium
}
