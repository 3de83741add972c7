package dto

import (
	"time"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UpdateTicketRequest is a partial update; omitted fields are untouched.
type UpdateTicketRequest struct {
	Status        *string   `json:"status"`
	Priority      *string   `json:"priority"`
	HelpfulNotes  *string   `json:"helpfulNotes"`
	RelatedSkills *[]string `json:"relatedSkills"`
}

// TicketResponse is the public ticket shape.
type TicketResponse struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority,omitempty"`
	HelpfulNotes  string                `json:"helpfulNotes,omitempty"`
	RelatedSkills []string              `json:"relatedSkills"`
	AssignedTo    *string               `json:"assignedTo"`
	CreatedBy     string                `json:"createdBy,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(ticket *domain.Ticket) TicketResponse {
	skills := ticket.RelatedSkills
	if skills == nil {
		skills = []string{}
	}
	return TicketResponse{
		ID:            ticket.ID,
		Title:         ticket.Title,
		Description:   ticket.Description,
		Status:        ticket.Status,
		Priority:      ticket.Priority,
		HelpfulNotes:  ticket.HelpfulNotes,
		RelatedSkills: skills,
		AssignedTo:    ticket.AssignedTo,
		CreatedBy:     ticket.CreatedBy,
		CreatedAt:     ticket.CreatedAt,
		UpdatedAt:     ticket.UpdatedAt,
	}
}
