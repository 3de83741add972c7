package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket.created"
	EventTicketStatusChanged EventType = "ticket.status_changed"
)

// SystemActor identifies changes made by workflow steps rather than a user.
const SystemActor = "system"

// Event represents a domain event. Payload is kept encoded so events survive
// being persisted with the workflow run they trigger.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	TicketID  string          `json:"ticket_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	ActorID   string              `json:"actor_id,omitempty"`
}

// New builds an event with an encoded payload. An empty id gets a random one.
func New(id string, eventType EventType, ticketID string, payload any) (Event, error) {
	if id == "" {
		id = uuid.NewString()
	}
	event := Event{
		ID:        id,
		Type:      eventType,
		TicketID:  ticketID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		event.Payload = raw
	}
	return event, nil
}

// Decode unmarshals the payload into out.
func (e Event) Decode(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
