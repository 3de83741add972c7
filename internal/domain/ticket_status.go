package domain

var statusRank = map[TicketStatus]int{
	TicketStatusNew:        0,
	TicketStatusTodo:       1,
	TicketStatusInProgress: 2,
	TicketStatusAssigned:   3,
	TicketStatusResolved:   4,
	TicketStatusClosed:     5,
}

// ParseStatus validates a status string.
func ParseStatus(val string) (TicketStatus, bool) {
	status := TicketStatus(val)
	_, ok := statusRank[status]
	return status, ok
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvance reports whether a workflow step may move a ticket from current to next.
// Workflow steps only move forward; RESOLVED may still be closed.
func CanAdvance(current, next TicketStatus) bool {
	from, ok := statusRank[current]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// CanSetExternally reports whether an operator update may set next on a ticket in current.
// Operators may move freely between known states except back to NEW.
func CanSetExternally(current, next TicketStatus) bool {
	if !next.Valid() || next == TicketStatusNew {
		return false
	}
	return current != next
}

// TriggersStatusChanged reports whether moving from old to next must emit
// ticket.status_changed. Only leaving IN_PROGRESS qualifies.
func TriggersStatusChanged(old, next TicketStatus) bool {
	return old == TicketStatusInProgress && next != TicketStatusInProgress
}
