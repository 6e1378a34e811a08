package observe

import "time"

// Event is an immutable, append-only observability record.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; correlation flows must never block on it.
type Event struct {
	ID string `json:"id"`

	// Type indicates the category of the record.
	Type EventType `json:"type"`

	CallID    string `json:"call_id,omitempty"`
	EventKind string `json:"event_kind,omitempty"`
	Entity    string `json:"entity,omitempty"`

	// Reason is a short machine-readable cause (disabled, unrecognized,
	// illegal_transition, timeout, shutdown, attempts_exhausted, ...).
	Reason string `json:"reason,omitempty"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeEventDropped   EventType = "event_dropped"
	EventTypeSessionFailed  EventType = "session_failed"
	EventTypeSessionExpired EventType = "session_expired"
	EventTypeDispatchFailed EventType = "dispatch_failed"
	EventTypeDeadLettered   EventType = "dead_lettered"
)
