package store

import (
	"context"
	"time"
)

// CallRecord is the immutable row persisted for every finalized call.
//
// Invariants:
// - Records are insert-only; the correlated session is the single source of
//   truth and is gone once routed.
// - call_id is unique.
type CallRecord struct {
	CallID       string `json:"call_id" db:"call_id"`
	LinkedCallID string `json:"linked_call_id,omitempty" db:"linked_call_id"`

	CallerID string `json:"caller_id" db:"caller_id"`
	QueueID  string `json:"queue_id,omitempty" db:"queue_id"`
	AgentID  string `json:"agent_id,omitempty" db:"agent_id"`

	Outcome Outcome `json:"outcome" db:"outcome"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`
	WaitSeconds     int `json:"wait_seconds" db:"wait_seconds"`
	TalkSeconds     int `json:"talk_seconds" db:"talk_seconds"`

	HangupCause     int    `json:"hangup_cause,omitempty" db:"hangup_cause"`
	HangupCauseText string `json:"hangup_cause_text,omitempty" db:"hangup_cause_text"`

	RecordingRef string `json:"recording_ref,omitempty" db:"recording_ref"`

	StartedAt time.Time `json:"started_at" db:"started_at"`
	EndedAt   time.Time `json:"ended_at" db:"ended_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeFailed    Outcome = "failed"
)

// Repository abstracts call record persistence.
type Repository interface {
	Insert(ctx context.Context, rec CallRecord) error
	List(ctx context.Context, from, to time.Time, queueID string) ([]CallRecord, error)
}
