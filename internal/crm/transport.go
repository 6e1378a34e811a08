package crm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EntityType identifies a CRM entity kind a call activity can bind to.
type EntityType string

const (
	EntityLead EntityType = "lead"
	EntityDeal EntityType = "deal"
)

// Outcome is the business result of a finished call.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAbandoned Outcome = "abandoned"
)

// Activity is the finished-call payload submitted to the CRM.
type Activity struct {
	CallID     string     `json:"call_id"`
	EntityType EntityType `json:"entity_type"`

	// TargetIDs restricts which entities of this type receive the activity.
	// Empty means "match by caller identity", resolved by the CRM side.
	TargetIDs []string `json:"target_ids,omitempty"`

	Outcome Outcome `json:"outcome"`

	CallerID   string `json:"caller_id"`
	CallerName string `json:"caller_name,omitempty"`
	QueueID    string `json:"queue_id,omitempty"`
	QueueName  string `json:"queue_name,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`

	StartedAt  time.Time `json:"started_at,omitempty"`
	AnsweredAt time.Time `json:"answered_at,omitempty"`
	EndedAt    time.Time `json:"ended_at,omitempty"`

	DurationSeconds int `json:"duration_seconds"`
	WaitSeconds     int `json:"wait_seconds"`
	TalkSeconds     int `json:"talk_seconds"`

	HangupCause     int    `json:"hangup_cause,omitempty"`
	HangupCauseText string `json:"hangup_cause_text,omitempty"`

	// RecordingRef is a file reference to the call recording; absent when no
	// recording exists.
	RecordingRef string `json:"recording_ref,omitempty"`
}

// Transport is the outbound CRM boundary.
//
// Rules:
// - No CRM HTTP calls outside this package.
// - SubmitActivity must be safe to retry; the CRM side dedupes on call_id +
//   entity_type.
// - RegisterCall/NotifyAgents/CloseWindow are best-effort in-call signals;
//   callers log failures and move on.
type Transport interface {
	Name() string

	// RegisterCall announces a ringing call (queue join) so the CRM can show
	// a call window. Returns the CRM-side call id.
	RegisterCall(ctx context.Context, callID, callerID, queueID string) (string, error)

	// NotifyAgents opens the call window for the given agent numbers.
	NotifyAgents(ctx context.Context, crmCallID string, agents []string) error

	// CloseWindow closes the call window, marking it answered for acceptedBy
	// when non-empty.
	CloseWindow(ctx context.Context, crmCallID, acceptedBy string) error

	// SubmitActivity finishes the call in the CRM and binds the activity per
	// the payload. Failures are typed; see Failure.
	SubmitActivity(ctx context.Context, act Activity) error
}

// Failure is a typed CRM transport failure.
type Failure struct {
	// Code is the CRM-side or HTTP status code.
	Code int
	// Retryable hints whether the dispatcher should retry.
	Retryable bool
	Message   string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("crm: %s (code %d)", f.Message, f.Code)
}

// IsRetryable reports whether err is a transient transport failure.
// Unknown errors (network, timeouts) are treated as retryable.
func IsRetryable(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Retryable
	}
	return true
}
