package session

import (
	"sync"
	"time"

	"callbridge/internal/event"
)

// State is the lifecycle state of a call session.
type State string

const (
	StateNew           State = "new"
	StateAwaitingQueue State = "awaiting_queue"
	StateQueued        State = "queued"
	StateAgentRinging  State = "agent_ringing"
	StateConnected     State = "connected"
	StateCompleted     State = "completed"
	StateAbandoned     State = "abandoned"
	StateFailed        State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateAbandoned, StateFailed:
		return true
	default:
		return false
	}
}

// FinalizeReason explains why a session was force-finalized outside the
// normal event flow.
type FinalizeReason string

const (
	FinalizeReasonTimeout  FinalizeReason = "timeout"
	FinalizeReasonShutdown FinalizeReason = "shutdown"
)

// CallSession is the correlated aggregate of all events sharing a call
// identifier. It is created by the registry, mutated exclusively by the state
// machine while holding the per-session lock, and evicted once its terminal
// outcome has been routed.
type CallSession struct {
	mu sync.Mutex

	CallID       string
	LinkedCallID string

	CallerID   string
	CallerName string
	Exten      string
	Channel    string

	QueueID string
	AgentID string
	// CandidateAgents records every agent rung before one answered,
	// in ring order.
	CandidateAgents []string

	State State

	StartedAt      time.Time
	EnteredQueueAt time.Time
	AnsweredAt     time.Time
	EndedAt        time.Time

	// WaitSeconds is answered - entered-queue, clamped to zero.
	// WaitAnomaly flags a negative raw value (event reordering).
	WaitSeconds int
	WaitAnomaly bool
	TalkSeconds int

	HangupCause     int
	HangupCauseText string

	// completionObserved is set by AgentComplete or a successful DialEnd and
	// decides the terminal state a Hangup resolves to.
	completionObserved bool

	RecordingWAV string

	// Reason is set when the session was force-finalized (expiry, shutdown).
	Reason FinalizeReason

	// Routed marks that the terminal outcome has been handed to the routing
	// engine; post-terminal events must not re-trigger dispatch.
	Routed bool

	// FailedEvent holds the event that triggered an illegal transition.
	FailedEvent *event.NormalizedEvent

	// Events is the append-only log of every applied event.
	Events []event.NormalizedEvent

	LastEventAt time.Time
}

// Lock acquires the per-session mutex. All mutations and consistent reads of
// a live session must happen under it; sessions for different call ids never
// contend.
func (s *CallSession) Lock() { s.mu.Lock() }

// Unlock releases the per-session mutex.
func (s *CallSession) Unlock() { s.mu.Unlock() }

// Snapshot returns a copy of the session safe to read without the lock.
// The event log is shared; treat it as read-only.
func (s *CallSession) Snapshot() CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CallSession{
		CallID:          s.CallID,
		LinkedCallID:    s.LinkedCallID,
		CallerID:        s.CallerID,
		CallerName:      s.CallerName,
		Exten:           s.Exten,
		Channel:         s.Channel,
		QueueID:         s.QueueID,
		AgentID:         s.AgentID,
		CandidateAgents: append([]string(nil), s.CandidateAgents...),
		State:           s.State,
		StartedAt:       s.StartedAt,
		EnteredQueueAt:  s.EnteredQueueAt,
		AnsweredAt:      s.AnsweredAt,
		EndedAt:         s.EndedAt,
		WaitSeconds:     s.WaitSeconds,
		WaitAnomaly:     s.WaitAnomaly,
		TalkSeconds:     s.TalkSeconds,
		HangupCause:     s.HangupCause,
		HangupCauseText: s.HangupCauseText,
		RecordingWAV:    s.RecordingWAV,
		Reason:          s.Reason,
		Routed:          s.Routed,
		Events:          s.Events,
		LastEventAt:     s.LastEventAt,
	}
}

// DurationSeconds is the whole-call duration, zero until ended.
func (s *CallSession) DurationSeconds() int {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	d := int(s.EndedAt.Sub(s.StartedAt).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

// HangupCauseInfo maps hangup cause codes to names and descriptions.
var HangupCauseInfo = map[int]struct {
	Name        string
	Description string
}{
	0:   {"unknown", "Unknown or no cause provided"},
	16:  {"normal_clearing", "The call was hung up normally by one of the parties"},
	17:  {"user_busy", "The destination was busy"},
	18:  {"no_answer", "The destination did not answer"},
	19:  {"no_answer", "The destination did not answer within the timeout"},
	21:  {"call_rejected", "The call was rejected by the destination"},
	31:  {"normal_unspecified", "Normal call clearing, unspecified cause"},
	34:  {"congestion", "All circuits are busy or no circuit is available"},
	127: {"interworking", "An interworking error occurred"},
}
