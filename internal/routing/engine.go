package routing

import (
	"github.com/google/uuid"

	"callbridge/internal/crm"
	"callbridge/internal/session"
)

// Decision is the ephemeral output of the routing engine: one CRM activity
// submission for one entity type. Produced once per finished session and
// consumed immediately by the dispatcher; never persisted as-is.
type Decision struct {
	ID string `json:"id"`

	CallID     string         `json:"call_id"`
	EntityType crm.EntityType `json:"entity_type"`
	TargetIDs  []string       `json:"target_ids,omitempty"`

	Activity crm.Activity `json:"activity"`
}

// Engine combines a finished session with the static mapping to decide which
// CRM activities the call produces. Pure: no side effects, no persistence.
//
// Per entity type:
//   - NONE skips the type.
//   - ALL always emits one decision; empty targets defer entity matching to
//     the CRM transport (caller-identity lookup).
//   - FILTERED emits only when the call's queue maps to at least one target
//     for the type.
//
// Only Completed and Abandoned sessions are routed. Failed sessions carry
// malformed data and are reported to observability only. Abandoned calls are
// still routed with the abandoned outcome: a missed call is
// business-relevant.
type Engine struct {
	mapping *Mapping
}

func NewEngine(mapping *Mapping) *Engine {
	return &Engine{mapping: mapping}
}

var routedEntities = []crm.EntityType{crm.EntityLead, crm.EntityDeal}

// Route produces zero or more decisions for a finished session, at most one
// per entity type. recordingRef may be empty.
func (e *Engine) Route(snap session.CallSession, recordingRef string) []Decision {
	var outcome crm.Outcome
	switch snap.State {
	case session.StateCompleted:
		outcome = crm.OutcomeCompleted
	case session.StateAbandoned:
		outcome = crm.OutcomeAbandoned
	default:
		return nil
	}

	var decisions []Decision
	for _, entity := range routedEntities {
		targets, matched := e.mapping.Resolve(snap.QueueID, entity)

		switch e.mapping.Policy(entity) {
		case BindingNone:
			continue
		case BindingFiltered:
			if !matched {
				// No matching target is not an error; the decision is
				// simply omitted.
				continue
			}
		case BindingAll:
			// Targets may be empty: match by caller identity downstream.
		}

		decisions = append(decisions, Decision{
			ID:         uuid.NewString(),
			CallID:     snap.CallID,
			EntityType: entity,
			TargetIDs:  targets,
			Activity:   e.activity(snap, entity, targets, outcome, recordingRef),
		})
	}
	return decisions
}

func (e *Engine) activity(snap session.CallSession, entity crm.EntityType, targets []string, outcome crm.Outcome, recordingRef string) crm.Activity {
	duration := 0
	if !snap.StartedAt.IsZero() && !snap.EndedAt.IsZero() {
		if d := int(snap.EndedAt.Sub(snap.StartedAt).Seconds()); d > 0 {
			duration = d
		}
	}
	return crm.Activity{
		CallID:          snap.CallID,
		EntityType:      entity,
		TargetIDs:       targets,
		Outcome:         outcome,
		CallerID:        snap.CallerID,
		CallerName:      snap.CallerName,
		QueueID:         snap.QueueID,
		QueueName:       e.mapping.QueueName(snap.QueueID),
		AgentID:         snap.AgentID,
		StartedAt:       snap.StartedAt,
		AnsweredAt:      snap.AnsweredAt,
		EndedAt:         snap.EndedAt,
		DurationSeconds: duration,
		WaitSeconds:     snap.WaitSeconds,
		TalkSeconds:     snap.TalkSeconds,
		HangupCause:     snap.HangupCause,
		HangupCauseText: snap.HangupCauseText,
		RecordingRef:    recordingRef,
	}
}
