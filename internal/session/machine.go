package session

import (
	"regexp"
	"strconv"
	"time"

	"callbridge/internal/event"
)

// Machine applies normalized events to call sessions. Every transition is
// total: an event either advances the session, enriches it in place, is
// discarded post-terminal, or moves the session to Failed.
type Machine struct {
	clock func() time.Time
}

// NewMachine returns a Machine using the real clock.
func NewMachine() *Machine {
	return &Machine{clock: time.Now}
}

// NewMachineWithClock returns a Machine with an injected time source.
func NewMachineWithClock(clock func() time.Time) *Machine {
	return &Machine{clock: clock}
}

// Result describes what applying one event did to a session.
type Result struct {
	From State
	To   State

	// Finalized is true when the session reached a terminal state with this
	// event and should be routed.
	Finalized bool

	// Discarded is true when the event arrived after a terminal state and was
	// ignored.
	Discarded bool

	// Failed is true when the event was not valid in the session's state.
	Failed bool

	// WaitAnomaly is true when a negative waiting time was clamped.
	WaitAnomaly bool
}

// agentFromInterface extracts the agent number from a queue member interface
// like "Local/201@from-queue/n".
var agentFromInterface = regexp.MustCompile(`Local/(\d+)@from-queue/n`)

// Apply consumes ev under the session lock and returns what happened.
// The caller must pass the session registered for ev.CallID.
func (m *Machine) Apply(s *CallSession, ev event.NormalizedEvent) Result {
	s.Lock()
	defer s.Unlock()

	res := Result{From: s.State, To: s.State}

	if s.State.Terminal() {
		// Terminal outcome already routed; never re-trigger dispatch.
		res.Discarded = true
		return res
	}

	s.Events = append(s.Events, ev)
	s.LastEventAt = ev.Timestamp
	if s.LinkedCallID == "" && ev.LinkedCallID != "" {
		s.LinkedCallID = ev.LinkedCallID
	}

	switch ev.Kind {
	case event.KindNewchannel:
		if s.State != StateNew {
			return m.fail(s, ev, &res)
		}
		s.CallerID = ev.Attr("CallerIDNum")
		s.CallerName = ev.Attr("CallerIDName")
		s.Exten = ev.Attr("Exten")
		s.Channel = ev.Attr("Channel")
		s.StartedAt = ev.Timestamp
		s.State = StateAwaitingQueue

	case event.KindVarSet:
		// Side-channel enrichment; never advances the lifecycle.
		if ev.Attr("Variable") == "MIXMONITOR_FILENAME" {
			s.RecordingWAV = ev.Attr("Value")
		}

	case event.KindQueueCallerJoin:
		// AgentRinging is accepted because the member ring can outrun the
		// join on the wire; the queue is recorded without regressing state.
		if s.State != StateNew && s.State != StateAwaitingQueue && s.State != StateAgentRinging {
			return m.fail(s, ev, &res)
		}
		s.QueueID = ev.Attr("Queue")
		s.EnteredQueueAt = ev.Timestamp
		if s.State != StateAgentRinging {
			s.State = StateQueued
		}

	case event.KindAgentCalled:
		// Multiple agents may be rung before one answers; last writer wins.
		// New and AwaitingQueue are accepted because the ring can arrive
		// before the queue join, or be the first event seen for the call.
		switch s.State {
		case StateNew, StateAwaitingQueue, StateQueued, StateAgentRinging:
		default:
			return m.fail(s, ev, &res)
		}
		agent := agentIdentity(ev)
		if agent != "" {
			s.AgentID = agent
			s.CandidateAgents = append(s.CandidateAgents, agent)
		}
		s.State = StateAgentRinging

	case event.KindAgentConnect:
		// Queued is accepted too in case AgentCalled was lost.
		if s.State != StateAgentRinging && s.State != StateQueued {
			return m.fail(s, ev, &res)
		}
		if agent := agentIdentity(ev); agent != "" {
			s.AgentID = agent
		}
		s.AnsweredAt = ev.Timestamp
		m.computeWait(s, &res)
		s.State = StateConnected

	case event.KindDialBegin:
		// Informational for direct calls; candidate destination.
		if dest := ev.Attr("DestCallerIDNum"); dest != "" {
			s.CandidateAgents = append(s.CandidateAgents, dest)
		}

	case event.KindDialEnd:
		// A successful direct-call dial connects without queue events.
		if ev.Attr("DialStatus") == "ANSWER" &&
			(s.State == StateNew || s.State == StateAwaitingQueue) {
			if dest := ev.Attr("DestCallerIDNum"); dest != "" {
				s.AgentID = dest
			}
			s.AnsweredAt = ev.Timestamp
			s.completionObserved = true
			s.State = StateConnected
		}

	case event.KindAgentComplete:
		if s.State != StateConnected {
			return m.fail(s, ev, &res)
		}
		s.EndedAt = ev.Timestamp
		if tt := ev.Attr("TalkTime"); tt != "" {
			if n, err := strconv.Atoi(tt); err == nil && n >= 0 {
				s.TalkSeconds = n
			}
		}
		if s.TalkSeconds == 0 && !s.AnsweredAt.IsZero() {
			s.TalkSeconds = clampSeconds(s.EndedAt.Sub(s.AnsweredAt))
		}
		s.completionObserved = true
		s.State = StateCompleted
		res.Finalized = true

	case event.KindNewCallerid:
		// Caller identity can be rewritten at any pre-terminal point.
		if num := ev.Attr("CallerIDNum"); num != "" {
			s.CallerID = num
		}
		if name := ev.Attr("CallerIDName"); name != "" {
			s.CallerName = name
		}

	case event.KindHangup:
		s.HangupCause = atoi(ev.Attr("Cause"))
		s.HangupCauseText = ev.Attr("Cause-txt")
		if s.HangupCauseText == "" {
			if info, ok := HangupCauseInfo[s.HangupCause]; ok {
				s.HangupCauseText = info.Description
			}
		}
		s.EndedAt = ev.Timestamp
		if s.State == StateConnected || s.completionObserved {
			if s.TalkSeconds == 0 && !s.AnsweredAt.IsZero() {
				s.TalkSeconds = clampSeconds(s.EndedAt.Sub(s.AnsweredAt))
			}
			s.State = StateCompleted
		} else {
			s.State = StateAbandoned
		}
		res.Finalized = true
	}

	res.To = s.State
	return res
}

// ForceFinalize moves a non-terminal session to Abandoned outside the event
// flow (idle expiry or shutdown). Returns false when the session was already
// terminal.
func (m *Machine) ForceFinalize(s *CallSession, reason FinalizeReason) bool {
	s.Lock()
	defer s.Unlock()

	if s.State.Terminal() {
		return false
	}
	s.Reason = reason
	s.EndedAt = m.clock().UTC()
	// Restart the tombstone clock so the finalized session lingers for a
	// full grace window before the sweeper evicts it.
	s.LastEventAt = s.EndedAt
	if s.State == StateConnected || s.completionObserved {
		s.State = StateCompleted
	} else {
		s.State = StateAbandoned
	}
	return true
}

func (m *Machine) fail(s *CallSession, ev event.NormalizedEvent, res *Result) Result {
	s.FailedEvent = &ev
	s.State = StateFailed
	res.To = StateFailed
	res.Failed = true
	res.Finalized = true
	return *res
}

func (m *Machine) computeWait(s *CallSession, res *Result) {
	if s.EnteredQueueAt.IsZero() {
		return
	}
	raw := s.AnsweredAt.Sub(s.EnteredQueueAt)
	if raw < 0 {
		// Negative waiting time means the events were reordered in flight.
		s.WaitAnomaly = true
		res.WaitAnomaly = true
		s.WaitSeconds = 0
		return
	}
	s.WaitSeconds = int(raw.Seconds())
}

func agentIdentity(ev event.NormalizedEvent) string {
	if iface := ev.Attr("Interface"); iface != "" {
		if match := agentFromInterface.FindStringSubmatch(iface); match != nil {
			return match[1]
		}
	}
	return ev.Attr("MemberName")
}

func clampSeconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
