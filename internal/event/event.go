package event

import "time"

// Kind is the closed set of telephony event kinds the correlation engine
// understands. Anything else on the wire is dropped by the normalizer.
type Kind string

const (
	KindNewchannel      Kind = "Newchannel"
	KindVarSet          Kind = "VarSet"
	KindQueueCallerJoin Kind = "QueueCallerJoin"
	KindDialBegin       Kind = "DialBegin"
	KindDialEnd         Kind = "DialEnd"
	KindAgentCalled     Kind = "AgentCalled"
	KindAgentConnect    Kind = "AgentConnect"
	KindAgentComplete   Kind = "AgentComplete"
	KindNewCallerid     Kind = "NewCallerid"
	KindHangup          Kind = "Hangup"
)

// ParseKind maps a wire event name onto the closed enum.
func ParseKind(name string) (Kind, bool) {
	switch Kind(name) {
	case KindNewchannel, KindVarSet, KindQueueCallerJoin, KindDialBegin,
		KindDialEnd, KindAgentCalled, KindAgentConnect, KindAgentComplete,
		KindNewCallerid, KindHangup:
		return Kind(name), true
	default:
		return "", false
	}
}

// NormalizedEvent is the uniform internal event consumed by the state machine.
// Immutable once produced.
type NormalizedEvent struct {
	Kind Kind

	// CallID is the per-channel unique identifier (Uniqueid).
	CallID string
	// LinkedCallID groups related channels of one call (Linkedid). May equal
	// CallID on the originating channel.
	LinkedCallID string

	Timestamp time.Time

	// Attrs carries every wire header verbatim so the state machine can
	// consult fields the normalizer does not know about.
	Attrs map[string]string
}

// Attr returns the named attribute, or "" if absent.
func (e NormalizedEvent) Attr(key string) string {
	return e.Attrs[key]
}
