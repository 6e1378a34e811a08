package session

import (
	"sync"
	"time"
)

// Registry is the process-wide table of in-flight call sessions keyed by call
// id, with a side index by linked call id for grouping multi-channel calls.
// It is passed explicitly to every component that needs it; there is no
// ambient global.
//
// The registry's own lock only guards the maps. Session contents are guarded
// by the per-session lock, so operations on different call ids never block
// one another.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*CallSession
	byLinked map[string][]*CallSession

	// idleTimeout bounds memory under event loss: a session with no events
	// for longer than this is force-finalized by Sweep.
	idleTimeout time.Duration

	// terminalGrace keeps routed terminal sessions around so late events are
	// recognized and discarded instead of defensively re-creating a session.
	terminalGrace time.Duration
}

// NewRegistry creates a Registry with the given idle timeout.
func NewRegistry(idleTimeout time.Duration) *Registry {
	return &Registry{
		sessions:      make(map[string]*CallSession),
		byLinked:      make(map[string][]*CallSession),
		idleTimeout:   idleTimeout,
		terminalGrace: idleTimeout,
	}
}

// GetOrCreate returns the session for callID, creating it in StateNew when
// unseen. created reports whether this call was new to the registry.
func (r *Registry) GetOrCreate(callID, linkedCallID string, now time.Time) (s *CallSession, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[callID]; ok {
		return s, false
	}
	s = &CallSession{
		CallID:       callID,
		LinkedCallID: linkedCallID,
		State:        StateNew,
		LastEventAt:  now,
	}
	r.sessions[callID] = s
	if linkedCallID != "" {
		r.byLinked[linkedCallID] = append(r.byLinked[linkedCallID], s)
	}
	return s, true
}

// Find returns the session for callID, or nil.
func (r *Registry) Find(callID string) *CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[callID]
}

// FindLinked returns every session sharing linkedCallID.
func (r *Registry) FindLinked(linkedCallID string) []*CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*CallSession(nil), r.byLinked[linkedCallID]...)
}

// Remove evicts the session for callID.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return
	}
	delete(r.sessions, callID)
	if s.LinkedCallID != "" {
		linked := r.byLinked[s.LinkedCallID]
		for i, ls := range linked {
			if ls == s {
				r.byLinked[s.LinkedCallID] = append(linked[:i], linked[i+1:]...)
				break
			}
		}
		if len(r.byLinked[s.LinkedCallID]) == 0 {
			delete(r.byLinked, s.LinkedCallID)
		}
	}
}

// Sweep evicts terminal sessions past the grace window (their outcome was
// already routed) and returns non-terminal sessions idle for longer than the
// timeout so the caller can force-finalize and route them. Idle sessions stay
// registered: an event racing the expiry hits the existing session and is
// discarded by its terminal state, instead of defensively re-creating a
// second session that could route again. The finalized session is evicted as
// a tombstone on a later sweep.
func (r *Registry) Sweep(now time.Time) []*CallSession {
	r.mu.Lock()
	candidates := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.Unlock()

	var expired []*CallSession
	for _, s := range candidates {
		s.Lock()
		terminal := s.State.Terminal()
		last := s.LastEventAt
		s.Unlock()

		switch {
		case terminal:
			if now.Sub(last) >= r.terminalGrace {
				r.Remove(s.CallID)
			}
		case r.idleTimeout > 0 && now.Sub(last) >= r.idleTimeout:
			expired = append(expired, s)
		}
	}
	return expired
}

// Drain removes and returns every live session. Used on shutdown to flush
// in-flight sessions through the routing engine.
func (r *Registry) Drain() []*CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.sessions = make(map[string]*CallSession)
	r.byLinked = make(map[string][]*CallSession)
	return out
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StateCounts returns the number of sessions per state.
func (r *Registry) StateCounts() map[State]int {
	r.mu.Lock()
	candidates := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.Unlock()

	out := make(map[State]int)
	for _, s := range candidates {
		s.Lock()
		out[s.State]++
		s.Unlock()
	}
	return out
}
