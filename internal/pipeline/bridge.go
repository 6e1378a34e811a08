package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callbridge/internal/ami"
	"callbridge/internal/crm"
	"callbridge/internal/dispatch"
	"callbridge/internal/event"
	"callbridge/internal/observe"
	"callbridge/internal/recording"
	"callbridge/internal/routing"
	"callbridge/internal/session"
	"callbridge/internal/store"
)

// Bridge ties the event stream to the correlation engine and pushes finalized
// sessions through routing into dispatch. One Bridge per AMI connection.
type Bridge struct {
	log        *slog.Logger
	normalizer *event.Normalizer
	registry   *session.Registry
	machine    *session.Machine
	engine     *routing.Engine
	transport  crm.Transport
	dispatcher *dispatch.Dispatcher
	records    store.Repository
	recordings *recording.Resolver
	sink       *observe.Service

	sweepInterval time.Duration
	clock         func() time.Time

	mu sync.Mutex
	// crmIDs maps call id to the CRM-side call id returned by RegisterCall.
	crmIDs map[string]string
	// ignored holds call ids whose originating channel dialed an extension
	// outside the allow list; their events are swallowed until Hangup.
	ignored map[string]struct{}

	allowedExtens map[string]struct{}
}

type Deps struct {
	Log        *slog.Logger
	Normalizer *event.Normalizer
	Registry   *session.Registry
	Machine    *session.Machine
	Engine     *routing.Engine
	Transport  crm.Transport
	Dispatcher *dispatch.Dispatcher
	Records    store.Repository
	Recordings *recording.Resolver
	Sink       *observe.Service

	SweepInterval time.Duration
	AllowedExtens []string
}

func New(d Deps) *Bridge {
	b := &Bridge{
		log:           d.Log,
		normalizer:    d.Normalizer,
		registry:      d.Registry,
		machine:       d.Machine,
		engine:        d.Engine,
		transport:     d.Transport,
		dispatcher:    d.Dispatcher,
		records:       d.Records,
		recordings:    d.Recordings,
		sink:          d.Sink,
		sweepInterval: d.SweepInterval,
		clock:         time.Now,
		crmIDs:        make(map[string]string),
		ignored:       make(map[string]struct{}),
		allowedExtens: make(map[string]struct{}, len(d.AllowedExtens)),
	}
	if b.sweepInterval <= 0 {
		b.sweepInterval = time.Minute
	}
	for _, e := range d.AllowedExtens {
		b.allowedExtens[e] = struct{}{}
	}
	return b
}

// WithClock injects a time source for tests.
func (b *Bridge) WithClock(clock func() time.Time) *Bridge {
	b.clock = clock
	return b
}

// HandleEvent is the ami.HandlerFunc consuming the raw event stream.
func (b *Bridge) HandleEvent(ctx context.Context, raw ami.Event) {
	ev, ok := b.normalizer.Normalize(ctx, raw)
	if !ok {
		return
	}

	if b.skipIgnored(ctx, ev) {
		return
	}

	s, created := b.registry.GetOrCreate(ev.CallID, ev.LinkedCallID, b.clock())
	if created && ev.Kind != event.KindNewchannel {
		b.log.DebugContext(ctx, "session created defensively",
			"call_id", ev.CallID, "kind", string(ev.Kind))
	}

	res := b.machine.Apply(s, ev)
	if res.Discarded {
		return
	}
	if res.Failed {
		b.sink.SessionFailed(ctx, ev.CallID, string(res.From), string(ev.Kind))
	}
	if res.WaitAnomaly {
		b.log.WarnContext(ctx, "negative wait clamped", "call_id", ev.CallID)
	}

	b.signalCRM(ctx, s, ev, res)

	if res.Finalized {
		b.finalize(ctx, s)
	}
}

// skipIgnored swallows events for channels gated out by the extension allow
// list. The gate only applies when an allow list is configured.
func (b *Bridge) skipIgnored(ctx context.Context, ev event.NormalizedEvent) bool {
	if len(b.allowedExtens) == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.Kind == event.KindNewchannel {
		exten := ev.Attr("Exten")
		if _, ok := b.allowedExtens[exten]; !ok {
			b.ignored[ev.CallID] = struct{}{}
			b.sink.EventDropped(ctx, string(ev.Kind), ev.CallID, "exten_not_allowed")
			return true
		}
		return false
	}

	if _, ok := b.ignored[ev.CallID]; ok {
		if ev.Kind == event.KindHangup {
			delete(b.ignored, ev.CallID)
		}
		return true
	}
	return false
}

// signalCRM sends the best-effort in-call window signals. Failures are logged
// and never affect correlation.
func (b *Bridge) signalCRM(ctx context.Context, s *session.CallSession, ev event.NormalizedEvent, res session.Result) {
	if b.transport == nil {
		return
	}

	switch ev.Kind {
	case event.KindQueueCallerJoin:
		snap := s.Snapshot()
		crmID, err := b.transport.RegisterCall(ctx, snap.CallID, snap.CallerID, snap.QueueID)
		if err != nil {
			b.log.WarnContext(ctx, "crm register failed", "call_id", snap.CallID, "err", err)
			return
		}
		b.mu.Lock()
		b.crmIDs[snap.CallID] = crmID
		b.mu.Unlock()

	case event.KindAgentCalled:
		if res.Failed {
			return
		}
		snap := s.Snapshot()
		crmID, ok := b.crmID(snap.CallID)
		if !ok || len(snap.CandidateAgents) == 0 {
			return
		}
		agent := snap.CandidateAgents[len(snap.CandidateAgents)-1]
		if err := b.transport.NotifyAgents(ctx, crmID, []string{agent}); err != nil {
			b.log.WarnContext(ctx, "crm notify failed", "call_id", snap.CallID, "err", err)
		}

	case event.KindAgentConnect:
		if res.Failed {
			return
		}
		snap := s.Snapshot()
		crmID, ok := b.crmID(snap.CallID)
		if !ok {
			return
		}
		if err := b.transport.CloseWindow(ctx, crmID, snap.AgentID); err != nil {
			b.log.WarnContext(ctx, "crm close window failed", "call_id", snap.CallID, "err", err)
		}
	}
}

func (b *Bridge) crmID(callID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.crmIDs[callID]
	return id, ok
}

// finalize persists the call record and submits routing decisions exactly
// once per session.
func (b *Bridge) finalize(ctx context.Context, s *session.CallSession) {
	s.Lock()
	if s.Routed {
		s.Unlock()
		return
	}
	s.Routed = true
	s.Unlock()

	snap := s.Snapshot()

	b.mu.Lock()
	delete(b.crmIDs, snap.CallID)
	b.mu.Unlock()

	var recordingRef string
	if b.recordings != nil {
		recordingRef = b.recordings.Resolve(ctx, snap.RecordingWAV)
	}

	if b.records != nil {
		if err := b.records.Insert(ctx, recordOf(snap, recordingRef)); err != nil {
			b.log.ErrorContext(ctx, "call record insert failed", "call_id", snap.CallID, "err", err)
		}
	}

	for _, dec := range b.engine.Route(snap, recordingRef) {
		b.dispatcher.Submit(ctx, dec)
	}

	b.log.InfoContext(ctx, "session finalized",
		"call_id", snap.CallID,
		"state", string(snap.State),
		"queue", snap.QueueID,
		"agent", snap.AgentID,
		"wait_s", snap.WaitSeconds,
		"talk_s", snap.TalkSeconds,
	)
}

func recordOf(snap session.CallSession, recordingRef string) store.CallRecord {
	outcome := store.OutcomeFailed
	switch snap.State {
	case session.StateCompleted:
		outcome = store.OutcomeCompleted
	case session.StateAbandoned:
		outcome = store.OutcomeAbandoned
	}
	return store.CallRecord{
		CallID:          snap.CallID,
		LinkedCallID:    snap.LinkedCallID,
		CallerID:        snap.CallerID,
		QueueID:         snap.QueueID,
		AgentID:         snap.AgentID,
		Outcome:         outcome,
		DurationSeconds: snap.DurationSeconds(),
		WaitSeconds:     snap.WaitSeconds,
		TalkSeconds:     snap.TalkSeconds,
		HangupCause:     snap.HangupCause,
		HangupCauseText: snap.HangupCauseText,
		RecordingRef:    recordingRef,
		StartedAt:       snap.StartedAt,
		EndedAt:         snap.EndedAt,
	}
}

// RunSweeper force-finalizes idle sessions until ctx is cancelled.
func (b *Bridge) RunSweeper(ctx context.Context) {
	t := time.NewTicker(b.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, s := range b.registry.Sweep(b.clock()) {
				if b.machine.ForceFinalize(s, session.FinalizeReasonTimeout) {
					b.sink.SessionExpired(ctx, s.Snapshot().CallID)
					b.finalize(ctx, s)
				}
			}
		}
	}
}

// Shutdown finalizes every live session so nothing is lost on exit, then
// waits for the dispatcher to drain.
func (b *Bridge) Shutdown(ctx context.Context) {
	for _, s := range b.registry.Drain() {
		if b.machine.ForceFinalize(s, session.FinalizeReasonShutdown) {
			b.finalize(ctx, s)
		}
	}
	b.dispatcher.Close()
}
