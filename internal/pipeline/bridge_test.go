package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"callbridge/internal/ami"
	"callbridge/internal/config"
	"callbridge/internal/crm"
	"callbridge/internal/dispatch"
	"callbridge/internal/event"
	"callbridge/internal/observe"
	"callbridge/internal/routing"
	"callbridge/internal/session"
	"callbridge/internal/store"
)

var t0 = time.Unix(1756450000, 0).UTC()

var allKinds = []string{
	"Newchannel", "VarSet", "QueueCallerJoin", "DialBegin", "DialEnd",
	"AgentCalled", "AgentConnect", "AgentComplete", "NewCallerid", "Hangup",
}

type harness struct {
	bridge     *Bridge
	transport  *crm.MockTransport
	dispatcher *dispatch.Dispatcher
	registry   *session.Registry
	records    *store.MemoryRepo
	letters    *dispatch.MemoryDeadLetterRepo
	sink       *observe.Service
	now        time.Time
}

func newHarness(t *testing.T, allowedExtens []string) *harness {
	t.Helper()

	rf := config.RoutingFile{
		QueueNames: map[string]string{"001": "Sales"},
		Queues: map[string]config.QueueFile{
			"001": {DealCategories: []string{"D1"}},
		},
		Binding: map[string]string{"deal": "FILTERED", "lead": "NONE"},
	}

	h := &harness{
		transport: crm.NewMockTransport(),
		registry:  session.NewRegistry(2 * time.Hour),
		records:   store.NewMemoryRepo(),
		letters:   dispatch.NewMemoryDeadLetterRepo(),
		sink:      observe.NewService(slog.Default()),
		now:       t0,
	}
	h.dispatcher = dispatch.New(h.transport, dispatch.NewMemoryGuard(), h.letters, h.sink, slog.Default(), dispatch.Options{})
	h.dispatcher.Start(context.Background())

	clock := func() time.Time { return h.now }
	h.bridge = New(Deps{
		Log:           slog.Default(),
		Normalizer:    event.NewNormalizer(allKinds, h.sink).WithClock(clock),
		Registry:      h.registry,
		Machine:       session.NewMachineWithClock(clock),
		Engine:        routing.NewEngine(routing.NewMapping(rf)),
		Transport:     h.transport,
		Dispatcher:    h.dispatcher,
		Records:       h.records,
		Sink:          h.sink,
		AllowedExtens: allowedExtens,
	}).WithClock(clock)
	return h
}

func (h *harness) feed(kvs ...string) {
	h.bridge.HandleEvent(context.Background(), ami.NewEvent(kvs...))
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func TestQueueCallEndToEnd(t *testing.T) {
	h := newHarness(t, nil)

	h.feed("Event", "Newchannel", "Uniqueid", "c-1", "Linkedid", "c-1",
		"CallerIDNum", "79990001122", "CallerIDName", "Ivan", "Exten", "100")
	h.advance(time.Second)
	h.feed("Event", "QueueCallerJoin", "Uniqueid", "c-1", "Queue", "001")
	h.advance(2 * time.Second)
	h.feed("Event", "AgentCalled", "Uniqueid", "c-1", "Interface", "Local/201@from-queue/n")
	h.advance(5 * time.Second)
	h.feed("Event", "AgentConnect", "Uniqueid", "c-1", "Interface", "Local/201@from-queue/n")
	h.advance(60 * time.Second)
	h.feed("Event", "AgentComplete", "Uniqueid", "c-1", "TalkTime", "60")

	h.dispatcher.Close()

	// Queue 001 maps to deal category D1; leads are NONE: exactly one
	// submission.
	acts := h.transport.SubmittedActivities()
	if len(acts) != 1 {
		t.Fatalf("submitted = %d, want 1", len(acts))
	}
	act := acts[0]
	if act.EntityType != crm.EntityDeal || act.Outcome != crm.OutcomeCompleted {
		t.Fatalf("activity = %+v", act)
	}
	if len(act.TargetIDs) != 1 || act.TargetIDs[0] != "D1" {
		t.Fatalf("targets = %v", act.TargetIDs)
	}
	if act.AgentID != "201" || act.QueueName != "Sales" {
		t.Fatalf("activity = %+v", act)
	}
	if act.WaitSeconds != 7 || act.TalkSeconds != 60 {
		t.Fatalf("wait=%d talk=%d", act.WaitSeconds, act.TalkSeconds)
	}

	// In-call window signals fired in order.
	if len(h.transport.Registered) != 1 || len(h.transport.Notified) != 1 || len(h.transport.Closed) != 1 {
		t.Fatalf("signals = %d/%d/%d", len(h.transport.Registered), len(h.transport.Notified), len(h.transport.Closed))
	}

	rec, ok := h.records.Get("c-1")
	if !ok || rec.Outcome != store.OutcomeCompleted || rec.TalkSeconds != 60 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestAbandonedCallRoutesOnce(t *testing.T) {
	h := newHarness(t, nil)

	h.feed("Event", "Newchannel", "Uniqueid", "c-1", "CallerIDNum", "79990001122", "Exten", "100")
	h.feed("Event", "QueueCallerJoin", "Uniqueid", "c-1", "Queue", "001")
	h.advance(30 * time.Second)
	h.feed("Event", "Hangup", "Uniqueid", "c-1", "Cause", "16", "Cause-txt", "Normal Clearing")

	// A straggler after the terminal event must be discarded, not re-routed.
	h.feed("Event", "QueueCallerJoin", "Uniqueid", "c-1", "Queue", "001")

	h.dispatcher.Close()

	acts := h.transport.SubmittedActivities()
	if len(acts) != 1 || acts[0].Outcome != crm.OutcomeAbandoned {
		t.Fatalf("submitted = %v", acts)
	}
	rec, _ := h.records.Get("c-1")
	if rec.Outcome != store.OutcomeAbandoned || rec.HangupCause != 16 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestAllowedExtenGate(t *testing.T) {
	h := newHarness(t, []string{"100"})

	// Channel dialing an unlisted extension is ignored entirely.
	h.feed("Event", "Newchannel", "Uniqueid", "c-2", "Exten", "999")
	h.feed("Event", "QueueCallerJoin", "Uniqueid", "c-2", "Queue", "001")
	h.feed("Event", "Hangup", "Uniqueid", "c-2", "Cause", "16")

	// A listed extension passes.
	h.feed("Event", "Newchannel", "Uniqueid", "c-3", "Exten", "100")

	h.dispatcher.Close()

	if h.registry.Find("c-2") != nil {
		t.Fatalf("ignored channel must not create a session")
	}
	if h.registry.Find("c-3") == nil {
		t.Fatalf("allowed channel must create a session")
	}
	if got := len(h.transport.SubmittedActivities()); got != 0 {
		t.Fatalf("submitted = %d, want 0", got)
	}
}

func TestDefensiveSessionCreation(t *testing.T) {
	h := newHarness(t, nil)

	// Engine started mid-call: the first event seen is the queue join.
	h.feed("Event", "QueueCallerJoin", "Uniqueid", "c-4", "Queue", "001")
	h.feed("Event", "Hangup", "Uniqueid", "c-4", "Cause", "16")

	h.dispatcher.Close()

	acts := h.transport.SubmittedActivities()
	if len(acts) != 1 || acts[0].Outcome != crm.OutcomeAbandoned {
		t.Fatalf("submitted = %v", acts)
	}
}

func TestFailedSessionIsNotRouted(t *testing.T) {
	h := newHarness(t, nil)

	h.feed("Event", "Newchannel", "Uniqueid", "c-5", "Exten", "100")
	h.feed("Event", "Newchannel", "Uniqueid", "c-5", "Exten", "100")

	h.dispatcher.Close()

	if got := len(h.transport.SubmittedActivities()); got != 0 {
		t.Fatalf("failed session routed: %d", got)
	}
	if h.sink.Counters()[string(observe.EventTypeSessionFailed)] != 1 {
		t.Fatalf("failure not counted: %v", h.sink.Counters())
	}
	rec, ok := h.records.Get("c-5")
	if !ok || rec.Outcome != store.OutcomeFailed {
		t.Fatalf("failed record = %+v ok=%v", rec, ok)
	}
}

func TestSweeperExpiresIdleSession(t *testing.T) {
	h := newHarness(t, nil)

	h.feed("Event", "Newchannel", "Uniqueid", "c-6", "Exten", "100")
	h.feed("Event", "QueueCallerJoin", "Uniqueid", "c-6", "Queue", "001")

	h.advance(3 * time.Hour)
	for _, s := range h.registry.Sweep(h.now) {
		if h.bridge.machine.ForceFinalize(s, session.FinalizeReasonTimeout) {
			h.bridge.sink.SessionExpired(context.Background(), s.Snapshot().CallID)
			h.bridge.finalize(context.Background(), s)
		}
	}
	// A straggler arriving between expiry and eviction must hit the
	// finalized session, not re-create the call and route it again.
	h.feed("Event", "Hangup", "Uniqueid", "c-6", "Cause", "16")
	h.dispatcher.Close()

	acts := h.transport.SubmittedActivities()
	if len(acts) != 1 || acts[0].Outcome != crm.OutcomeAbandoned {
		t.Fatalf("expired session must route abandoned: %v", acts)
	}
	if h.sink.Counters()[string(observe.EventTypeSessionExpired)] != 1 {
		t.Fatalf("expiry not counted: %v", h.sink.Counters())
	}
	if h.registry.Len() != 1 {
		t.Fatalf("straggler re-created a session: len = %d", h.registry.Len())
	}
}

func TestShutdownFlushesLiveSessions(t *testing.T) {
	h := newHarness(t, nil)

	h.feed("Event", "Newchannel", "Uniqueid", "c-7", "Exten", "100")
	h.feed("Event", "QueueCallerJoin", "Uniqueid", "c-7", "Queue", "001")

	h.bridge.Shutdown(context.Background())

	acts := h.transport.SubmittedActivities()
	if len(acts) != 1 || acts[0].Outcome != crm.OutcomeAbandoned {
		t.Fatalf("shutdown must flush sessions: %v", acts)
	}
	if h.registry.Len() != 0 {
		t.Fatalf("registry not drained: %d", h.registry.Len())
	}
}
