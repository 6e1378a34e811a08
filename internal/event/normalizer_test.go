package event

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"callbridge/internal/ami"
	"callbridge/internal/observe"
)

var allKinds = []string{
	"Newchannel", "VarSet", "QueueCallerJoin", "DialBegin", "DialEnd",
	"AgentCalled", "AgentConnect", "AgentComplete", "NewCallerid", "Hangup",
}

func TestNormalizeHappyPath(t *testing.T) {
	t0 := time.Unix(1756450000, 0).UTC()
	n := NewNormalizer(allKinds, nil).WithClock(func() time.Time { return t0 })

	raw := ami.NewEvent(
		"Event", "Newchannel",
		"Uniqueid", "1756450000.1",
		"Linkedid", "1756450000.1",
		"CallerIDNum", "79990001122",
	)
	ev, ok := n.Normalize(context.Background(), raw)
	if !ok {
		t.Fatalf("expected event")
	}
	if ev.Kind != KindNewchannel || ev.CallID != "1756450000.1" {
		t.Fatalf("ev = %+v", ev)
	}
	if ev.LinkedCallID != "1756450000.1" || !ev.Timestamp.Equal(t0) {
		t.Fatalf("ev = %+v", ev)
	}
	if ev.Attr("CallerIDNum") != "79990001122" {
		t.Fatalf("attrs = %v", ev.Attrs)
	}
}

func TestNormalizeDropsUnrecognized(t *testing.T) {
	sink := observe.NewService(slog.Default())
	n := NewNormalizer(allKinds, sink)

	_, ok := n.Normalize(context.Background(), ami.NewEvent("Event", "PeerStatus", "Uniqueid", "x"))
	if ok {
		t.Fatalf("unrecognized kind must be dropped")
	}
	if sink.Counters()[string(observe.EventTypeEventDropped)] != 1 {
		t.Fatalf("drop not counted: %v", sink.Counters())
	}
}

func TestNormalizeDropsDisabled(t *testing.T) {
	n := NewNormalizer([]string{"Hangup"}, nil)
	if _, ok := n.Normalize(context.Background(), ami.NewEvent("Event", "Newchannel", "Uniqueid", "x")); ok {
		t.Fatalf("disabled kind must be dropped")
	}
	if _, ok := n.Normalize(context.Background(), ami.NewEvent("Event", "Hangup", "Uniqueid", "x")); !ok {
		t.Fatalf("enabled kind must pass")
	}
}

func TestNormalizeDropsMissingUniqueid(t *testing.T) {
	n := NewNormalizer(allKinds, nil)
	if _, ok := n.Normalize(context.Background(), ami.NewEvent("Event", "Hangup")); ok {
		t.Fatalf("event without Uniqueid must be dropped")
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind("QueueCallerJoin"); !ok || k != KindQueueCallerJoin {
		t.Fatalf("parse = %v %v", k, ok)
	}
	if _, ok := ParseKind("Registry"); ok {
		t.Fatalf("unknown name must not parse")
	}
}
