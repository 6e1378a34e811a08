package event

import (
	"context"
	"time"

	"callbridge/internal/ami"
	"callbridge/internal/observe"
)

// Normalizer converts raw manager events into NormalizedEvents and filters
// kinds that are disabled in configuration. It mutates no session state;
// filtering stays decoupled from correlation.
type Normalizer struct {
	enabled map[Kind]bool
	clock   func() time.Time
	sink    *observe.Service
}

// NewNormalizer builds a Normalizer with the enabled-kind set computed once.
// Unknown names in enabledKinds are ignored; they cannot match anything.
func NewNormalizer(enabledKinds []string, sink *observe.Service) *Normalizer {
	enabled := make(map[Kind]bool, len(enabledKinds))
	for _, name := range enabledKinds {
		if k, ok := ParseKind(name); ok {
			enabled[k] = true
		}
	}
	return &Normalizer{enabled: enabled, clock: time.Now, sink: sink}
}

// WithClock overrides the time source. Tests only.
func (n *Normalizer) WithClock(clock func() time.Time) *Normalizer {
	n.clock = clock
	return n
}

// Normalize returns the uniform event, or false when the raw event is dropped
// (disabled kind, unrecognized kind, or no call identifier). Drops are counted,
// never fatal.
func (n *Normalizer) Normalize(ctx context.Context, raw ami.Event) (NormalizedEvent, bool) {
	name := raw.Name()

	kind, ok := ParseKind(name)
	if !ok {
		n.drop(ctx, name, raw.Get("Uniqueid"), "unrecognized")
		return NormalizedEvent{}, false
	}
	if !n.enabled[kind] {
		n.drop(ctx, name, raw.Get("Uniqueid"), "disabled")
		return NormalizedEvent{}, false
	}

	callID := raw.Get("Uniqueid")
	if callID == "" {
		n.drop(ctx, name, "", "missing_uniqueid")
		return NormalizedEvent{}, false
	}

	attrs := make(map[string]string)
	for _, h := range raw.Headers() {
		if h.Key == "" {
			continue
		}
		// First value wins for duplicate keys.
		if _, exists := attrs[h.Key]; !exists {
			attrs[h.Key] = h.Value
		}
	}

	return NormalizedEvent{
		Kind:         kind,
		CallID:       callID,
		LinkedCallID: raw.Get("Linkedid"),
		Timestamp:    n.clock().UTC(),
		Attrs:        attrs,
	}, true
}

func (n *Normalizer) drop(ctx context.Context, kind, callID, reason string) {
	if n.sink != nil {
		n.sink.EventDropped(ctx, kind, callID, reason)
	}
}
