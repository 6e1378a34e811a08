package ami

import "strconv"

// Event is a raw manager event: an ordered set of key/value headers exactly as
// they arrived on the wire. Header order is preserved because duplicate keys
// are legal in the manager protocol.
type Event struct {
	headers []Header
}

// Header is one "Key: Value" pair.
type Header struct {
	Key   string
	Value string
}

// NewEvent builds an Event from alternating key/value strings. Test helper
// mostly, but also used by the client when synthesizing events.
func NewEvent(kvs ...string) Event {
	e := Event{}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, Header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// Get returns the first value for key, or "" if absent.
func (e Event) Get(key string) string {
	for _, h := range e.headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// GetInt returns the integer value for key, or 0 if absent or unparsable.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(e.Get(key))
	return v
}

// Name returns the manager event name (the Event header).
func (e Event) Name() string {
	return e.Get("Event")
}

// IsResponse reports whether this block is an action response rather than an event.
func (e Event) IsResponse() bool {
	return e.Get("Response") != ""
}

// Headers returns all headers in wire order.
func (e Event) Headers() []Header {
	return e.headers
}
