package ami

import "testing"

const stream = "Asterisk Call Manager/5.0.2\r\n" +
	"Response: Success\r\n" +
	"Message: Authentication accepted\r\n" +
	"\r\n" +
	"Event: Newchannel\r\n" +
	"Channel: PJSIP/trunk-00000001\r\n" +
	"Uniqueid: 1756450000.1\r\n" +
	"Linkedid: 1756450000.1\r\n" +
	"CallerIDNum: 79990001122\r\n" +
	"Exten: 100\r\n" +
	"\r\n" +
	"Event: Hangup\r\n" +
	"Uniqueid: 1756450000.1\r\n" +
	"Cause: 16\r\n" +
	"Cause-txt: Normal Clearing\r\n" +
	"\r\n"

func TestParserReadsBlocks(t *testing.T) {
	events := ParseBytes([]byte(stream))
	if len(events) != 3 {
		t.Fatalf("blocks = %d, want 3", len(events))
	}

	if !events[0].IsResponse() {
		t.Fatalf("first block must be a response")
	}

	nc := events[1]
	if nc.Name() != "Newchannel" {
		t.Fatalf("name = %q", nc.Name())
	}
	if nc.Get("Uniqueid") != "1756450000.1" || nc.Get("Exten") != "100" {
		t.Fatalf("headers = %v", nc.Headers())
	}

	hup := events[2]
	if hup.GetInt("Cause") != 16 {
		t.Fatalf("cause = %d", hup.GetInt("Cause"))
	}
}

func TestParserSkipsBanner(t *testing.T) {
	events := ParseBytes([]byte("banner line\r\nEvent: Hangup\r\nUniqueid: x\r\n\r\n"))
	if len(events) != 1 || events[0].Name() != "Hangup" {
		t.Fatalf("events = %v", events)
	}
}

func TestEventFirstValueWins(t *testing.T) {
	e := NewEvent("Event", "VarSet", "Variable", "A", "Variable", "B")
	if e.Get("Variable") != "A" {
		t.Fatalf("Get must return the first value, got %q", e.Get("Variable"))
	}
	if len(e.Headers()) != 3 {
		t.Fatalf("headers = %v", e.Headers())
	}
}

func TestGetMissing(t *testing.T) {
	e := NewEvent("Event", "Hangup")
	if e.Get("Nope") != "" || e.GetInt("Nope") != 0 {
		t.Fatalf("missing header must be zero-valued")
	}
}
