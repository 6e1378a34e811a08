package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterCall(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"result":{"CALL_ID":"ext-42"}}`))
	}))
	defer srv.Close()

	c, err := NewWebhookClient(WebhookOptions{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	id, err := c.RegisterCall(context.Background(), "c-1", "79990001122", "001")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id != "ext-42" {
		t.Fatalf("crm call id = %q", id)
	}
	if gotPath != "/telephony.externalcall.register.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody["PHONE_NUMBER"] != "79990001122" || gotBody["LINE_NUMBER"] != "001" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestRegisterCallWithoutCallID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	c, _ := NewWebhookClient(WebhookOptions{BaseURL: srv.URL})
	if _, err := c.RegisterCall(context.Background(), "c-1", "x", ""); err == nil {
		t.Fatalf("expected error for missing CALL_ID")
	}
}

func TestSubmitActivityBody(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"result":true}`))
	}))
	defer srv.Close()

	c, _ := NewWebhookClient(WebhookOptions{BaseURL: srv.URL})
	err := c.SubmitActivity(context.Background(), Activity{
		CallID:       "c-1",
		EntityType:   EntityDeal,
		TargetIDs:    []string{"D1"},
		Outcome:      OutcomeCompleted,
		CallerID:     "79990001122",
		QueueID:      "001",
		AgentID:      "201",
		TalkSeconds:  60,
		RecordingRef: "/srv/mp3/a.mp3",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotPath != "/telephony.externalcall.finish.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody["ENTITY_TYPE"] != "deal" || gotBody["STATUS"] != "completed" {
		t.Fatalf("body = %v", gotBody)
	}
	if gotBody["RECORD_URL"] != "/srv/mp3/a.mp3" {
		t.Fatalf("record url missing: %v", gotBody)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewWebhookClient(WebhookOptions{BaseURL: srv.URL})
	err := c.SubmitActivity(context.Background(), Activity{CallID: "c-1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsRetryable(err) {
		t.Fatalf("5xx must be retryable: %v", err)
	}
}

func TestClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := NewWebhookClient(WebhookOptions{BaseURL: srv.URL})
	err := c.SubmitActivity(context.Background(), Activity{CallID: "c-1"})
	if err == nil || IsRetryable(err) {
		t.Fatalf("4xx must be permanent: %v", err)
	}
}

func TestClientRequiresBaseURL(t *testing.T) {
	if _, err := NewWebhookClient(WebhookOptions{}); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}
