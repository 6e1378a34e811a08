package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookClient talks to a Bitrix-style inbound webhook REST API. The base
// URL carries the auth token as a path segment and must never be logged.
type WebhookClient struct {
	baseURL string
	http    *http.Client
}

// WebhookOptions configures the client.
type WebhookOptions struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// NewWebhookClient builds the HTTP transport.
func NewWebhookClient(opts WebhookOptions) (*WebhookClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("crm: webhook base URL is required")
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *WebhookClient) Name() string { return "webhook" }

type registerResponse struct {
	Result struct {
		CallID string `json:"CALL_ID"`
	} `json:"result"`
}

// RegisterCall maps onto telephony.externalcall.register.
func (c *WebhookClient) RegisterCall(ctx context.Context, callID, callerID, queueID string) (string, error) {
	body := map[string]any{
		"PHONE_NUMBER": callerID,
		"TYPE":         1, // inbound
		"LINE_NUMBER":  queueID,
		"CRM_CREATE":   0,
		"CALL_START_DATE": time.Now().UTC().Format(time.RFC3339),
	}
	var out registerResponse
	if err := c.post(ctx, "telephony.externalcall.register", body, &out); err != nil {
		return "", err
	}
	if out.Result.CallID == "" {
		return "", &Failure{Code: 0, Retryable: false, Message: "register returned no CALL_ID"}
	}
	return out.Result.CallID, nil
}

// NotifyAgents maps onto telephony.externalcall.show.
func (c *WebhookClient) NotifyAgents(ctx context.Context, crmCallID string, agents []string) error {
	return c.post(ctx, "telephony.externalcall.show", map[string]any{
		"CALL_ID": crmCallID,
		"USER_ID": agents,
	}, nil)
}

// CloseWindow maps onto telephony.externalcall.hide.
func (c *WebhookClient) CloseWindow(ctx context.Context, crmCallID, acceptedBy string) error {
	body := map[string]any{"CALL_ID": crmCallID}
	if acceptedBy != "" {
		body["USER_ID"] = acceptedBy
	}
	return c.post(ctx, "telephony.externalcall.hide", body, nil)
}

// SubmitActivity finishes the call and binds it to targeted entities.
func (c *WebhookClient) SubmitActivity(ctx context.Context, act Activity) error {
	body := map[string]any{
		"CALL_ID":      act.CallID,
		"ENTITY_TYPE":  string(act.EntityType),
		"ENTITY_IDS":   act.TargetIDs,
		"PHONE_NUMBER": act.CallerID,
		"QUEUE":        act.QueueID,
		"USER_ID":      act.AgentID,
		"DURATION":     act.DurationSeconds,
		"WAIT_TIME":    act.WaitSeconds,
		"TALK_TIME":    act.TalkSeconds,
		"STATUS":       string(act.Outcome),
		"CAUSE":        act.HangupCause,
	}
	if act.RecordingRef != "" {
		body["RECORD_URL"] = act.RecordingRef
	}
	return c.post(ctx, "telephony.externalcall.finish", body, nil)
}

func (c *WebhookClient) post(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("crm: encoding %s request: %w", method, err)
	}

	url := c.baseURL + "/" + method + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors are transient from our point of view.
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return &Failure{
			Code:      resp.StatusCode,
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Message:   fmt.Sprintf("%s failed: %s", method, truncate(string(data), 200)),
		}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &Failure{Code: resp.StatusCode, Retryable: false, Message: fmt.Sprintf("%s returned unparsable body", method)}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
