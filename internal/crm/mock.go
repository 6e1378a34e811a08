package crm

import (
	"context"
	"sync"
)

// MockTransport records calls for tests and returns scripted errors.
type MockTransport struct {
	mu sync.Mutex

	Registered []Activity
	Submitted  []Activity
	Notified   [][]string
	Closed     []string

	// SubmitErrs is consumed one per SubmitActivity call; nil entries mean
	// success. When exhausted, SubmitActivity succeeds.
	SubmitErrs []error
	// RegisterErr fails every RegisterCall when set.
	RegisterErr error
}

func NewMockTransport() *MockTransport { return &MockTransport{} }

func (m *MockTransport) Name() string { return "mock" }

func (m *MockTransport) RegisterCall(ctx context.Context, callID, callerID, queueID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RegisterErr != nil {
		return "", m.RegisterErr
	}
	m.Registered = append(m.Registered, Activity{CallID: callID, CallerID: callerID, QueueID: queueID})
	return "crm-" + callID, nil
}

func (m *MockTransport) NotifyAgents(ctx context.Context, crmCallID string, agents []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notified = append(m.Notified, agents)
	return nil
}

func (m *MockTransport) CloseWindow(ctx context.Context, crmCallID, acceptedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = append(m.Closed, crmCallID)
	return nil
}

func (m *MockTransport) SubmitActivity(ctx context.Context, act Activity) error {
	// The real client fails a request on a cancelled context before it
	// touches the wire.
	if err := ctx.Err(); err != nil {
		return &Failure{Retryable: true, Message: err.Error()}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.SubmitErrs) > 0 {
		err := m.SubmitErrs[0]
		m.SubmitErrs = m.SubmitErrs[1:]
		if err != nil {
			return err
		}
	}
	m.Submitted = append(m.Submitted, act)
	return nil
}

// SubmittedActivities returns a copy of recorded submissions.
func (m *MockTransport) SubmittedActivities() []Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Activity, len(m.Submitted))
	copy(out, m.Submitted)
	return out
}
