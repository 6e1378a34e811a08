package opsapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/config"
	"callbridge/internal/dispatch"
	"callbridge/internal/observe"
	"callbridge/internal/session"

	"github.com/gin-gonic/gin"
)

func testRouter(t *testing.T) (*gin.Engine, Handlers) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: 15 * time.Minute})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	h := Handlers{
		Auth:     m,
		Registry: session.NewRegistry(2 * time.Hour),
		Observer: observe.NewService(slog.Default()),
		Letters:  dispatch.NewMemoryDeadLetterRepo(),
	}
	r := gin.New()
	RegisterRoutes(r, h)
	return r, h
}

func token(t *testing.T, m *auth.Manager) string {
	t.Helper()
	tok, err := m.Issue(time.Now(), "ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func TestHealthz(t *testing.T) {
	r, _ := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r, _ := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestIssueTokenAndListSessions(t *testing.T) {
	r, h := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"operator":"ops"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.AccessToken == "" {
		t.Fatalf("token body = %s", w.Body.String())
	}

	h.Registry.GetOrCreate("c-1", "", time.Now())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", w.Code)
	}
	var sessions struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sessions); err != nil || sessions.Total != 1 {
		t.Fatalf("sessions body = %s", w.Body.String())
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, h := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/absent", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, h.Auth))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListDeadLetters(t *testing.T) {
	r, h := testRouter(t)

	_ = h.Letters.Save(context.Background(), dispatch.DeadLetter{
		ID: "dl-1", CallID: "c-1", EntityType: "deal", Payload: "{}",
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/deadletters", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, h.Auth))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Count != 1 {
		t.Fatalf("body = %s", w.Body.String())
	}
}
