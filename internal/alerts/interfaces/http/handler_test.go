package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	alertapp "freshtrack-cloud/internal/alerts/application"
	alerts "freshtrack-cloud/internal/alerts/domain"
	"freshtrack-cloud/internal/alerts/infrastructure/memory"
	"freshtrack-cloud/internal/auth"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	repo := memory.NewAlertRepository()
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	if _, _, err := repo.Open(context.Background(), alerts.Alert{
		ID: "alert-1", OrgID: "org-a", UnitID: "unit-1",
		Type: alerts.TypeAlarmActive, Severity: alerts.SeverityWarning,
		TriggeredAt: at, CreatedAt: at,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	service, err := alertapp.NewService(repo)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	handler, err := NewHandler(service)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler
}

func serve(h http.Handler, method, path, body, orgID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), orgID, auth.RoleOperator, "user-1"))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHandlerAcknowledgeConflict(t *testing.T) {
	h := newTestHandler(t)

	resp := serve(h, http.MethodPost, "/api/v1/alerts/alert-1/acknowledge", `{"notes":"checking"}`, "org-a")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var alert alerts.Alert
	if err := json.Unmarshal(resp.Body.Bytes(), &alert); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alert.Status != alerts.StatusAcknowledged || alert.AckNotes != "checking" {
		t.Fatalf("unexpected alert %+v", alert)
	}

	resp = serve(h, http.MethodPost, "/api/v1/alerts/alert-1/acknowledge", "", "org-a")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestHandlerResolveValidation(t *testing.T) {
	h := newTestHandler(t)
	if resp := serve(h, http.MethodPost, "/api/v1/alerts/alert-1/resolve", `{}`, "org-a"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodPost, "/api/v1/alerts/alert-1/resolve", `{"resolution":"door closed"}`, "org-a"); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestHandlerOrgAndNotFound(t *testing.T) {
	h := newTestHandler(t)
	if resp := serve(h, http.MethodGet, "/api/v1/alerts/alert-1", "", "org-b"); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if resp := serve(h, http.MethodGet, "/api/v1/alerts/nope", "", "org-a"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	resp := serve(h, http.MethodGet, "/api/v1/alerts?status=active", "", "org-a")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list []alerts.Alert
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("expected one alert, got %d (%v)", len(list), err)
	}
}

func TestSSEBrokerScopesByOrg(t *testing.T) {
	broker := NewSSEBroker()
	chA := broker.Subscribe("org-a")
	chB := broker.Subscribe("org-b")
	defer broker.Unsubscribe(chA)
	defer broker.Unsubscribe(chB)

	broker.Notify(context.Background(), alerts.Event{Kind: alerts.EventOpened, AlertID: "alert-1", OrgID: "org-a"})

	select {
	case payload := <-chA:
		if !strings.Contains(string(payload), `"alert_id":"alert-1"`) {
			t.Fatalf("unexpected payload %s", payload)
		}
	default:
		t.Fatalf("expected event for org-a")
	}
	select {
	case payload := <-chB:
		t.Fatalf("org-b must not receive org-a events: %s", payload)
	default:
	}
}
