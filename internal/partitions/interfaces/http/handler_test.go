package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"freshtrack-cloud/internal/auth"
	partitionapp "freshtrack-cloud/internal/partitions/application"
	partitions "freshtrack-cloud/internal/partitions/domain"
	"freshtrack-cloud/internal/partitions/infrastructure/memory"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	manager, err := partitionapp.NewManager(memory.NewCatalog(), partitionapp.WithOverrides(memory.NewOverrideStore()))
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	handler, err := NewHandler(manager, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler
}

func asAdmin(r *http.Request) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), "org-a", auth.RoleAdmin, "admin-1"))
}

func TestOverrideRoundTrip(t *testing.T) {
	handler := newTestHandler(t)

	rec := httptest.NewRecorder()
	body := `{"partition":"readings_p2024_03","reason":"recall investigation"}`
	handler.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/api/v1/partitions/overrides", strings.NewReader(body))))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created partitions.Override
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.CreatedBy != "admin-1" {
		t.Fatalf("unexpected override %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodGet, "/api/v1/partitions/overrides", nil)))
	var listed struct {
		Overrides []partitions.Override `json:"overrides"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil || len(listed.Overrides) != 1 {
		t.Fatalf("unexpected list %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodDelete, "/api/v1/partitions/overrides?partition=readings_p2024_03", nil)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodDelete, "/api/v1/partitions/overrides?partition=readings_p2024_03", nil)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOverrideValidation(t *testing.T) {
	handler := newTestHandler(t)
	rec := httptest.NewRecorder()
	body := `{"partition":"readings_default","reason":"keep"}`
	handler.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/api/v1/partitions/overrides", strings.NewReader(body))))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListPartitions(t *testing.T) {
	handler := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asAdmin(httptest.NewRequest(http.MethodGet, "/api/v1/partitions", nil)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "readings_default") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
