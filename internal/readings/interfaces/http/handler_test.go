package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"freshtrack-cloud/internal/auth"
	readings "freshtrack-cloud/internal/readings/domain"
	readingmemory "freshtrack-cloud/internal/readings/infrastructure/memory"
	units "freshtrack-cloud/internal/units/domain"
	unitmemory "freshtrack-cloud/internal/units/infrastructure/memory"
)

var start = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, count int) *Handler {
	t.Helper()
	unitRepo := unitmemory.NewUnitRepository(
		units.Unit{ID: "u1", OrgID: "org-a", TempMin: 320, TempMax: 400, TempUnit: readings.Fahrenheit},
		units.Unit{ID: "u9", OrgID: "org-b", TempMin: 320, TempMax: 400, TempUnit: readings.Fahrenheit},
	)
	store := readingmemory.NewReadingRepository()
	batch := make([]readings.Reading, 0, count)
	for i := 0; i < count; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		batch = append(batch, readings.Reading{
			ID: fmt.Sprintf("r%03d", i), OrgID: "org-a", UnitID: "u1", Temperature: 380,
			RecordedAt: at, ReceivedAt: at, Source: readings.SourceWebhook,
		})
	}
	if err := store.InsertBatch(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := NewHandler(store, auth.NewUnitOrgChecker(unitRepo))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler
}

func get(handler http.Handler, path, orgID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), orgID, auth.RoleViewer, "user-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestListReadingsPaginates(t *testing.T) {
	handler := newTestHandler(t, 5)

	rec := get(handler, "/api/v1/units/u1/readings?limit=2", "org-a")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page readings.Page
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Readings) != 2 || page.NextCursor == "" || page.Readings[0].ID != "r000" {
		t.Fatalf("unexpected first page %+v", page)
	}

	rec = get(handler, "/api/v1/units/u1/readings?limit=2&cursor="+page.NextCursor, "org-a")
	var next readings.Page
	if err := json.Unmarshal(rec.Body.Bytes(), &next); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(next.Readings) != 2 || next.Readings[0].ID != "r002" {
		t.Fatalf("unexpected second page %+v", next)
	}
}

func TestListReadingsTimeRange(t *testing.T) {
	handler := newTestHandler(t, 10)
	from := start.Add(3 * time.Minute).Format(time.RFC3339)
	to := start.Add(6 * time.Minute).Format(time.RFC3339)
	rec := get(handler, "/api/v1/units/u1/readings?from="+from+"&to="+to, "org-a")
	var page readings.Page
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Readings) != 3 || page.NextCursor != "" {
		t.Fatalf("expected three readings in [from,to), got %d", len(page.Readings))
	}
	if rec := get(handler, "/api/v1/units/u1/readings?from="+to+"&to="+from, "org-a"); rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted range must be rejected, got %d", rec.Code)
	}
	if rec := get(handler, "/api/v1/units/u1/readings?cursor=not!a!cursor", "org-a"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor must be rejected, got %d", rec.Code)
	}
}

func TestLatestReading(t *testing.T) {
	handler := newTestHandler(t, 4)
	rec := get(handler, "/api/v1/units/u1/readings/latest", "org-a")
	var latest readings.Reading
	if err := json.Unmarshal(rec.Body.Bytes(), &latest); err != nil || latest.ID != "r003" {
		t.Fatalf("unexpected latest %s", rec.Body.String())
	}
	empty := newTestHandler(t, 0)
	if rec := get(empty, "/api/v1/units/u1/readings/latest", "org-a"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without readings, got %d", rec.Code)
	}
}

func TestReadingsAreOrgScoped(t *testing.T) {
	handler := newTestHandler(t, 1)
	for _, path := range []string{"/api/v1/units/u9/readings", "/api/v1/units/u9/readings/latest", "/api/v1/units/nope"} {
		if rec := get(handler, path, "org-a"); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
	if rec := get(handler, "/api/v1/units/u1", "org-a"); rec.Code != http.StatusOK {
		t.Fatalf("own unit must be visible, got %d", rec.Code)
	}
}
