package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/auth"
	ingest "freshtrack-cloud/internal/ingest/application"
)

type stubIngester struct {
	cred     ingest.Credential
	raws     []ingest.RawReading
	eventIDs []string
	err      error
}

func (s *stubIngester) IngestBatch(ctx context.Context, cred ingest.Credential, raws []ingest.RawReading) (ingest.Result, error) {
	s.cred, s.raws = cred, raws
	if s.err != nil {
		return ingest.Result{}, s.err
	}
	return ingest.Result{Inserted: len(raws), ReadingIDs: []string{"r-1"}, AlertsTriggered: 1}, nil
}

func (s *stubIngester) IngestEvent(ctx context.Context, cred ingest.Credential, eventID string, raw ingest.RawReading) (ingest.Result, error) {
	s.cred = cred
	s.raws = []ingest.RawReading{raw}
	s.eventIDs = append(s.eventIDs, eventID)
	if s.err != nil {
		return ingest.Result{}, s.err
	}
	return ingest.Result{Inserted: 1, ReadingIDs: []string{"r-1"}}, nil
}

func serve(t *testing.T, stub *stubIngester, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	handler, err := NewHandler(stub, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func withOrg(req *http.Request, orgID string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), orgID, auth.RoleIngest, "apikey:k1"))
}

func TestBulkRequiresIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/ingest/v1/readings", strings.NewReader(`{"readings":[]}`))
	if rec := serve(t, &stubIngester{}, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBulkAcceptsObjectAndArray(t *testing.T) {
	for _, body := range []string{
		`{"readings":[{"unit_id":"u1","temperature":38.5,"recorded_at":"2026-03-10T06:00:00Z"}]}`,
		`[{"unit_id":"u1","temperature":38.5,"recorded_at":"2026-03-10T06:00:00Z"}]`,
	} {
		stub := &stubIngester{}
		req := withOrg(httptest.NewRequest(http.MethodPost, "/ingest/v1/readings", strings.NewReader(body)), "org-a")
		rec := serve(t, stub, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if stub.cred.OrgID != "org-a" || len(stub.raws) != 1 || *stub.raws[0].Temperature != 38.5 {
			t.Fatalf("unexpected pipeline input %+v %+v", stub.cred, stub.raws)
		}
		var result ingest.Result
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil || result.AlertsTriggered != 1 {
			t.Fatalf("unexpected response %s", rec.Body.String())
		}
	}
}

func TestBulkEnumeratesIssues(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &apperr.ValidationError{Issues: []apperr.Issue{{Index: 3, UnitID: "u1", Field: "temperature", Reason: "required"}}}, http.StatusBadRequest},
		{"authorization", &apperr.AuthorizationError{Issues: []apperr.Issue{{Index: 0, UnitID: "x", Field: "unit_id", Reason: "unit not found in organization"}}}, http.StatusForbidden},
		{"storage", apperr.Storage(context.DeadlineExceeded), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := withOrg(httptest.NewRequest(http.MethodPost, "/ingest/v1/readings", strings.NewReader(`[]`)), "org-a")
			rec := serve(t, &stubIngester{err: tc.err}, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if want := apperr.IssuesOf(tc.err); len(resp.Issues) != len(want) {
				t.Fatalf("expected %d issues, got %+v", len(want), resp.Issues)
			}
		})
	}
}

func TestWebhookOrgMustMatchPath(t *testing.T) {
	body := `{"unit_id":"u1","temperature":38,"recorded_at":"2026-03-10T06:00:00Z"}`
	req := withOrg(httptest.NewRequest(http.MethodPost, "/ingest/v1/webhook/org-b", strings.NewReader(body)), "org-a")
	if rec := serve(t, &stubIngester{}, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookEventID(t *testing.T) {
	body := `{"unit_id":"u1","temperature":38,"recorded_at":"2026-03-10T06:00:00Z"}`
	stub := &stubIngester{}

	req := withOrg(httptest.NewRequest(http.MethodPost, "/ingest/v1/webhook/org-a", strings.NewReader(body)), "org-a")
	if rec := serve(t, stub, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	req = withOrg(httptest.NewRequest(http.MethodPost, "/ingest/v1/webhook/org-a", strings.NewReader(body)), "org-a")
	serve(t, stub, req)
	if len(stub.eventIDs) != 2 || stub.eventIDs[0] != stub.eventIDs[1] || !strings.HasPrefix(stub.eventIDs[0], "sha256:") {
		t.Fatalf("identical bodies must derive the same event id, got %v", stub.eventIDs)
	}

	req = withOrg(httptest.NewRequest(http.MethodPost, "/ingest/v1/webhook/org-a",
		strings.NewReader(`{"event_id":"uplink-7","unit_id":"u1","temperature":38,"recorded_at":"2026-03-10T06:00:00Z"}`)), "org-a")
	serve(t, stub, req)
	req = withOrg(httptest.NewRequest(http.MethodPost, "/ingest/v1/webhook/org-a", strings.NewReader(body)), "org-a")
	req.Header.Set(eventIDHeader, "hdr-1")
	serve(t, stub, req)
	if stub.eventIDs[2] != "uplink-7" || stub.eventIDs[3] != "hdr-1" {
		t.Fatalf("explicit event ids must win, got %v", stub.eventIDs)
	}
	if stub.cred.Source != "webhook" || stub.raws[0].UnitID != "u1" {
		t.Fatalf("unexpected pipeline input %+v %+v", stub.cred, stub.raws)
	}
}

func TestIngestRejectsOtherMethods(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ingest/v1/readings", nil)
	if rec := serve(t, &stubIngester{}, req); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
