package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/auth"
	ingest "freshtrack-cloud/internal/ingest/application"
	readings "freshtrack-cloud/internal/readings/domain"
)

const (
	bulkPath       = "/ingest/v1/readings"
	webhookPrefix  = "/ingest/v1/webhook/"
	defaultMaxBody = 8 << 20
	eventIDHeader  = "X-Ingest-Event-ID"
)

// Ingester is the pipeline surface used by the handlers.
type Ingester interface {
	IngestBatch(ctx context.Context, cred ingest.Credential, raws []ingest.RawReading) (ingest.Result, error)
	IngestEvent(ctx context.Context, cred ingest.Credential, eventID string, raw ingest.RawReading) (ingest.Result, error)
}

// Handler serves the bulk and webhook ingest endpoints. Authentication runs
// in front of it and leaves the organization in the request context.
type Handler struct {
	pipeline Ingester
	logger   *log.Logger
	maxBody  int64
}

// NewHandler constructs an ingest handler.
func NewHandler(pipeline Ingester, logger *log.Logger) (*Handler, error) {
	if pipeline == nil {
		return nil, errors.New("ingest handler: nil pipeline")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{pipeline: pipeline, logger: logger, maxBody: defaultMaxBody}, nil
}

type bulkRequest struct {
	Readings []ingest.RawReading `json:"readings"`
}

type webhookRequest struct {
	EventID string `json:"event_id"`
	ingest.RawReading
}

type errorResponse struct {
	Error  string         `json:"error"`
	Issues []apperr.Issue `json:"issues,omitempty"`
}

// ServeHTTP routes POST /ingest/v1/readings and POST /ingest/v1/webhook/{org_id}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == bulkPath:
		h.handleBulk(w, r)
	case strings.HasPrefix(r.URL.Path, webhookPrefix):
		h.handleWebhook(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	orgID := auth.OrgIDFromContext(r.Context())
	if orgID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := h.readBody(w, r)
	if err != nil {
		return
	}
	var req bulkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// A bare array is accepted as well.
		if arrErr := json.Unmarshal(body, &req.Readings); arrErr != nil {
			h.logger.Printf("ingest: decode bulk: org=%s err=%v", orgID, err)
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	cred := ingest.Credential{OrgID: orgID, Source: readings.SourceBulkImport}
	result, err := h.pipeline.IngestBatch(r.Context(), cred, req.Readings)
	if err != nil {
		h.respondError(w, orgID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	pathOrg := auth.WebhookOrgID(r.URL.Path)
	orgID := auth.OrgIDFromContext(r.Context())
	if pathOrg == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if orgID == "" || orgID != pathOrg {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := h.readBody(w, r)
	if err != nil {
		return
	}
	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("ingest: decode webhook: org=%s err=%v", orgID, err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	eventID := strings.TrimSpace(r.Header.Get(eventIDHeader))
	if eventID == "" {
		eventID = strings.TrimSpace(req.EventID)
	}
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = "sha256:" + hex.EncodeToString(sum[:])
	}
	cred := ingest.Credential{OrgID: orgID, Source: readings.SourceWebhook}
	result, err := h.pipeline.IngestEvent(r.Context(), cred, eventID, req.RawReading)
	if err != nil {
		h.respondError(w, orgID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return nil, err
		}
		h.logger.Printf("ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return nil, err
	}
	return body, nil
}

func (h *Handler) respondError(w http.ResponseWriter, orgID string, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Issues: apperr.IssuesOf(err)})
	case errors.Is(err, apperr.ErrAuthorization):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Issues: apperr.IssuesOf(err)})
	default:
		h.logger.Printf("ingest: request failed: org=%s err=%v", orgID, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
