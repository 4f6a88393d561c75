package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/auth"
	partitionapp "freshtrack-cloud/internal/partitions/application"
)

// Handler serves partition listing and retention overrides.
type Handler struct {
	manager *partitionapp.Manager
	logger  *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(manager *partitionapp.Manager, logger *log.Logger) (*Handler, error) {
	if manager == nil {
		return nil, errors.New("partitions handler: nil manager")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{manager: manager, logger: logger}, nil
}

// ServeHTTP handles /api/v1/partitions and /api/v1/partitions/overrides.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/api/v1/partitions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		list, err := h.manager.Partitions(r.Context())
		if err != nil {
			h.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"partitions": list})
	case "/api/v1/partitions/overrides":
		h.handleOverrides(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleOverrides(w http.ResponseWriter, r *http.Request) {
	actor := partitionapp.Actor{
		OrgID:   auth.OrgIDFromContext(r.Context()),
		Subject: auth.SubjectFromContext(r.Context()),
		Role:    string(auth.RoleFromContext(r.Context())),
	}
	switch r.Method {
	case http.MethodGet:
		list, err := h.manager.ListOverrides(r.Context())
		if err != nil {
			h.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"overrides": list})
	case http.MethodPost, http.MethodPut:
		var input partitionapp.OverrideInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		override, err := h.manager.PutOverride(r.Context(), actor, input)
		if err != nil {
			h.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, override)
	case http.MethodDelete:
		name := r.URL.Query().Get("partition")
		if name == "" {
			http.Error(w, "partition is required", http.StatusBadRequest)
			return
		}
		if err := h.manager.DeleteOverride(r.Context(), actor, name); err != nil {
			h.respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		h.logger.Printf("partitions: request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
