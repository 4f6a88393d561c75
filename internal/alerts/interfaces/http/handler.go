package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	alertapp "freshtrack-cloud/internal/alerts/application"
	alerts "freshtrack-cloud/internal/alerts/domain"
	"freshtrack-cloud/internal/apperr"
)

const timeLayout = time.RFC3339

// Handler provides alert HTTP endpoints.
type Handler struct {
	service *alertapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *alertapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	return &Handler{service: service}, nil
}

type actionRequest struct {
	Notes      string `json:"notes"`
	Resolution string `json:"resolution"`
}

// ServeHTTP handles /api/v1/alerts and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alerts":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		h.handleAlert(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := alerts.Filter{
		UnitID: query.Get("unit_id"),
		Status: alerts.Status(query.Get("status")),
		Type:   alerts.Type(query.Get("type")),
	}
	var err error
	if filter.From, err = parseOptionalTime(query.Get("from"), "from"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if filter.To, err = parseOptionalTime(query.Get("to"), "to"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	if list == nil {
		list = []alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAlert(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		alert, err := h.service.Get(r.Context(), id)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, alert)
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req actionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	var (
		alert *alerts.Alert
		err   error
	)
	switch parts[1] {
	case "acknowledge":
		alert, err = h.service.Acknowledge(r.Context(), id, req.Notes)
	case "resolve":
		alert, err = h.service.Resolve(r.Context(), id, req.Resolution)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperr.ErrAuthorization):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, apperr.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseOptionalTime(value, key string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
