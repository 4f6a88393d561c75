package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/auth"
	readings "freshtrack-cloud/internal/readings/domain"
	units "freshtrack-cloud/internal/units/domain"
)

const unitsPrefix = "/api/v1/units/"

// Handler serves unit status and reading queries, scoped to the caller's org.
type Handler struct {
	readings readings.Repository
	checker  *auth.UnitOrgChecker
	reports  http.Handler
	logger   *log.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithReports routes /api/v1/units/{id}/reports/... to handler.
func WithReports(handler http.Handler) Option {
	return func(h *Handler) {
		h.reports = handler
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(repo readings.Repository, checker *auth.UnitOrgChecker, opts ...Option) (*Handler, error) {
	if repo == nil || checker == nil {
		return nil, errors.New("readings handler: nil dependency")
	}
	h := &Handler{readings: repo, checker: checker, logger: log.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type unitResponse struct {
	units.Unit
	Interval string `json:"expected_interval"`
}

// ServeHTTP handles /api/v1/units/{id}[/readings[/latest]|/reports/...].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, unitsPrefix), "/")
	unitID, sub, _ := strings.Cut(rest, "/")
	if unitID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if strings.HasPrefix(sub, "reports/") && h.reports != nil {
		h.reports.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	unit, err := h.checker.EnsureUnitOrg(r.Context(), auth.OrgIDFromContext(r.Context()), unitID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	switch sub {
	case "":
		writeJSON(w, http.StatusOK, unitResponse{Unit: *unit, Interval: unit.Interval().String()})
	case "readings":
		h.handleList(w, r, unit.ID)
	case "readings/latest":
		latest, err := h.readings.Latest(r.Context(), unit.ID)
		if err != nil {
			h.respondError(w, apperr.Storage(err))
			return
		}
		if latest == nil {
			http.Error(w, "no readings", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, latest)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, unitID string) {
	values := r.URL.Query()
	query := readings.Query{UnitID: unitID, Cursor: values.Get("cursor")}
	var err error
	if query.From, err = parseTime(values.Get("from")); err != nil {
		http.Error(w, "from must be RFC3339", http.StatusBadRequest)
		return
	}
	if query.To, err = parseTime(values.Get("to")); err != nil {
		http.Error(w, "to must be RFC3339", http.StatusBadRequest)
		return
	}
	if !query.From.IsZero() && !query.To.IsZero() && !query.From.Before(query.To) {
		http.Error(w, "from must be before to", http.StatusBadRequest)
		return
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		query.Limit = limit
	}
	page, err := h.readings.ListByUnit(r.Context(), query)
	if err != nil {
		if errors.Is(err, readings.ErrInvalidCursor) {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		h.respondError(w, apperr.Storage(err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, auth.ErrOrgMismatch):
		http.Error(w, "unit not found", http.StatusNotFound)
	default:
		h.logger.Printf("readings: request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
