package reports

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	alerts "freshtrack-cloud/internal/alerts/domain"
	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/auth"
	"freshtrack-cloud/internal/observability/metrics"
	readings "freshtrack-cloud/internal/readings/domain"
	units "freshtrack-cloud/internal/units/domain"
)

const (
	defaultWindow = 30 * 24 * time.Hour
	maxWindow     = 92 * 24 * time.Hour
	// MaxRows bounds a single spreadsheet export.
	MaxRows = 200000
)

var errTooManyRows = fmt.Errorf("reports: more than %d readings in period: %w", MaxRows, apperr.ErrValidation)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Handler serves compliance exports under /api/v1/units/{id}/reports/.
type Handler struct {
	readings readings.Repository
	alerts   alerts.Repository
	checker  *auth.UnitOrgChecker
	clock    Clock
	logger   *log.Logger
}

// NewHandler constructs a report handler.
func NewHandler(readingRepo readings.Repository, alertRepo alerts.Repository, checker *auth.UnitOrgChecker, clock Clock, logger *log.Logger) (*Handler, error) {
	if readingRepo == nil || alertRepo == nil || checker == nil {
		return nil, errors.New("reports handler: nil dependency")
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{readings: readingRepo, alerts: alertRepo, checker: checker, clock: clock, logger: logger}, nil
}

// ServeHTTP handles GET .../reports/readings.xlsx and .../reports/alerts.pdf.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/units/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "reports" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var format string
	switch parts[2] {
	case "readings.xlsx":
		format = "xlsx"
	case "alerts.pdf":
		format = "pdf"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	from, to, err := h.period(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	unit, err := h.checker.EnsureUnitOrg(r.Context(), auth.OrgIDFromContext(r.Context()), parts[0])
	if err != nil {
		h.respondError(w, err)
		return
	}

	start := h.clock.Now()
	var body []byte
	if format == "xlsx" {
		body, err = h.readingsXLSX(r, *unit, from, to)
	} else {
		body, err = h.alertsPDF(r, *unit, from, to)
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReportExport(format, result, h.clock.Now().Sub(start))
	if err != nil {
		h.respondError(w, err)
		return
	}

	contentType := "application/pdf"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s-%s-%s", unit.ID, from.Format("20060102"), parts[2])))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) readingsXLSX(r *http.Request, unit units.Unit, from, to time.Time) ([]byte, error) {
	var rows []readings.Reading
	query := readings.Query{UnitID: unit.ID, From: from, To: to, Limit: readings.MaxPageSize}
	for {
		page, err := h.readings.ListByUnit(r.Context(), query)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		rows = append(rows, page.Readings...)
		if len(rows) > MaxRows {
			return nil, errTooManyRows
		}
		if page.NextCursor == "" {
			break
		}
		query.Cursor = page.NextCursor
	}
	return BuildReadingsXLSX(unit, rows, from, to)
}

func (h *Handler) alertsPDF(r *http.Request, unit units.Unit, from, to time.Time) ([]byte, error) {
	history, err := h.alerts.List(r.Context(), alerts.Filter{OrgID: unit.OrgID, UnitID: unit.ID, From: from, To: to})
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return BuildAlertHistoryPDF(unit, history, from, to)
}

func (h *Handler) period(r *http.Request) (time.Time, time.Time, error) {
	values := r.URL.Query()
	to := h.clock.Now().UTC()
	if raw := values.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
		}
		to = parsed.UTC()
	}
	from := to.Add(-defaultWindow)
	if raw := values.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
		}
		from = parsed.UTC()
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	if to.Sub(from) > maxWindow {
		return time.Time{}, time.Time{}, errors.New("period exceeds 92 days")
	}
	return from, to, nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, auth.ErrOrgMismatch):
		http.Error(w, "unit not found", http.StatusNotFound)
	case errors.Is(err, apperr.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Printf("reports: export failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
