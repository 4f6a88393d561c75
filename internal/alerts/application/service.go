package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	alerts "freshtrack-cloud/internal/alerts/domain"
	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/audit"
	"freshtrack-cloud/internal/auth"
	"freshtrack-cloud/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// ErrActorRequired is returned when no operator identity is present.
var ErrActorRequired = fmt.Errorf("alerts: actor required: %w", apperr.ErrValidation)

// ErrResolutionRequired is returned when resolving without a resolution text.
var ErrResolutionRequired = fmt.Errorf("alerts: resolution required: %w", apperr.ErrValidation)

// Service exposes operator actions on alerts. Every call is scoped to the
// organization carried in the request context.
type Service struct {
	alerts   alerts.Repository
	notifier alerts.Notifier
	audit    audit.Logger
	clock    Clock
	logger   *log.Logger
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier alerts.Notifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithAudit records operator actions.
func WithAudit(logger audit.Logger) ServiceOption {
	return func(s *Service) {
		s.audit = logger
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs an alert service.
func NewService(repo alerts.Repository, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("alerts: nil repository")
	}
	service := &Service{
		alerts: repo,
		clock:  systemClock{},
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Get returns one alert of the caller's org.
func (s *Service) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	return s.load(ctx, id)
}

// List returns alerts of the caller's org.
func (s *Service) List(ctx context.Context, filter alerts.Filter) ([]alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	orgID := auth.OrgIDFromContext(ctx)
	if orgID == "" {
		return nil, auth.ErrOrgMismatch
	}
	filter.OrgID = orgID
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return nil, fmt.Errorf("alerts: to must be after from: %w", apperr.ErrValidation)
	}
	list, err := s.alerts.List(ctx, filter)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return list, nil
}

// Acknowledge moves an active alert to acknowledged. Notes are optional.
func (s *Service) Acknowledge(ctx context.Context, id, notes string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	actor := auth.SubjectFromContext(ctx)
	if actor == "" {
		return nil, ErrActorRequired
	}
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	at := s.clock.Now().UTC()
	alert, err := s.alerts.Acknowledge(ctx, id, actor, strings.TrimSpace(notes), at)
	if err != nil {
		return nil, classify(err)
	}
	s.record(ctx, "alert.acknowledge", alert, map[string]any{"notes": alert.AckNotes})
	s.notify(ctx, alerts.EventAcknowledged, alert, at)
	return &alert, nil
}

// Resolve closes an open alert with a resolution text.
func (s *Service) Resolve(ctx context.Context, id, resolution string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	actor := auth.SubjectFromContext(ctx)
	if actor == "" {
		return nil, ErrActorRequired
	}
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, ErrResolutionRequired
	}
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	at := s.clock.Now().UTC()
	alert, err := s.alerts.Resolve(ctx, id, actor, resolution, at)
	if err != nil {
		return nil, classify(err)
	}
	s.record(ctx, "alert.resolve", alert, map[string]any{"resolution": resolution})
	s.notify(ctx, alerts.EventResolved, alert, at)
	return &alert, nil
}

func (s *Service) load(ctx context.Context, id string) (*alerts.Alert, error) {
	if id == "" {
		return nil, fmt.Errorf("alerts: alert id required: %w", apperr.ErrValidation)
	}
	alert, err := s.alerts.Get(ctx, id)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	if orgID := auth.OrgIDFromContext(ctx); orgID == "" || alert.OrgID != orgID {
		return nil, auth.ErrOrgMismatch
	}
	return alert, nil
}

func (s *Service) record(ctx context.Context, action string, alert alerts.Alert, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["status"] = alert.Status
	payload, _ := json.Marshal(meta)
	err := s.audit.Log(ctx, audit.Entry{
		OrgID:        alert.OrgID,
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: "alert",
		ResourceID:   alert.ID,
		UnitID:       alert.UnitID,
		Metadata:     payload,
	})
	if err != nil {
		s.logger.Printf("alerts: audit log failed: alert=%s err=%v", alert.ID, err)
	}
}

func (s *Service) notify(ctx context.Context, kind alerts.EventKind, alert alerts.Alert, at time.Time) {
	metrics.IncAlertEvent(string(kind), string(alert.Type))
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, alerts.NewEvent(kind, alert, at))
}

// classify keeps lifecycle errors and marks everything else as storage failure.
func classify(err error) error {
	if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return apperr.Storage(err)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
