package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"

	alerts "freshtrack-cloud/internal/alerts/domain"
	"freshtrack-cloud/internal/observability/metrics"
	units "freshtrack-cloud/internal/units/domain"
)

const (
	DefaultQueueSize    = 1024
	DefaultWorkers      = 2
	DefaultBackoffBase  = 500 * time.Millisecond
	DefaultBackoffMax   = 30 * time.Second
	DefaultMaxAttempts  = 5
	DefaultDedupeWindow = 10 * time.Minute

	pruneThreshold = 4096
)

// UnitReader loads unit metadata for message rendering.
type UnitReader interface {
	Get(ctx context.Context, id string) (*units.Unit, error)
}

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type target struct {
	name    string
	channel Channel
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Dispatcher delivers alert events to channels from a bounded queue.
// Notify never blocks: when the queue is full the oldest event is dropped.
type Dispatcher struct {
	queue        chan alerts.Event
	targets      []target
	template     *Template
	units        UnitReader
	clock        Clock
	logger       *log.Logger
	workers      int
	backoffBase  time.Duration
	backoffMax   time.Duration
	maxAttempts  int
	sendTimeout  time.Duration
	cooldown     time.Duration
	dedupeWindow time.Duration
	sleep        func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	sent map[string]sendRecord
	wg   sync.WaitGroup
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithChannel adds a named delivery channel.
func WithChannel(name string, channel Channel) Option {
	return func(d *Dispatcher) {
		if channel != nil {
			d.targets = append(d.targets, target{name: name, channel: channel})
		}
	}
}

// WithTemplate overrides the message template.
func WithTemplate(tpl *Template) Option {
	return func(d *Dispatcher) {
		if tpl != nil {
			d.template = tpl
		}
	}
}

// WithUnits resolves unit names for messages.
func WithUnits(reader UnitReader) Option {
	return func(d *Dispatcher) {
		d.units = reader
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan alerts.Event, size)
		}
	}
}

// WithWorkers sets the number of delivery workers.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithBackoff configures retry delays and attempts.
func WithBackoff(base, max time.Duration, attempts int) Option {
	return func(d *Dispatcher) {
		if base > 0 {
			d.backoffBase = base
		}
		if max > 0 {
			d.backoffMax = max
		}
		if attempts > 0 {
			d.maxAttempts = attempts
		}
	}
}

// WithSendTimeout bounds one delivery attempt.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval >= 0 {
			d.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(d *Dispatcher) {
		if window >= 0 {
			d.dedupeWindow = window
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher. Call Start to begin delivery.
func NewDispatcher(opts ...Option) (*Dispatcher, error) {
	tpl, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		queue:        make(chan alerts.Event, DefaultQueueSize),
		template:     tpl,
		clock:        systemClock{},
		logger:       log.Default(),
		workers:      DefaultWorkers,
		backoffBase:  DefaultBackoffBase,
		backoffMax:   DefaultBackoffMax,
		maxAttempts:  DefaultMaxAttempts,
		sendTimeout:  10 * time.Second,
		dedupeWindow: DefaultDedupeWindow,
		sleep:        sleepContext,
		sent:         make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(d)
	}
	if len(d.targets) == 0 {
		return nil, errors.New("alert dispatcher: no channels")
	}
	return d, nil
}

// Notify implements alerts.Notifier.
func (d *Dispatcher) Notify(_ context.Context, event alerts.Event) {
	if d == nil || !deliverable(event.Kind) {
		return
	}
	for {
		select {
		case d.queue <- event:
			metrics.SetNotifyQueueDepth(len(d.queue))
			return
		default:
		}
		select {
		case dropped := <-d.queue:
			metrics.IncNotifyDropped()
			d.logger.Printf("alert dispatcher: queue full, dropped event: alert=%s kind=%s", dropped.AlertID, dropped.Kind)
		default:
		}
	}
}

// Start launches the workers. They stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	if d == nil {
		return
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.queue:
			metrics.SetNotifyQueueDepth(len(d.queue))
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event alerts.Event) {
	content, err := d.template.Render(d.templateData(ctx, event))
	if err != nil {
		d.logger.Printf("alert dispatcher: render failed: alert=%s err=%v", event.AlertID, err)
		return
	}
	key := event.AlertID + "|" + string(event.Kind)
	if !d.shouldSend(key, content) {
		return
	}
	delivered := false
	for _, t := range d.targets {
		if err := d.sendWithRetry(ctx, t, content); err != nil {
			metrics.IncNotifyFailure(t.name)
			d.logger.Printf("alert dispatcher: delivery failed: channel=%s alert=%s kind=%s err=%v", t.name, event.AlertID, event.Kind, err)
			continue
		}
		metrics.IncNotifyDelivered(t.name)
		delivered = true
	}
	if delivered {
		d.markSent(key, content)
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, t target, content string) error {
	var lastErr error
	delay := d.backoffBase
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		lastErr = t.channel.Send(sendCtx, content)
		cancel()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || attempt == d.maxAttempts {
			break
		}
		if err := d.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > d.backoffMax {
			delay = d.backoffMax
		}
	}
	return lastErr
}

func (d *Dispatcher) templateData(ctx context.Context, event alerts.Event) TemplateData {
	unitName := event.UnitID
	unitSuffix := ""
	if d.units != nil {
		if unit, err := d.units.Get(ctx, event.UnitID); err == nil && unit != nil {
			if unit.Name != "" {
				unitName = unit.Name
			}
			unitSuffix = " °" + string(unit.TempUnit)
		}
	}
	temperature := ""
	if event.Temperature != nil {
		temperature = event.Temperature.String() + unitSuffix
	}
	return TemplateData{
		Unit:            unitName,
		UnitID:          event.UnitID,
		OrgID:           event.OrgID,
		AlertID:         event.AlertID,
		Type:            string(event.Type),
		TypeLabel:       typeLabel(event.Type),
		Severity:        string(event.Severity),
		Status:          string(event.Status),
		EscalationLevel: event.EscalationLevel,
		Temperature:     temperature,
		Threshold:       string(event.Threshold),
		TriggeredAt:     event.TriggeredAt.UTC().Format(time.RFC3339),
		OccurredAt:      event.OccurredAt.UTC().Format(time.RFC3339),
		Event:           string(event.Kind),
		EventLabel:      eventLabel(event.Kind),
		Suggestion:      suggestionFor(event),
	}
}

// deliverable limits channel traffic to changes that need someone to act.
func deliverable(kind alerts.EventKind) bool {
	switch kind {
	case alerts.EventOpened, alerts.EventEscalated, alerts.EventResolved:
		return true
	default:
		return false
	}
}

func eventLabel(kind alerts.EventKind) string {
	switch kind {
	case alerts.EventOpened:
		return "Triggered"
	case alerts.EventEscalated:
		return "Escalated"
	case alerts.EventResolved:
		return "Resolved"
	case alerts.EventAcknowledged:
		return "Acknowledged"
	default:
		return string(kind)
	}
}

func typeLabel(t alerts.Type) string {
	switch t {
	case alerts.TypeAlarmActive:
		return "Temperature out of range"
	case alerts.TypeMonitoringInterrupted:
		return "Monitoring interrupted"
	case alerts.TypeMissedManualEntry:
		return "Manual temperature log overdue"
	default:
		return string(t)
	}
}

func suggestionFor(event alerts.Event) string {
	if event.Kind == alerts.EventResolved {
		return "No action needed."
	}
	switch event.Type {
	case alerts.TypeAlarmActive:
		if event.Severity == alerts.SeverityCritical {
			return "Move product to a safe unit now and check the compressor and door."
		}
		return "Check the door seal and unit setpoint."
	case alerts.TypeMonitoringInterrupted:
		return "Check sensor power and gateway connectivity."
	case alerts.TypeMissedManualEntry:
		return "Record a manual temperature reading."
	default:
		return "Inspect the unit."
	}
}

func (d *Dispatcher) shouldSend(key, content string) bool {
	if d.cooldown <= 0 && d.dedupeWindow <= 0 {
		return true
	}
	now := d.clock.Now().UTC()
	d.mu.Lock()
	record, ok := d.sent[key]
	d.mu.Unlock()
	if !ok {
		return true
	}
	if d.cooldown > 0 && now.Sub(record.at) < d.cooldown {
		return false
	}
	if d.dedupeWindow > 0 && record.hash == hashContent(content) && now.Sub(record.at) < d.dedupeWindow {
		return false
	}
	return true
}

func (d *Dispatcher) markSent(key, content string) {
	now := d.clock.Now().UTC()
	keep := d.cooldown
	if d.dedupeWindow > keep {
		keep = d.dedupeWindow
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) >= pruneThreshold {
		for k, record := range d.sent {
			if now.Sub(record.at) >= keep {
				delete(d.sent, k)
			}
		}
	}
	d.sent[key] = sendRecord{at: now, hash: hashContent(content)}
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
