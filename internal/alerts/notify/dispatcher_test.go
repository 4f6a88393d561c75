package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	alerts "freshtrack-cloud/internal/alerts/domain"
	readings "freshtrack-cloud/internal/readings/domain"
	units "freshtrack-cloud/internal/units/domain"
)

type recordingChannel struct {
	mu       sync.Mutex
	failures int
	attempts int
	sent     []string
}

func (c *recordingChannel) Send(_ context.Context, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.failures > 0 {
		c.failures--
		return errors.New("temporary failure")
	}
	c.sent = append(c.sent, content)
	return nil
}

func (c *recordingChannel) snapshot() ([]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...), c.attempts
}

type stubUnits struct{}

func (stubUnits) Get(_ context.Context, id string) (*units.Unit, error) {
	return &units.Unit{ID: id, Name: "Walk-in Cooler 1", TempUnit: readings.Fahrenheit}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func openedEvent(id string) alerts.Event {
	temp := readings.Tenths(465)
	return alerts.Event{
		Kind:        alerts.EventOpened,
		AlertID:     id,
		OrgID:       "org-a",
		UnitID:      "unit-1",
		Type:        alerts.TypeAlarmActive,
		Severity:    alerts.SeverityWarning,
		Status:      alerts.StatusActive,
		Temperature: &temp,
		Threshold:   alerts.ThresholdMax,
		TriggeredAt: time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC),
		OccurredAt:  time.Date(2026, 1, 26, 8, 5, 0, 0, time.UTC),
	}
}

func TestDispatcherRetriesWithBackoff(t *testing.T) {
	channel := &recordingChannel{failures: 2}
	d, err := NewDispatcher(WithChannel("test", channel), WithUnits(stubUnits{}), WithBackoff(time.Millisecond, 4*time.Millisecond, 5))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	var delays []time.Duration
	d.sleep = func(_ context.Context, delay time.Duration) error {
		delays = append(delays, delay)
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Notify(context.Background(), openedEvent("alert-1"))
	waitFor(t, func() bool {
		sent, _ := channel.snapshot()
		return len(sent) == 1
	})
	cancel()
	d.Wait()

	sent, attempts := channel.snapshot()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Fatalf("unexpected backoff delays %v", delays)
	}
	for _, want := range []string{"[Triggered] Temperature out of range", "Unit: Walk-in Cooler 1", "Temperature: 46.5 °F (max limit breached)", "Severity: warning"} {
		if !strings.Contains(sent[0], want) {
			t.Fatalf("expected %q in message:\n%s", want, sent[0])
		}
	}
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	channel := &recordingChannel{failures: 10}
	d, _ := NewDispatcher(WithChannel("test", channel), WithBackoff(time.Millisecond, time.Millisecond, 3))
	d.sleep = noSleep
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Notify(context.Background(), openedEvent("alert-1"))
	waitFor(t, func() bool {
		_, attempts := channel.snapshot()
		return attempts == 3
	})
	cancel()
	d.Wait()
	if _, attempts := channel.snapshot(); attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestDispatcherDropsOldestWhenFull(t *testing.T) {
	channel := &recordingChannel{}
	d, _ := NewDispatcher(WithChannel("test", channel), WithQueueSize(2), WithWorkers(1))
	d.sleep = noSleep

	d.Notify(context.Background(), openedEvent("alert-1"))
	d.Notify(context.Background(), openedEvent("alert-2"))
	d.Notify(context.Background(), openedEvent("alert-3"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	waitFor(t, func() bool {
		sent, _ := channel.snapshot()
		return len(sent) == 2
	})
	cancel()
	d.Wait()
	sent, _ := channel.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(sent))
	}
}

func TestDispatcherSkipsAcknowledgedAndDedupes(t *testing.T) {
	channel := &recordingChannel{}
	d, _ := NewDispatcher(WithChannel("test", channel), WithWorkers(1))
	d.sleep = noSleep
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acked := openedEvent("alert-1")
	acked.Kind = alerts.EventAcknowledged
	d.Notify(context.Background(), acked)
	d.Notify(context.Background(), openedEvent("alert-1"))
	d.Notify(context.Background(), openedEvent("alert-1"))
	resolved := openedEvent("alert-1")
	resolved.Kind = alerts.EventResolved
	d.Notify(context.Background(), resolved)

	d.Start(ctx)
	waitFor(t, func() bool {
		sent, _ := channel.snapshot()
		return len(sent) == 2
	})
	time.Sleep(20 * time.Millisecond)
	cancel()
	d.Wait()

	sent, _ := channel.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected opened and resolved only, got %d messages", len(sent))
	}
	if !strings.Contains(sent[1], "[Resolved]") {
		t.Fatalf("expected resolved message, got %s", sent[1])
	}
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookMessage, 1)
	authCh := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCh <- r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		var payload webhookMessage
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithBearerToken("hook-token"))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth := <-authCh; auth != "Bearer hook-token" {
		t.Fatalf("unexpected authorization %q", auth)
	}
	if payload := <-payloadCh; payload.Text != "hello" || payload.Source != "freshtrack" || payload.SentAt.IsZero() {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	channel, _ := NewWebhookChannel(server.URL)
	err := channel.Send(context.Background(), "hello")
	if err == nil || IsPermanent(err) {
		t.Fatalf("expected a retryable error on 502, got %v", err)
	}
}

func TestWebhookChannelClientErrorIsNotRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	channel, _ := NewWebhookChannel(server.URL)

	d, err := NewDispatcher(WithChannel("webhook", channel), WithBackoff(time.Millisecond, time.Millisecond, 5))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d.sleep = noSleep
	err = d.sendWithRetry(context.Background(), d.targets[0], "hello")
	if !IsPermanent(err) {
		t.Fatalf("expected permanent delivery error, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single attempt on 404, got %d", calls)
	}
}

type stubBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (s *stubBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.sent = append(s.sent, c)
	return tgbotapi.Message{}, s.err
}

func TestTelegramChannelSend(t *testing.T) {
	bot := &stubBot{}
	channel := &TelegramChannel{bot: bot, chatID: 42}
	if err := channel.Send(context.Background(), "door open"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(bot.sent))
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok || msg.ChatID != 42 || msg.Text != "door open" {
		t.Fatalf("unexpected message %+v", bot.sent[0])
	}

	bot.err = errors.New("blocked")
	if err := channel.Send(context.Background(), "again"); err == nil {
		t.Fatalf("expected error")
	}
}
