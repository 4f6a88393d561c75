package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Channel delivers rendered content.
type Channel interface {
	Send(ctx context.Context, content string) error
}

// DeliveryError reports a non-2xx webhook response. Permanent errors are not
// retried by the dispatcher.
type DeliveryError struct {
	StatusCode int
	Permanent  bool
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook channel: status %d", e.StatusCode)
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	var delivery *DeliveryError
	return errors.As(err, &delivery) && delivery.Permanent
}

// WebhookChannel posts alert text to a Slack-compatible incoming webhook.
type WebhookChannel struct {
	url    string
	token  string
	client *http.Client
	now    func() time.Time
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithBearerToken authenticates each post.
func WithBearerToken(token string) WebhookOption {
	return func(ch *WebhookChannel) { ch.token = token }
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{url: url, client: &http.Client{Timeout: 10 * time.Second}, now: time.Now}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

type webhookMessage struct {
	Text   string    `json:"text"`
	Source string    `json:"source"`
	SentAt time.Time `json:"sent_at"`
}

func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	body, err := json.Marshal(webhookMessage{Text: content, Source: "freshtrack", SentAt: w.now().UTC()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	// Client errors other than timeouts and throttling will fail the same way again.
	permanent := resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests
	return &DeliveryError{StatusCode: resp.StatusCode, Permanent: permanent}
}
