package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	webhookPathPrefix = "/ingest/v1/webhook/"
	// DefaultWebhookMaxBody bounds what is read before the signature is checked.
	DefaultWebhookMaxBody = 1 << 20
)

// SecretResolver returns the shared ingest secret of an organization.
type SecretResolver interface {
	IngestSecret(ctx context.Context, orgID string) ([]byte, error)
}

// SignatureMiddleware validates per-org HMAC signatures on webhook pushes.
type SignatureMiddleware struct {
	Secrets SecretResolver
	MaxSkew time.Duration
	MaxBody int64
	Logger  *log.Logger
	now     func() time.Time
}

// NewSignatureMiddleware constructs webhook signature middleware.
func NewSignatureMiddleware(secrets SecretResolver, maxSkew time.Duration, logger *log.Logger) *SignatureMiddleware {
	if logger == nil {
		logger = log.Default()
	}
	return &SignatureMiddleware{
		Secrets: secrets,
		MaxSkew: maxSkew,
		MaxBody: DefaultWebhookMaxBody,
		Logger:  logger,
		now:     time.Now,
	}
}

// Wrap enforces the signature and stores the org identity in context.
func (m *SignatureMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := WebhookOrgID(r.URL.Path)
		if orgID == "" {
			http.Error(w, "missing org id", http.StatusNotFound)
			return
		}
		if m.Secrets == nil {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		secret, err := m.Secrets.IngestSecret(r.Context(), orgID)
		if err != nil || len(secret) == 0 {
			if err != nil && !errors.Is(err, ErrNoSecret) {
				m.Logger.Printf("auth: ingest secret lookup: org=%s err=%v", orgID, err)
			}
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}

		timestamp := strings.TrimSpace(r.Header.Get("X-Ingest-Timestamp"))
		signature := strings.TrimSpace(r.Header.Get("X-Ingest-Signature"))
		if timestamp == "" || signature == "" {
			http.Error(w, "missing ingest signature", http.StatusUnauthorized)
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			http.Error(w, "invalid ingest timestamp", http.StatusUnauthorized)
			return
		}
		skew := m.now().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if m.MaxSkew > 0 && skew > m.MaxSkew {
			http.Error(w, "ingest signature expired", http.StatusUnauthorized)
			return
		}

		limit := m.MaxBody
		if limit <= 0 {
			limit = DefaultWebhookMaxBody
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		expected := SignPayload(secret, timestamp, body)
		if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
			http.Error(w, "invalid ingest signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := WithIdentity(r.Context(), orgID, RoleIngest, "webhook:"+orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WebhookOrgID extracts {org_id} from /ingest/v1/webhook/{org_id}.
func WebhookOrgID(path string) string {
	if !strings.HasPrefix(path, webhookPathPrefix) {
		return ""
	}
	orgID := strings.Trim(strings.TrimPrefix(path, webhookPathPrefix), "/")
	if orgID == "" || strings.Contains(orgID, "/") {
		return ""
	}
	return orgID
}

// SignPayload computes hex(HMAC-SHA256(secret, timestamp + "\n" + body)).
func SignPayload(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// StaticSecrets resolves secrets from a fixed map, e.g. loaded from config.
type StaticSecrets map[string]string

// IngestSecret implements SecretResolver.
func (s StaticSecrets) IngestSecret(_ context.Context, orgID string) ([]byte, error) {
	secret, ok := s[orgID]
	if !ok || secret == "" {
		return nil, ErrNoSecret
	}
	return []byte(secret), nil
}
