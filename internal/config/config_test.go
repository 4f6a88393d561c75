package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "freshtrack.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
database_url: postgres://file/db
auth:
  jwt_secret: from-file
  ingest_secrets:
    org-a: s3cret
ingest:
  mode: latest
  batch_timeout: 10s
partitions:
  retention_months: 36
schedule:
  liveness: "@every 30s"
`)
	t.Setenv(PathEnv, path)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("INGEST_WORKERS", "3")
	t.Setenv("ALERT_WEBHOOK_URL", "https://hooks.example/freshtrack")
	t.Setenv("ALERT_WEBHOOK_TOKEN", "hook-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env/db" {
		t.Fatalf("env must override file, got %q", cfg.DatabaseURL)
	}
	if cfg.Auth.JWTSecret != "from-file" || cfg.Auth.IngestSecrets["org-a"] != "s3cret" {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
	if cfg.Ingest.Mode != "latest" || cfg.Ingest.BatchTimeout != 10*time.Second || cfg.Ingest.Workers != 3 {
		t.Fatalf("unexpected ingest config %+v", cfg.Ingest)
	}
	if cfg.Ingest.MaxBatchSize != 5000 || cfg.Partitions.MonthsAhead != 3 {
		t.Fatalf("defaults must survive a partial file: %+v", cfg)
	}
	if cfg.Partitions.RetentionMonths != 36 || cfg.Schedule.Liveness != "@every 30s" || cfg.Schedule.Escalation != "@every 1m" {
		t.Fatalf("unexpected schedule/partition config %+v %+v", cfg.Partitions, cfg.Schedule)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example/freshtrack" || cfg.Notify.WebhookToken != "hook-token" {
		t.Fatalf("unexpected notify config %+v", cfg.Notify)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv(PathEnv, "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"DATABASE_URL", "AUTH_JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should mention %s", err, want)
		}
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv(PathEnv, "")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("INGEST_BATCH_TIMEOUT", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "INGEST_BATCH_TIMEOUT") {
		t.Fatalf("expected duration parse error, got %v", err)
	}

	t.Setenv("INGEST_BATCH_TIMEOUT", "")
	t.Setenv("EVALUATOR_LOCKER", "etcd")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "locker") {
		t.Fatalf("expected locker error, got %v", err)
	}

	t.Setenv("EVALUATOR_LOCKER", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("expected telegram pairing error, got %v", err)
	}
}

func TestParsePairs(t *testing.T) {
	pairs, err := parsePairs("org-a=one, org-b = two ,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(pairs) != 2 || pairs["org-a"] != "one" || pairs["org-b"] != "two" {
		t.Fatalf("unexpected pairs %v", pairs)
	}
	if _, err := parsePairs("org-a"); err == nil {
		t.Fatalf("expected malformed pair error")
	}
}
