package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PathEnv names the environment variable holding the YAML config path.
const PathEnv = "FRESHTRACK_CONFIG"

// Config is the service configuration. Values come from defaults, then the
// YAML file, then environment variables.
type Config struct {
	HTTPAddr    string          `yaml:"http_addr"`
	DatabaseURL string          `yaml:"database_url"`
	Auth        AuthConfig      `yaml:"auth"`
	Ingest      IngestConfig    `yaml:"ingest"`
	Evaluator   EvaluatorConfig `yaml:"evaluator"`
	Notify      NotifyConfig    `yaml:"notify"`
	Partitions  PartitionConfig `yaml:"partitions"`
	Schedule    ScheduleConfig  `yaml:"schedule"`
}

// AuthConfig covers operator tokens and ingest credentials.
type AuthConfig struct {
	JWTSecret      string            `yaml:"jwt_secret"`
	APIKeyCacheTTL time.Duration     `yaml:"api_key_cache_ttl"`
	WebhookMaxSkew time.Duration     `yaml:"webhook_max_skew"`
	IngestSecrets  map[string]string `yaml:"ingest_secrets"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Mode           string        `yaml:"mode"`
	Workers        int           `yaml:"workers"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	MaxBatchSize   int           `yaml:"max_batch_size"`
	MaxFutureSkew  time.Duration `yaml:"max_future_skew"`
	MaxPastAge     time.Duration `yaml:"max_past_age"`
	EventRetention time.Duration `yaml:"event_retention"`
}

// EvaluatorConfig selects the per-unit lock implementation.
type EvaluatorConfig struct {
	// Locker is "memory" for a single instance or "advisory" for Postgres advisory locks.
	Locker string `yaml:"locker"`
}

// NotifyConfig configures delivery channels and the dispatcher.
type NotifyConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookToken   string        `yaml:"webhook_token"`
	TelegramToken  string        `yaml:"telegram_token"`
	TelegramChatID int64         `yaml:"telegram_chat_id"`
	Template       string        `yaml:"template"`
	QueueSize      int           `yaml:"queue_size"`
	Workers        int           `yaml:"workers"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	MaxAttempts    int           `yaml:"max_attempts"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	Cooldown       time.Duration `yaml:"cooldown"`
	DedupeWindow   time.Duration `yaml:"dedupe_window"`
}

// PartitionConfig controls partition maintenance.
type PartitionConfig struct {
	MonthsAhead     int    `yaml:"months_ahead"`
	RetentionMonths int    `yaml:"retention_months"`
	ArchiveDir      string `yaml:"archive_dir"`
	ArchiveLevel    int    `yaml:"archive_level"`
}

// ScheduleConfig holds cron specs; an empty spec disables the job.
type ScheduleConfig struct {
	Partitions   string `yaml:"partitions"`
	Retention    string `yaml:"retention"`
	DefaultAudit string `yaml:"default_audit"`
	Liveness     string `yaml:"liveness"`
	Escalation   string `yaml:"escalation"`
	EventPrune   string `yaml:"event_prune"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Auth: AuthConfig{
			APIKeyCacheTTL: 5 * time.Minute,
			WebhookMaxSkew: 5 * time.Minute,
		},
		Ingest: IngestConfig{
			Mode:           "all",
			Workers:        8,
			BatchTimeout:   30 * time.Second,
			MaxBatchSize:   5000,
			MaxFutureSkew:  5 * time.Minute,
			MaxPastAge:     90 * 24 * time.Hour,
			EventRetention: 7 * 24 * time.Hour,
		},
		Evaluator: EvaluatorConfig{Locker: "memory"},
		Notify: NotifyConfig{
			QueueSize:   1024,
			Workers:     4,
			BackoffBase: 500 * time.Millisecond,
			BackoffMax:  30 * time.Second,
			MaxAttempts: 5,
			SendTimeout: 5 * time.Second,
		},
		Partitions: PartitionConfig{
			MonthsAhead:     3,
			RetentionMonths: 24,
			ArchiveLevel:    2,
		},
		Schedule: ScheduleConfig{
			Partitions:   "15 0 * * *",
			Retention:    "30 1 * * *",
			DefaultAudit: "0 * * * *",
			Liveness:     "@every 1m",
			Escalation:   "@every 1m",
			EventPrune:   "45 2 * * *",
		},
	}
}

// Load reads defaults, the optional YAML file named by FRESHTRACK_CONFIG and
// environment overrides, then validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(PathEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL or PG_DSN is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("config: AUTH_JWT_SECRET is required"))
	}
	switch c.Ingest.Mode {
	case "all", "latest":
	default:
		errs = append(errs, fmt.Errorf("config: unknown ingest mode %q", c.Ingest.Mode))
	}
	switch c.Evaluator.Locker {
	case "memory", "advisory":
	default:
		errs = append(errs, fmt.Errorf("config: unknown evaluator locker %q", c.Evaluator.Locker))
	}
	if c.Partitions.MonthsAhead < 1 {
		errs = append(errs, errors.New("config: partitions.months_ahead must be at least 1"))
	}
	if c.Partitions.RetentionMonths < 1 {
		errs = append(errs, errors.New("config: partitions.retention_months must be at least 1"))
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == 0) {
		errs = append(errs, errors.New("config: telegram token and chat id must be set together"))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(target *string, keys ...string) {
		for _, key := range keys {
			if value := os.Getenv(key); value != "" {
				*target = value
				return
			}
		}
	}
	num := func(target *int, key string) {
		if value := os.Getenv(key); value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*target = parsed
		}
	}
	dur := func(target *time.Duration, key string) {
		if value := os.Getenv(key); value != "" {
			parsed, err := time.ParseDuration(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*target = parsed
		}
	}

	str(&cfg.HTTPAddr, "HTTP_ADDR")
	str(&cfg.DatabaseURL, "DATABASE_URL", "PG_DSN")
	str(&cfg.Auth.JWTSecret, "AUTH_JWT_SECRET", "JWT_SECRET")
	dur(&cfg.Auth.APIKeyCacheTTL, "AUTH_API_KEY_CACHE_TTL")
	dur(&cfg.Auth.WebhookMaxSkew, "INGEST_WEBHOOK_MAX_SKEW")
	if value := os.Getenv("INGEST_SECRETS"); value != "" {
		secrets, err := parsePairs(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: INGEST_SECRETS: %w", err))
		}
		cfg.Auth.IngestSecrets = secrets
	}

	str(&cfg.Ingest.Mode, "INGEST_MODE")
	num(&cfg.Ingest.Workers, "INGEST_WORKERS")
	dur(&cfg.Ingest.BatchTimeout, "INGEST_BATCH_TIMEOUT")
	num(&cfg.Ingest.MaxBatchSize, "INGEST_MAX_BATCH_SIZE")
	dur(&cfg.Ingest.MaxFutureSkew, "INGEST_MAX_FUTURE_SKEW")
	dur(&cfg.Ingest.MaxPastAge, "INGEST_MAX_PAST_AGE")
	dur(&cfg.Ingest.EventRetention, "INGEST_EVENT_RETENTION")

	str(&cfg.Evaluator.Locker, "EVALUATOR_LOCKER")

	str(&cfg.Notify.WebhookURL, "ALERT_WEBHOOK_URL")
	str(&cfg.Notify.WebhookToken, "ALERT_WEBHOOK_TOKEN")
	str(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	if value := os.Getenv("TELEGRAM_CHAT_ID"); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: TELEGRAM_CHAT_ID: %w", err))
		} else {
			cfg.Notify.TelegramChatID = parsed
		}
	}
	str(&cfg.Notify.Template, "ALERT_NOTIFY_TEMPLATE")
	num(&cfg.Notify.QueueSize, "ALERT_NOTIFY_QUEUE_SIZE")
	num(&cfg.Notify.Workers, "ALERT_NOTIFY_WORKERS")
	num(&cfg.Notify.MaxAttempts, "ALERT_NOTIFY_MAX_ATTEMPTS")
	dur(&cfg.Notify.SendTimeout, "ALERT_NOTIFY_TIMEOUT")
	dur(&cfg.Notify.Cooldown, "ALERT_NOTIFY_COOLDOWN")
	dur(&cfg.Notify.DedupeWindow, "ALERT_NOTIFY_DEDUP_WINDOW")

	num(&cfg.Partitions.MonthsAhead, "PARTITION_MONTHS_AHEAD")
	num(&cfg.Partitions.RetentionMonths, "PARTITION_RETENTION_MONTHS")
	str(&cfg.Partitions.ArchiveDir, "PARTITION_ARCHIVE_DIR")
	return errors.Join(errs...)
}

// parsePairs reads "org-a=secret,org-b=secret".
func parsePairs(value string) (map[string]string, error) {
	result := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, secret, ok := strings.Cut(part, "=")
		if !ok || key == "" || secret == "" {
			return nil, fmt.Errorf("malformed pair %q", part)
		}
		result[strings.TrimSpace(key)] = strings.TrimSpace(secret)
	}
	return result, nil
}
