package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"freshtrack-cloud/internal/auth"
)

type config struct {
	dsn           string
	baseURL       string
	orgID         string
	unitPrefix    string
	unitCount     int
	seedUnits     bool
	createKey     bool
	apiKey        string
	webhookSecret string
	mode          string
	points        int
	interval      time.Duration
	batchSize     int
	excursionMod  int
}

type simulatedReading struct {
	UnitID      string  `json:"unit_id"`
	DeviceID    string  `json:"device_id"`
	Temperature float64 `json:"temperature"`
	TempUnit    string  `json:"temp_unit"`
	Humidity    float64 `json:"humidity"`
	Battery     int     `json:"battery_percent"`
	RecordedAt  string  `json:"recorded_at"`
	Source      string  `json:"source"`
}

func main() {
	cfg := parseConfig()
	if cfg.unitCount <= 0 {
		log.Fatal("unit-count must be > 0")
	}
	if cfg.points <= 0 {
		log.Fatal("points must be > 0")
	}
	unitIDs := buildUnitIDs(cfg.unitPrefix, cfg.unitCount)
	ctx := context.Background()

	if cfg.seedUnits || cfg.createKey {
		if cfg.dsn == "" {
			log.Fatal("PG_DSN or DATABASE_URL is required to seed units or create keys")
		}
		db, err := sql.Open("pgx", cfg.dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()

		if cfg.seedUnits {
			log.Printf("seeding units: org=%s count=%d", cfg.orgID, cfg.unitCount)
			if err := seedUnits(ctx, db, cfg.orgID, unitIDs); err != nil {
				log.Fatalf("seed units: %v", err)
			}
		}
		if cfg.createKey {
			token, key, err := auth.GenerateAPIKey(cfg.orgID, "simulator")
			if err != nil {
				log.Fatalf("generate api key: %v", err)
			}
			if err := auth.NewCredentialStore(db).CreateAPIKey(ctx, key); err != nil {
				log.Fatalf("store api key: %v", err)
			}
			log.Printf("api key created: id=%s", key.ID)
			fmt.Println(token)
			if cfg.apiKey == "" {
				cfg.apiKey = token
			}
		}
	}

	if cfg.baseURL == "" {
		log.Printf("no base-url; skipping reading push")
		return
	}
	start := time.Now().UTC().Add(-time.Duration(cfg.points) * cfg.interval)
	batch := buildReadings(unitIDs, start, cfg.points, cfg.interval, cfg.excursionMod)
	client := &http.Client{Timeout: 30 * time.Second}

	var err error
	switch cfg.mode {
	case "bulk":
		err = pushBulk(ctx, client, cfg, batch)
	case "webhook":
		err = pushWebhook(ctx, client, cfg, batch)
	default:
		err = fmt.Errorf("unknown mode %q", cfg.mode)
	}
	if err != nil {
		log.Fatalf("push readings: %v", err)
	}
	log.Printf("simulation completed: readings=%d mode=%s", len(batch), cfg.mode)
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "service base URL")
	flag.StringVar(&cfg.orgID, "org-id", envOrDefault("ORG_ID", "org-demo"), "organization owning the simulated units")
	flag.StringVar(&cfg.unitPrefix, "unit-prefix", envOrDefault("UNIT_PREFIX", "unit-sim-"), "unit id prefix")
	flag.IntVar(&cfg.unitCount, "unit-count", envOrInt("UNIT_COUNT", 10), "number of units")
	flag.BoolVar(&cfg.seedUnits, "seed-units", envOrBool("SEED_UNITS", false), "insert the simulated units")
	flag.BoolVar(&cfg.createKey, "create-key", envOrBool("CREATE_KEY", false), "create an ingest api key and print it")
	flag.StringVar(&cfg.apiKey, "api-key", envOrDefault("API_KEY", ""), "ingest api key for bulk mode")
	flag.StringVar(&cfg.webhookSecret, "webhook-secret", envOrDefault("WEBHOOK_SECRET", ""), "org ingest secret for webhook mode")
	flag.StringVar(&cfg.mode, "mode", envOrDefault("MODE", "bulk"), "bulk or webhook")
	flag.IntVar(&cfg.points, "points", envOrInt("POINTS", 24), "readings per unit")
	flag.DurationVar(&cfg.interval, "interval", 5*time.Minute, "spacing between readings of one unit")
	flag.IntVar(&cfg.batchSize, "batch-size", envOrInt("BATCH_SIZE", 500), "readings per bulk request")
	flag.IntVar(&cfg.excursionMod, "excursion-every", envOrInt("EXCURSION_EVERY", 5), "every Nth unit drifts out of range in the second half; 0 disables")
	flag.Parse()
	return cfg
}

func buildUnitIDs(prefix string, count int) []string {
	list := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		list = append(list, fmt.Sprintf("%s%04d", prefix, i))
	}
	return list
}

func seedUnits(ctx context.Context, db *sql.DB, orgID string, unitIDs []string) error {
	const insertSQL = `
INSERT INTO units (id, org_id, name, temp_min_tenths, temp_max_tenths, temp_unit, expected_interval_seconds, status, created_at, updated_at)
VALUES ($1, $2, $3, 320, 410, 'F', 300, 'ok', $4, $4)
ON CONFLICT (id) DO NOTHING`

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	now := time.Now().UTC()
	for i, unitID := range unitIDs {
		if _, err := stmt.ExecContext(ctx, unitID, orgID, fmt.Sprintf("Cooler %d", i+1), now); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// buildReadings produces a gentle daily wave around 36F. Every Nth unit warms
// to about 45F for the second half of the run.
func buildReadings(unitIDs []string, start time.Time, points int, interval time.Duration, excursionMod int) []simulatedReading {
	result := make([]simulatedReading, 0, len(unitIDs)*points)
	for i, unitID := range unitIDs {
		drifting := excursionMod > 0 && (i+1)%excursionMod == 0
		for p := 0; p < points; p++ {
			at := start.Add(time.Duration(p) * interval)
			temp := 36 + 1.5*math.Sin(float64(p)/6)
			if drifting && p >= points/2 {
				temp = 45 + 0.5*math.Sin(float64(p))
			}
			result = append(result, simulatedReading{
				UnitID:      unitID,
				DeviceID:    "sim-" + unitID,
				Temperature: math.Round(temp*10) / 10,
				TempUnit:    "F",
				Humidity:    55,
				Battery:     100 - p%20,
				RecordedAt:  at.Format(time.RFC3339),
				Source:      "simulation",
			})
		}
	}
	return result
}

func pushBulk(ctx context.Context, client *http.Client, cfg config, batch []simulatedReading) error {
	if cfg.apiKey == "" {
		return fmt.Errorf("api-key is required in bulk mode")
	}
	size := cfg.batchSize
	if size <= 0 {
		size = 500
	}
	url := strings.TrimRight(cfg.baseURL, "/") + "/ingest/v1/readings"
	for from := 0; from < len(batch); from += size {
		to := min(from+size, len(batch))
		payload, err := json.Marshal(map[string]any{"readings": batch[from:to]})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+cfg.apiKey)
		if err := send(client, req); err != nil {
			return fmt.Errorf("batch %d-%d: %w", from, to, err)
		}
		log.Printf("pushed readings %d-%d of %d", from+1, to, len(batch))
	}
	return nil
}

func pushWebhook(ctx context.Context, client *http.Client, cfg config, batch []simulatedReading) error {
	if cfg.webhookSecret == "" {
		return fmt.Errorf("webhook-secret is required in webhook mode")
	}
	url := strings.TrimRight(cfg.baseURL, "/") + "/ingest/v1/webhook/" + cfg.orgID
	for i, reading := range batch {
		body, err := json.Marshal(reading)
		if err != nil {
			return err
		}
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Ingest-Timestamp", timestamp)
		req.Header.Set("X-Ingest-Signature", auth.SignPayload([]byte(cfg.webhookSecret), timestamp, body))
		req.Header.Set("X-Ingest-Event-ID", uuid.NewString())
		if err := send(client, req); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

func send(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(body.String()))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
