package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	alertapp "freshtrack-cloud/internal/alerts/application"
	alerts "freshtrack-cloud/internal/alerts/domain"
	alertpostgres "freshtrack-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "freshtrack-cloud/internal/alerts/interfaces/http"
	alertnotify "freshtrack-cloud/internal/alerts/notify"
	"freshtrack-cloud/internal/audit"
	"freshtrack-cloud/internal/auth"
	"freshtrack-cloud/internal/config"
	"freshtrack-cloud/internal/evaluator"
	ingestapp "freshtrack-cloud/internal/ingest/application"
	ingestpostgres "freshtrack-cloud/internal/ingest/infrastructure/postgres"
	ingesthttp "freshtrack-cloud/internal/ingest/interfaces/http"
	"freshtrack-cloud/internal/observability/metrics"
	partitionapp "freshtrack-cloud/internal/partitions/application"
	"freshtrack-cloud/internal/partitions/infrastructure/archive"
	partitionpostgres "freshtrack-cloud/internal/partitions/infrastructure/postgres"
	partitionhttp "freshtrack-cloud/internal/partitions/interfaces/http"
	readingpostgres "freshtrack-cloud/internal/readings/infrastructure/postgres"
	readinghttp "freshtrack-cloud/internal/readings/interfaces/http"
	"freshtrack-cloud/internal/reports"
	"freshtrack-cloud/internal/scheduler"
	unitpostgres "freshtrack-cloud/internal/units/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	unitRepo := unitpostgres.NewUnitRepository(db)
	readingRepo := readingpostgres.NewReadingRepository(db)
	alertRepo := alertpostgres.NewAlertRepository(db)
	ruleRepo := alertpostgres.NewRuleRepository(db, alertpostgres.WithRuleAudit(auditRepo))
	orgChecker := auth.NewUnitOrgChecker(unitRepo)

	channels, err := buildChannels(cfg.Notify)
	if err != nil {
		logger.Fatalf("notify channel error: %v", err)
	}
	alertBroker := alerthttp.NewSSEBroker()
	notifiers := []alerts.Notifier{alertBroker}
	var dispatcher *alertnotify.Dispatcher
	if len(channels) > 0 {
		dispatcherOpts := []alertnotify.Option{
			alertnotify.WithUnits(unitRepo),
			alertnotify.WithQueueSize(cfg.Notify.QueueSize),
			alertnotify.WithWorkers(cfg.Notify.Workers),
			alertnotify.WithBackoff(cfg.Notify.BackoffBase, cfg.Notify.BackoffMax, cfg.Notify.MaxAttempts),
			alertnotify.WithSendTimeout(cfg.Notify.SendTimeout),
			alertnotify.WithCooldown(cfg.Notify.Cooldown),
			alertnotify.WithDedupeWindow(cfg.Notify.DedupeWindow),
			alertnotify.WithLogger(logger),
		}
		if cfg.Notify.Template != "" {
			tpl, err := alertnotify.NewTemplate(cfg.Notify.Template)
			if err != nil {
				logger.Fatalf("notify template error: %v", err)
			}
			dispatcherOpts = append(dispatcherOpts, alertnotify.WithTemplate(tpl))
		}
		for _, named := range channels {
			dispatcherOpts = append(dispatcherOpts, alertnotify.WithChannel(named.name, named.channel))
		}
		dispatcher, err = alertnotify.NewDispatcher(dispatcherOpts...)
		if err != nil {
			logger.Fatalf("notify dispatcher error: %v", err)
		}
		dispatcher.Start(ctx)
		notifiers = append(notifiers, dispatcher)
	} else {
		logger.Printf("notify: no delivery channels configured; alerts reach the event stream only")
	}
	notifier := alertnotify.NewMultiNotifier(notifiers...)

	var locker evaluator.Locker = evaluator.NewKeyedLocker()
	if cfg.Evaluator.Locker == "advisory" {
		locker = unitpostgres.NewAdvisoryLocker(db, logger)
	}
	eval, err := evaluator.New(unitRepo, alertRepo, ruleRepo,
		evaluator.WithNotifier(notifier),
		evaluator.WithLocker(locker),
		evaluator.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("evaluator error: %v", err)
	}

	eventLedger := ingestpostgres.NewEventLedger(db)
	pipeline, err := ingestapp.NewPipeline(readingRepo, unitRepo,
		ingestapp.WithEvaluator(eval),
		ingestapp.WithEventLedger(eventLedger),
		ingestapp.WithLogger(logger),
		ingestapp.WithMode(ingestapp.ParseMode(cfg.Ingest.Mode)),
		ingestapp.WithWorkers(cfg.Ingest.Workers),
		ingestapp.WithBatchTimeout(cfg.Ingest.BatchTimeout),
		ingestapp.WithTimeBounds(cfg.Ingest.MaxFutureSkew, cfg.Ingest.MaxPastAge),
		ingestapp.WithMaxBatchSize(cfg.Ingest.MaxBatchSize),
	)
	if err != nil {
		logger.Fatalf("ingest pipeline error: %v", err)
	}
	ingestHandler, err := ingesthttp.NewHandler(pipeline, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	credentials := auth.NewCredentialStore(db)
	apiKeys := auth.NewAPIKeyAuthenticator(credentials, cfg.Auth.APIKeyCacheTTL, logger)
	ingestSecrets := auth.FallbackSecrets{credentials, auth.StaticSecrets(cfg.Auth.IngestSecrets)}
	webhookAuth := auth.NewSignatureMiddleware(ingestSecrets, cfg.Auth.WebhookMaxSkew, logger)

	alertService, err := alertapp.NewService(alertRepo,
		alertapp.WithNotifier(notifier),
		alertapp.WithAudit(auditRepo),
		alertapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("alert service error: %v", err)
	}
	alertHandler, err := alerthttp.NewHandler(alertService)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}

	catalog := partitionpostgres.NewCatalog(db)
	partitionOpts := []partitionapp.Option{
		partitionapp.WithOverrides(partitionpostgres.NewOverrideStore(db)),
		partitionapp.WithOpsAlerter(alertnotify.NewOpsBroadcaster(channelList(channels)...)),
		partitionapp.WithAudit(auditRepo),
		partitionapp.WithLogger(logger),
	}
	if cfg.Partitions.ArchiveDir != "" {
		archiver, err := archive.New(catalog, cfg.Partitions.ArchiveDir,
			archive.WithHeader(partitionpostgres.ExportColumns),
			archive.WithLevel(cfg.Partitions.ArchiveLevel),
		)
		if err != nil {
			logger.Fatalf("partition archiver error: %v", err)
		}
		partitionOpts = append(partitionOpts, partitionapp.WithArchiver(archiver))
	}
	partitionManager, err := partitionapp.NewManager(catalog, partitionOpts...)
	if err != nil {
		logger.Fatalf("partition manager error: %v", err)
	}
	partitionHandler, err := partitionhttp.NewHandler(partitionManager, logger)
	if err != nil {
		logger.Fatalf("partition handler error: %v", err)
	}

	reportHandler, err := reports.NewHandler(readingRepo, alertRepo, orgChecker, nil, logger)
	if err != nil {
		logger.Fatalf("report handler error: %v", err)
	}
	unitHandler, err := readinghttp.NewHandler(readingRepo, orgChecker,
		readinghttp.WithReports(reportHandler),
		readinghttp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("unit handler error: %v", err)
	}

	jobs := scheduler.New(logger)
	err = jobs.RegisterMaintenance(cfg.Schedule, scheduler.Maintenance{
		Partitions:      partitionManager,
		Sweeper:         eval,
		Events:          eventLedger,
		MonthsAhead:     cfg.Partitions.MonthsAhead,
		RetentionMonths: cfg.Partitions.RetentionMonths,
		EventRetention:  cfg.Ingest.EventRetention,
	})
	if err != nil {
		logger.Fatalf("scheduler error: %v", err)
	}
	// Partitions for the current month must exist before the first insert.
	if err := jobs.Trigger(ctx, scheduler.JobPartitions); err != nil {
		logger.Printf("initial partition ensure error: %v", err)
	}
	jobs.Start(ctx)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/ingest/v1/readings", apiKeys.Wrap(ingestHandler))
	mux.Handle("/ingest/v1/webhook/", webhookAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(alertBroker))
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/", audit.Middleware(alertHandler))
	mux.Handle("/api/v1/units/", unitHandler)
	mux.Handle("/api/v1/partitions", partitionHandler)
	mux.Handle("/api/v1/partitions/", audit.Middleware(partitionHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
		if err := jobs.Stop(shutdownCtx); err != nil {
			logger.Printf("scheduler stop error: %v", err)
		}
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server error: %v", err)
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
	logger.Printf("shutdown complete")
}

type namedChannel struct {
	name    string
	channel alertnotify.Channel
}

func buildChannels(cfg config.NotifyConfig) ([]namedChannel, error) {
	var channels []namedChannel
	if cfg.WebhookURL != "" {
		channel, err := alertnotify.NewWebhookChannel(cfg.WebhookURL,
			alertnotify.WithHTTPClient(&http.Client{Timeout: cfg.SendTimeout}),
			alertnotify.WithBearerToken(cfg.WebhookToken))
		if err != nil {
			return nil, err
		}
		channels = append(channels, namedChannel{name: "webhook", channel: channel})
	}
	if cfg.TelegramToken != "" {
		channel, err := alertnotify.NewTelegramChannel(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		channels = append(channels, namedChannel{name: "telegram", channel: channel})
	}
	return channels, nil
}

func channelList(named []namedChannel) []alertnotify.Channel {
	list := make([]alertnotify.Channel, 0, len(named))
	for _, entry := range named {
		list = append(list, entry.channel)
	}
	return list
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the alert event stream working behind the logger.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
