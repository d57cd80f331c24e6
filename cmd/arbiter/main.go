package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/arbiterhq/arbiter/internal/adapter/discord"
	"github.com/arbiterhq/arbiter/internal/adapter/email"
	arbhttp "github.com/arbiterhq/arbiter/internal/adapter/http"
	arbnats "github.com/arbiterhq/arbiter/internal/adapter/nats"
	"github.com/arbiterhq/arbiter/internal/adapter/openrouter"
	arbotel "github.com/arbiterhq/arbiter/internal/adapter/otel"
	"github.com/arbiterhq/arbiter/internal/adapter/postgres"
	"github.com/arbiterhq/arbiter/internal/adapter/ristretto"
	"github.com/arbiterhq/arbiter/internal/adapter/slack"
	"github.com/arbiterhq/arbiter/internal/adapter/telegram"
	"github.com/arbiterhq/arbiter/internal/adapter/ws"
	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/domain/council"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
	"github.com/arbiterhq/arbiter/internal/domain/policy"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/port/notifier"
	"github.com/arbiterhq/arbiter/internal/port/opinion"
	"github.com/arbiterhq/arbiter/internal/resilience"
	"github.com/arbiterhq/arbiter/internal/service"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"council_members", len(cfg.Council.Members),
	)

	ctx := context.Background()

	// --- Infrastructure ---

	// Tracing
	shutdownTracer, err := arbotel.InitTracer(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := arbnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Audit read cache
	auditCache, err := ristretto.New(cfg.Cache.AuditMaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("audit cache: %w", err)
	}
	defer auditCache.Close()

	// --- Council opinion sources ---
	llm := openrouter.NewClient(cfg.OpenRouter.BaseURL, cfg.OpenRouter.APIKey)
	llm.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	sources := make([]opinion.Source, 0, len(cfg.Council.Members))
	for _, m := range cfg.Council.Members {
		sources = append(sources, openrouter.NewMember(llm, m.ID, m.Model, m.Role, m.Weight))
	}

	// --- Notification channels ---
	var channels []notifier.Notifier
	if cfg.Notifications.Telegram.BotToken != "" {
		channels = append(channels, telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID))
	}
	if cfg.Notifications.Discord.WebhookURL != "" {
		channels = append(channels, discord.NewNotifier(cfg.Notifications.Discord.WebhookURL))
	}
	if cfg.Notifications.Slack.WebhookURL != "" {
		channels = append(channels, slack.NewNotifier(cfg.Notifications.Slack.WebhookURL))
	}
	if cfg.Notifications.Email.Host != "" {
		channels = append(channels, email.NewNotifier(email.SMTPConfig{
			Host:     cfg.Notifications.Email.Host,
			Port:     cfg.Notifications.Email.Port,
			From:     cfg.Notifications.Email.From,
			Password: cfg.Notifications.Email.Password,
			To:       cfg.Notifications.Email.To,
		}))
	}
	for _, ch := range channels {
		slog.Info("notification channel enabled", "channel", ch.Name())
	}

	// Urgent notifications (pending approvals, limit violations) go to chat
	// channels only; email keeps the slower standard and async traffic.
	routes := map[notifier.Priority][]string{
		notifier.PriorityUrgent: {"telegram", "discord", "slack"},
	}
	notifySvc := service.NewNotifyService(channels, routes)

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewAuditStore(pool)

	auditSvc := service.NewAuditService(store)
	auditSvc.SetCache(auditCache, cfg.Cache.AuditTTL)

	councilSvc := service.NewCouncilService(sources, council.Rules{
		Threshold:  cfg.Council.ConsensusThreshold,
		MinQuorum:  cfg.Council.MinQuorum,
		ChairmanID: cfg.Council.ChairmanID,
	}, cfg.Council.SourceTimeout, cfg.Council.DeliberationTimeout)

	approvalSvc := service.NewApprovalService(cfg.Approval.Timeout, cfg.Approval.ReminderAfter, notifySvc, queue, hub)

	gate := service.NewGate(policy.Limits{
		PerTxUSD:             cfg.Spending.PerTxUSD,
		DailyUSD:             cfg.Spending.DailyUSD,
		WeeklyUSD:            cfg.Spending.WeeklyUSD,
		MultiSigThresholdUSD: cfg.Spending.MultiSigThresholdUSD,
		Whitelist:            cfg.Spending.Whitelist,
	}, store)
	if err := gate.Rehydrate(ctx); err != nil {
		return fmt.Errorf("gate rehydrate: %w", err)
	}
	slog.Info("spending windows rehydrated from audit log")

	engine := service.NewEngine(
		thresholdsFromConfig(cfg.Thresholds),
		councilSvc,
		approvalSvc,
		gate,
		auditSvc,
		notifySvc,
		queue,
		hub,
		cfg.Council.EscalateNoConsensus,
	)

	// --- HTTP ---
	handlers := arbhttp.NewHandlers(engine, approvalSvc, auditSvc, version)

	r := chi.NewRouter()

	r.Use(arbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(arbhttp.SecurityHeaders)
	r.Use(arbhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// WebSocket event stream
	r.Get("/ws", hub.HandleWS)

	arbhttp.MountRoutes(r, handlers, cfg.Approval.ResponderKeyHashes)

	addr := ":" + cfg.Server.Port

	// No WriteTimeout: decision requests legitimately block while a council
	// deliberates or a human approval is pending. Callers bound their own
	// wait with the request's deadline field.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server", "pending_approvals", approvalSvc.PendingCount())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// thresholdsFromConfig converts the string-keyed YAML tier map into the
// typed form the classifier uses.
func thresholdsFromConfig(t config.Thresholds) decision.Thresholds {
	tiers := make(map[decision.ActionType]decision.Tier, len(t.DefaultTiers))
	for action, tier := range t.DefaultTiers {
		tiers[decision.ActionType(action)] = decision.Tier(tier)
	}
	return decision.Thresholds{
		AutoApproveUSD:   t.AutoApproveUSD,
		HumanRequiredUSD: t.HumanRequiredUSD,
		DefaultTiers:     tiers,
	}
}
