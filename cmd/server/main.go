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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mygudou/gitlab-copilot-sub001/internal/classifier"
	"github.com/mygudou/gitlab-copilot-sub001/internal/cleanup"
	"github.com/mygudou/gitlab-copilot-sub001/internal/config"
	"github.com/mygudou/gitlab-copilot-sub001/internal/event"
	"github.com/mygudou/gitlab-copilot-sub001/internal/executor"
	"github.com/mygudou/gitlab-copilot-sub001/internal/metrics"
	"github.com/mygudou/gitlab-copilot-sub001/internal/mongostore"
	"github.com/mygudou/gitlab-copilot-sub001/internal/platform"
	"github.com/mygudou/gitlab-copilot-sub001/internal/processor"
	"github.com/mygudou/gitlab-copilot-sub001/internal/progressbus"
	"github.com/mygudou/gitlab-copilot-sub001/internal/provider"
	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
	"github.com/mygudou/gitlab-copilot-sub001/internal/tenant"
	"github.com/mygudou/gitlab-copilot-sub001/internal/tenantctx"
	"github.com/mygudou/gitlab-copilot-sub001/internal/vault"
	"github.com/mygudou/gitlab-copilot-sub001/internal/webhook"
	"github.com/mygudou/gitlab-copilot-sub001/internal/workspace"
	"github.com/mygudou/gitlab-copilot-sub001/internal/workspacemeta"
)

// reporterAdapter bridges cleanup.SubsystemReporter to webhook.HealthReporter
// without either package importing the other.
type reporterAdapter struct {
	health *webhook.HealthReporter
}

func (a reporterAdapter) ReportSubsystem(name string, status cleanup.SubsystemStatus) {
	a.health.ReportSubsystem(name, webhook.SubsystemStatus{
		LastRunAt: status.LastRunAt,
		LastError: status.LastError,
		Detail:    status.Detail,
	})
}

// meteredDispatcher records the events-received counter around the real
// dispatcher, keeping internal/webhook free of a direct metrics import.
type meteredDispatcher struct {
	next webhook.Dispatcher
	m    *metrics.Metrics
}

func (d meteredDispatcher) Enqueue(ctx context.Context, we processor.WebhookEvent) bool {
	d.m.RecordReceived(string(we.Kind))
	return d.next.Enqueue(ctx, we)
}

// meteredProcessor wraps processor.Processor with outcome and duration
// recording, again to keep internal/processor free of a metrics import.
type meteredProcessor struct {
	next webhook.EventProcessor
	m    *metrics.Metrics
}

func (p meteredProcessor) Process(ctx context.Context, we processor.WebhookEvent) error {
	err := p.next.Process(ctx, we)
	if err != nil {
		p.m.RecordError("process")
		p.m.RecordProcessed(string(we.Kind), "error")
		return err
	}
	p.m.RecordProcessed(string(we.Kind), "processed")
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}
	logger := cfg.NewLogger()
	logger.Info("starting gitlab copilot dispatcher")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Persistence ---

	var tenantStore tenant.Store
	var eventStore event.Store
	var metaStore workspacemeta.Store
	var secretVault *vault.Vault

	if cfg.Mongo.URI != "" {
		mongoClient, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.DB)
		if err != nil {
			logger.Error("mongo connect failed", "error", err)
			os.Exit(1)
		}
		defer mongoClient.Close(context.Background())
		if err := mongoClient.EnsureIndexes(ctx); err != nil {
			logger.Warn("ensuring mongo indexes failed", "error", err)
		}

		secretVault, err = vault.New(cfg.Vault.EncryptionKey)
		if err != nil {
			logger.Error("vault init failed", "error", err)
			os.Exit(1)
		}

		tenantStore = tenant.NewMongoStore(mongoClient)
		eventStore = event.NewMongoStore(mongoClient)
		metaStore = workspacemeta.NewMongoStore(mongoClient)
	} else {
		logger.Warn("MONGODB_URI not set, running in legacy single-tenant mode with in-memory stores")
		eventStore = event.NewMemoryStore()
		metaStore = workspacemeta.NewMemoryStore()
	}

	var sessionStore session.Store
	if cfg.Redis.Enabled {
		redisStore, err := session.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Session.MaxSessions)
		if err != nil {
			logger.Error("redis session store init failed", "error", err)
			os.Exit(1)
		}
		sessionStore = redisStore
	} else {
		sessionStore = session.NewMemoryStore(cfg.Session.MaxSessions)
	}

	legacy := tenant.LegacyCredentials{
		BaseURL:       cfg.Legacy.GitLabBaseURL,
		Token:         cfg.Legacy.GitLabToken,
		WebhookSecret: cfg.Legacy.WebhookSecret,
	}
	var secrets tenant.Secrets
	if secretVault != nil {
		secrets = secretVault
	}
	resolver := tenant.NewResolver(tenantStore, secrets, legacy)

	// --- AI execution pipeline ---

	adapters := provider.NewRegistry(provider.NewClaude(), provider.NewCodex())
	gitRunner := workspace.NewRunner()
	workspaceMgr := workspace.NewManager(cfg.Workspace.WorkDir, gitRunner, metaStore, logger)

	buildEnv := provider.BuildEnvInput{
		AnthropicBaseURL:   cfg.AI.AnthropicBaseURL,
		AnthropicAuthToken: cfg.AI.AnthropicAuthToken,
	}
	exec := executor.New(adapters, workspaceMgr, buildEnv, cfg.AI.ExecutionTimeout)

	cls := classifier.New(sessionStore)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	platformFactory := func(t tenantctx.Tenant) processor.PlatformClient {
		return platform.FromTenant(t, httpClient)
	}

	busFactory := buildBusFactory(ctx, cfg, logger)

	proc := processor.New(cls, sessionStore, workspaceMgr, exec, platformFactory, eventStore, busFactory, logger)

	// --- Observability ---

	reg := prometheus.NewRegistry()
	metricsReg := metrics.New(reg)

	health := webhook.NewHealthReporter()
	health.SetSessionsEnabled(cfg.Session.Enabled)
	health.SetFeatureFlag("redis_sessions", cfg.Redis.Enabled)
	health.SetFeatureFlag("mongo_persistence", cfg.Mongo.URI != "")
	adapter := reporterAdapter{health: health}

	// --- Background dispatch ---

	inmemoryDispatcher := webhook.NewTaskDispatcher(meteredProcessor{next: proc, m: metricsReg}, cfg.Dispatch.Workers, 1000, logger)

	var dispatcher webhook.Dispatcher = inmemoryDispatcher
	shutdownDispatch := inmemoryDispatcher.Shutdown
	if cfg.Dispatch.Backend == "cloudtasks" {
		cloudDispatcher, err := webhook.NewCloudTaskDispatcher(ctx, cfg.Dispatch.GCPProjectID, cfg.Dispatch.GCPLocationID, cfg.Dispatch.GCPQueueID, cfg.Dispatch.TaskTargetURL, cfg.Dispatch.TaskServiceToken, inmemoryDispatcher, logger)
		if err != nil {
			logger.Error("cloud tasks dispatcher init failed, staying on in-memory dispatch", "error", err)
		} else {
			// CloudTaskDispatcher.Shutdown also drains the in-memory
			// fallback, so only the outer shutdown needs deferring.
			dispatcher = cloudDispatcher
			shutdownDispatch = cloudDispatcher.Shutdown
		}
	}
	defer shutdownDispatch()

	metered := meteredDispatcher{next: dispatcher, m: metricsReg}

	go sampleGauges(ctx, sessionStore, inmemoryDispatcher, cfg.Workspace.WorkDir, metricsReg)

	// --- Cleanup services ---

	if cfg.Session.Enabled {
		sessionCleaner := cleanup.NewSessionCleaner(sessionStore, cfg.Session.MaxIdleTime, cfg.Session.CleanupInterval, adapter, logger)
		go sessionCleaner.Run(ctx)
		defer sessionCleaner.Stop()
	}

	workspaceCleaner := cleanup.NewWorkspaceCleaner(cfg.Workspace.WorkDir, metaStore, cfg.Workspace.MaxIdleTime, cfg.Workspace.CleanupInterval, adapter, logger)
	go workspaceCleaner.Run(ctx)
	defer workspaceCleaner.Stop()

	// --- HTTP server ---

	server := webhook.NewServer(resolver, metered, eventStore, health, logger)
	router := server.Router()
	router.Handle("/metrics", metrics.HandlerFor(reg)).Methods(http.MethodGet)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: router}

	go func() {
		logger.Info("webhook receiver listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}

// sampleGauges periodically refreshes the active-session, active-workspace
// and dispatch-queue-depth gauges so /metrics reflects current occupancy
// between cleanup sweeps.
func sampleGauges(ctx context.Context, sessions session.Store, dispatcher *webhook.TaskDispatcher, workDir string, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetActiveSessions(sessions.Stats(ctx).Total)
			m.SetDispatchQueueDepth(dispatcher.QueueDepth())
			if entries, err := os.ReadDir(workDir); err == nil {
				m.SetActiveWorkspaces(len(entries))
			}
		}
	}
}

func buildBusFactory(ctx context.Context, cfg *config.Config, logger *slog.Logger) processor.BusFactory {
	if cfg.Dispatch.PubSubEnabled {
		return func(handler progressbus.Handler) processor.ProgressBus {
			bus, err := progressbus.NewPubSubBus(ctx, cfg.Dispatch.PubSubProjectID, cfg.Dispatch.PubSubTopicID, handler, logger)
			if err != nil {
				logger.Error("pubsub bus init failed, falling back to in-memory", "error", err)
				return progressbus.NewMemoryBus(handler, logger)
			}
			return bus
		}
	}
	return func(handler progressbus.Handler) processor.ProgressBus {
		return progressbus.NewMemoryBus(handler, logger)
	}
}
