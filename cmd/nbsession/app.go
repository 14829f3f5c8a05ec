package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/neurobridge/assessment-session/internal/client"
	"github.com/neurobridge/assessment-session/internal/config"
	"github.com/neurobridge/assessment-session/internal/events"
	"github.com/neurobridge/assessment-session/internal/metrics"
	"github.com/neurobridge/assessment-session/internal/models"
	"github.com/neurobridge/assessment-session/internal/services"
	"github.com/neurobridge/assessment-session/internal/storage"
	"github.com/neurobridge/assessment-session/internal/validator"
	"github.com/neurobridge/assessment-session/pkg"
)

// app holds every long-lived component built from one Config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics      *metrics.Metrics
	publisher    events.EventPublisher
	eventSource  message.Subscriber
	store        *storage.SessionStore
	plan         *models.AssessmentPlan
	backend      *client.Client
	sessions     services.SessionService
	exporter     services.ExportService
	orchestrator services.PhaseOrchestrator

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	kv, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = storage.NewSessionStore(kv, logger,
		storage.WithKeyPrefix(cfg.StoreKeyPrefix),
		storage.WithQuota(cfg.StoreQuotaBytes),
	)

	if err := a.openPublisher(); err != nil {
		a.Close()
		return nil, err
	}

	a.plan, err = config.LoadAssessmentPlan(cfg.PlanFile, cfg.TotalCategories)
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.BackendTimeout}
	a.backend = client.New(cfg.BackendURL, logger,
		client.WithHTTPClient(httpClient),
		client.WithTokenSource(tokenSource(cfg, httpClient, logger)),
		client.WithMetrics(a.metrics),
	)

	v := validator.New()
	a.sessions = services.NewSessionService(a.store, a.publisher, logger, v,
		services.WithSessionMetrics(a.metrics),
		services.WithTotalCategories(a.plan.TotalCategories),
	)
	a.exporter = services.NewExportService(a.sessions, logger)
	a.orchestrator = services.NewPhaseOrchestrator(a.sessions, a.store, a.backend, a.plan, a.publisher, logger, v,
		services.WithOrchestratorMetrics(a.metrics),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (storage.KeyValueStore, error) {
	switch a.cfg.StoreBackend {
	case config.StoreRedis:
		rdb, err := pkg.NewRedisClient(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		a.logger.Info("Using redis session store", "ttl", a.cfg.StoreTTL)
		return storage.NewRedisStore(rdb, a.cfg.StoreTTL), nil

	case config.StorePostgres, config.StoreSQLite:
		db, err := pkg.InitDatabase(a.cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)

		gs := storage.NewGormStore(db)
		if err := gs.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate session store: %w", err)
		}
		a.logger.Info("Using database session store", "backend", a.cfg.StoreBackend)
		return gs, nil

	default:
		a.logger.Info("Using in-memory session store", "quota_bytes", a.cfg.StoreQuotaBytes)
		return storage.NewMemoryStore(a.cfg.StoreQuotaBytes), nil
	}
}

// openPublisher keeps the subscriber side of the in-process channel so that
// serve can consume what it publishes.
func (a *app) openPublisher() error {
	if a.cfg.Events.Enabled && a.cfg.Events.Publisher == "channel" {
		publisher, pubSub := events.NewChannelEventPublisher(events.PublisherConfig{
			TopicName: a.cfg.Events.SessionEventTopic,
			Logger:    a.logger,
		})
		a.publisher = publisher
		a.eventSource = pubSub
		a.closers = append(a.closers, publisher.Close)
		return nil
	}

	publisher, err := a.cfg.Events.CreateEventPublisher(a.logger)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	a.publisher = publisher
	a.closers = append(a.closers, publisher.Close)
	return nil
}

func tokenSource(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) client.TokenSource {
	if cfg.BackendRefreshToken == "" {
		return client.StaticTokenSource(cfg.BackendToken)
	}
	return client.NewRefreshingTokenSource(cfg.BackendURL, cfg.BackendToken, cfg.BackendRefreshToken,
		client.WithRefreshHTTPClient(httpClient),
		client.OnRefreshed(func(string, string) {
			logger.Info("Backend access token refreshed")
		}),
	)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
