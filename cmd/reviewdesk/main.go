package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/reviewdesk/internal/app"
	"github.com/odyssey-erp/reviewdesk/internal/desk"
	deskhttp "github.com/odyssey-erp/reviewdesk/internal/desk/http"
	"github.com/odyssey-erp/reviewdesk/internal/observability"
	"github.com/odyssey-erp/reviewdesk/internal/platform/cache"
	"github.com/odyssey-erp/reviewdesk/internal/shared"
	"github.com/odyssey-erp/reviewdesk/internal/view"
	"github.com/odyssey-erp/reviewdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "reviewdesk_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	catalog, err := desk.LoadCatalog(cfg.DeskOptionsFile)
	if err != nil {
		logger.Error("load option catalog", slog.String("path", cfg.DeskOptionsFile), slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	backend := desk.NewMockBackend(cfg.DeskMockLatency, logger)

	var submitter desk.DecisionSubmitter = backend
	var jobHandler *jobs.Handler
	if cfg.DeskSubmitter == app.SubmitterQueue {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		jobClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("asynq inspector close", slog.Any("error", err))
			}
		}()
		submitter = jobs.NewDecisionQueue(jobClient)
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	deskService := desk.NewService(newStore(cfg, redisClient), backend, submitter, desk.ServiceConfig{
		Catalog:        catalog,
		Logger:         logger,
		Recorder:       metrics,
		LoadingTimeout: cfg.DeskLoadingTimeout,
	})
	deskHandler := deskhttp.NewHandler(logger, deskService, catalog, templates, csrfManager)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		DeskHandler:    deskHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server starting",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.DeskStore),
			slog.String("submitter", cfg.DeskSubmitter),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("http server shutting down")
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func newStore(cfg *app.Config, client *redis.Client) desk.Store {
	if cfg.DeskStore == app.StoreMemory {
		return desk.NewMemoryStore()
	}
	return desk.NewRedisStore(client, cfg.DeskStateTTL)
}
