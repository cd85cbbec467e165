package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/taskcrew/internal/api"
	"github.com/nidhogg/taskcrew/internal/cache"
	"github.com/nidhogg/taskcrew/internal/config"
	"github.com/nidhogg/taskcrew/internal/crew"
	"github.com/nidhogg/taskcrew/internal/events"
	"github.com/nidhogg/taskcrew/internal/execution"
	"github.com/nidhogg/taskcrew/internal/gateway"
	"github.com/nidhogg/taskcrew/internal/mq"
	"github.com/nidhogg/taskcrew/internal/provider"
	"github.com/nidhogg/taskcrew/internal/store"
	"github.com/nidhogg/taskcrew/internal/task"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/taskcrew.json"
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting taskcrew...", zap.String("config", cfgPath), zap.String("env", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("taskcrew stopped with error", zap.Error(err))
	}
	logger.Info("taskcrew stopped")
}

// loadConfig reads path, falling back to the built-in defaults when the file
// does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := config.Defaults()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		zc := zap.NewDevelopmentConfig()
		if lvl, perr := zap.ParseAtomicLevel(cfg.Server.LogLevel); perr == nil {
			zc.Level = lvl
		}
		logger, err = zc.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Persistence
	var repo task.Repository = store.NewMemory()
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		if err := store.Migrate(ctx, dsn, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pg, err := store.New(ctx, dsn, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		repo = pg
	} else {
		logger.Warn("no PostgreSQL DSN configured, tasks are kept in memory")
	}
	templates, err := cache.NewTemplates(repo, cfg.TemplateCache(), logger)
	if err != nil {
		return err
	}
	defer templates.Close()
	repo = templates

	// Providers
	router := provider.NewRouter(cfg.ModelBindings(), cfg.DefaultModel, logger)
	for _, pc := range cfg.ProviderConfigs() {
		p, err := provider.New(pc, logger)
		if err != nil {
			logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
	}
	gen := provider.NewGenerator(router, logger)

	// Events
	bus := events.NewBus(256, logger)
	publishers := []events.Publisher{bus}
	var feed events.Source = bus
	if url := cfg.Database.Redis.URL; url != "" {
		rb, err := events.NewRedisBus(url, logger)
		if err != nil {
			logger.Warn("Redis unavailable, events stay in process", zap.Error(err))
		} else {
			defer rb.Close()
			publishers = append(publishers, rb)
			feed = rb
		}
	}
	var nats *mq.Server
	if cfg.NATS.URL != "" {
		nats, err = mq.Connect(ctx, mq.Config{URL: cfg.NATS.URL, Stream: cfg.NATS.Stream, Env: cfg.NATS.Env}, logger)
		if err != nil {
			return err
		}
		defer nats.Close()
		publishers = append(publishers, nats)
	}
	pub := events.Multi(publishers...)

	// Tasks and executions
	tasks := task.NewService(repo, pub, logger)
	if n, err := tasks.SeedTemplates(ctx); err != nil {
		logger.Warn("template seeding failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("seeded prompt templates", zap.Int("count", n))
	}

	registry := execution.NewRegistry()
	queue := execution.NewRetryQueue(cfg.Executor.RetryQueueSize, cfg.Executor.RetryWorkers, logger)
	executor := execution.NewExecutor(repo, gen, registry, queue, pub, logger,
		execution.Options{DefaultTemperature: cfg.Executor.DefaultTemperature})
	tracker := execution.NewTracker(repo, registry, logger)
	autoRetry := execution.NewAutoRetry(tracker, executor, cfg.Executor.AutoRetry, cfg.Executor.MaxAttempts, logger)
	crews := crew.NewManager(gen, logger)

	// Notifications
	gw := gateway.NewGateway(logger)
	rest := gateway.NewRESTAdapter(logger)
	gw.Register(rest)
	if sc := cfg.Gateway.Slack; sc.Enabled {
		gw.Register(gateway.NewSlackAdapter(sc.BotToken, sc.Channel, logger))
	}
	if dc := cfg.Gateway.Discord; dc.Enabled {
		discord := gateway.NewDiscordAdapter(dc.BotToken, dc.Channel, logger)
		if dc.WebhookURL != "" {
			if err := discord.SetWebhook(dc.WebhookURL); err != nil {
				logger.Warn("ignoring Discord webhook", zap.Error(err))
			}
		}
		gw.Register(discord)
	}
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}
	defer gw.Close()
	notifier := gateway.NewNotifier(gw, gateway.DefaultHistorySize, logger)
	crews.OnAgentCreated(func(a *crew.Agent) {
		gw.SetPersona(a.ID, &gateway.AgentPersona{Name: a.Role, Emoji: ":robot_face:"})
	})

	// HTTP
	root := chi.NewRouter()
	root.Mount("/api/notifications", gateway.Routes(notifier, rest))
	root.Mount("/", api.NewHandler(tasks, executor, tracker, crews, router, logger).Router())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(gctx, executor.ProcessRetry) })
	g.Go(func() error {
		if _, err := executor.ResumePending(gctx); err != nil {
			logger.Warn("resuming pending executions failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error { return notifier.Run(gctx, feed) })
	if nats != nil {
		// Failed events come back through JetStream, which applies auto retry.
		handlers := mq.NewHandlers(tasks, executor, tracker, autoRetry, logger)
		g.Go(func() error { return nats.Run(gctx, handlers) })
	} else {
		g.Go(func() error {
			autoRetry.Run(gctx, bus)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("taskcrew listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down taskcrew...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
