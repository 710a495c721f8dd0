package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"orderexec/internal/api"
	"orderexec/internal/broker"
	"orderexec/internal/config"
	"orderexec/internal/engine"
	"orderexec/internal/events"
	"orderexec/internal/feed"
	"orderexec/internal/registry"
	"orderexec/internal/repository"
	"orderexec/internal/routing"
	"orderexec/internal/validation"
	"orderexec/internal/websocket"
	"orderexec/pkg/ratelimit"
	"orderexec/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Брокеры: адаптеры, лимиты запросов, метрики качества
	prices := engine.NewPriceCache(cfg.Engine.Shards)
	book := registry.NewBrokers()
	limits := ratelimit.NewSet()
	clients := make([]broker.Client, 0, len(cfg.Brokers))
	for _, spec := range cfg.Brokers {
		c, err := broker.New(spec.ClientConfig(), prices)
		if err != nil {
			logger.Fatal("failed to create broker client", utils.Broker(spec.Name), utils.Err(err))
		}
		limits.Configure(spec.Name, spec.RateLimit, spec.Burst)
		book.Register(spec.Performance, spec.MaxInFlight)
		clients = append(clients, c)
		logger.Info("broker registered", utils.Broker(spec.Name), utils.String("kind", spec.Kind))
	}

	deps := &api.Dependencies{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		APIToken:       cfg.Server.APIToken,
	}

	// Получатели событий
	sinks := []events.Sink{events.NewLogSink(logger)}

	if cfg.Database.Enabled {
		db, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("failed to connect to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()), utils.Err(err))
		}
		defer db.Close()
		logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

		journal := repository.NewEventRepository(db)
		if err := journal.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to prepare event journal", utils.Err(err))
		}
		sinks = append(sinks, events.NewJournal(journal))
		deps.Journal = journal
		go cleanJournal(ctx, journal, cfg.Database.JournalRetention, logger)
	}

	var hub *websocket.Hub
	if cfg.Events.StreamEnabled {
		hub = websocket.NewHub(websocket.Config{
			Buffer:         cfg.Events.StreamBuffer,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, logger)
		sinks = append(sinks, hub)
		deps.Stream = hub
		deps.StreamHandler = hub.ServeWS
	}

	publisher := events.NewAsyncPublisher(cfg.Events.Buffer, cfg.Events.WriteTimeout, logger, sinks...)

	eng := engine.New(engineConfig(cfg), engine.Deps{
		Brokers: book,
		Clients: clients,
		Limits:  limits,
		Prices:  prices,
		Validator: validation.New(validation.WithBrokers(func(name string) bool {
			_, ok := book.Get(name)
			return ok
		})),
		Publisher: publisher,
		Logger:    logger,
	})
	deps.Engine = eng

	var quotes *feed.Client
	if cfg.Feed.URL != "" {
		quotes = feed.New(feedConfig(cfg.Feed), eng, logger)
		deps.Feed = quotes
	} else {
		logger.Warn("FEED_URL is empty, price-triggered strategies wait for ticks that never come")
	}

	// Публикатор и поток событий останавливаются после движка
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	go publisher.Run(pubCtx)
	streamCtx, stopStream := context.WithCancel(context.Background())
	if hub != nil {
		go hub.Run(streamCtx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	if quotes != nil {
		g.Go(func() error { return quotes.Run(gctx) })
	}

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(deps, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", utils.String("addr", server.Addr), utils.Int("brokers", len(clients)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", utils.Err(err))
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", utils.Err(err))
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("engine stopped with error", utils.Err(err))
	}

	stopPublisher()
	select {
	case <-publisher.Done():
	case <-shutdownCtx.Done():
		logger.Warn("event publisher did not drain in time")
	}
	stopStream()

	logger.Info("server exited", utils.Int64("active_orders", eng.ActiveCount()))
}

// engineConfig переносит параметры из конфигурации в движок
func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()

	ec.Shards = cfg.Engine.Shards
	ec.ShardBuffer = cfg.Engine.ShardBuffer
	ec.SweepInterval = cfg.Engine.SweepInterval
	ec.Retention = cfg.Engine.Retention
	ec.WorkerPool = cfg.Gateway.WorkerPool
	if loc, err := time.LoadLocation(cfg.Engine.Timezone); err == nil {
		ec.Location = loc
	}

	ec.Routing.IcebergQuantityThreshold = cfg.Routing.IcebergQuantityThreshold
	ec.Routing.SplitQuantityThreshold = cfg.Routing.SplitQuantityThreshold
	ec.Routing.SplitValueThreshold = cfg.Routing.SplitValueThreshold
	ec.Routing.MaxSplits = cfg.Routing.MaxSplits
	ec.Routing.MinSplitSize = cfg.Routing.MinSplitSize
	ec.Routing.IcebergPacing = cfg.Routing.IcebergPacing
	ec.Routing.DynamicPacing = cfg.Routing.DynamicPacing
	ec.Routing.LiquidityPacing = cfg.Routing.LiquidityPacing
	ec.Routing.VolatileSymbols = cfg.Routing.VolatileSymbols

	ec.Eligibility = routing.Eligibility{
		MinHealth:              cfg.Eligibility.MinHealth,
		MaxConsecutiveFailures: cfg.Eligibility.MaxConsecutiveFailures,
		MaxLoad:                cfg.Eligibility.MaxLoad,
	}

	ec.Gateway.CallTimeout = cfg.Gateway.CallTimeout
	ec.Gateway.MaxConcurrent = cfg.Gateway.MaxConcurrent
	ec.Gateway.BreakerFailures = cfg.Gateway.BreakerFailures
	ec.Gateway.BreakerTimeout = cfg.Gateway.BreakerTimeout
	ec.Gateway.BreakerInterval = cfg.Gateway.BreakerInterval
	ec.Gateway.HalfOpenRequests = cfg.Gateway.HalfOpenRequests
	// Первая попытка плюс повторы
	ec.Gateway.CancelRetry.Attempts = cfg.Gateway.CancelRetries + 1

	ec.Strategy.TWAPSlices = cfg.Strategy.TWAPSlices
	ec.Strategy.TWAPHorizon = cfg.Strategy.TWAPHorizon
	ec.Strategy.MaxSlices = cfg.Strategy.MaxSlices
	ec.Strategy.VWAPParticipation = cfg.Strategy.VWAPParticipation
	ec.Strategy.VWAPMinChild = cfg.Strategy.VWAPMinChild

	return ec
}

func feedConfig(fc config.FeedConfig) feed.Config {
	c := feed.DefaultConfig()
	c.URL = fc.URL
	c.Symbols = fc.Symbols
	c.Reconnect.InitialDelay = fc.ReconnectDelay
	c.Reconnect.MaxDelay = fc.MaxReconnectDelay
	c.PingInterval = fc.PingInterval
	c.ReadTimeout = fc.ReadTimeout
	return c
}

// initDatabase создает подключение к базе данных журнала
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Журнал пишет один публикатор, пул небольшой
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// journalCleaner - журнал с удалением старых записей
type journalCleaner interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// cleanJournal раз в час удаляет события старше retention
func cleanJournal(ctx context.Context, journal journalCleaner, retention time.Duration, logger *utils.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := journal.DeleteOlderThan(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("event journal cleanup failed", utils.Err(err))
		case n > 0:
			logger.Info("event journal cleaned", utils.Int64("deleted", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
