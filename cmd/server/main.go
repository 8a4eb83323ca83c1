package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"campusrun/internal/api"
	"campusrun/internal/api/handlers"
	"campusrun/internal/auth"
	"campusrun/internal/broker/rabbitmq"
	"campusrun/internal/config"
	"campusrun/internal/geo"
	"campusrun/internal/logging"
	"campusrun/internal/mapsvc"
	"campusrun/internal/positioning"
	"campusrun/internal/repository"
	"campusrun/internal/repository/memory"
	"campusrun/internal/repository/postgres"
	"campusrun/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, addr, serviceName string

	flagSet := pflag.NewFlagSet("campusrun", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file (defaults are used when empty)")
	flagSet.StringVar(&addr, "addr", "", "listen address, overrides server.port")
	flagSet.StringVar(&serviceName, "service-name", "", "service name attached to every log line")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Port = addr
	}
	if serviceName != "" {
		cfg.Log.ServiceName = serviceName
	}

	log := logging.New(cfg.Log.ServiceName, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	// Initialize repositories
	taskRepo := memory.NewTaskRepository()
	lockManager := memory.NewLockManager()
	defer lockManager.Stop()

	stateStore, pool, err := openStateStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	if cfg.RabbitMQ.URL != "" {
		publisher, err := rabbitmq.Dial(cfg.RabbitMQ, logging.Component(log, "rabbitmq"))
		if err != nil {
			return err
		}
		defer publisher.Close()
		stateStore = repository.NewFanoutStore(stateStore, publisher)
	}

	// Initialize the open-task index
	index := geo.NewTaskIndex(cfg.Geo.GeohashPrecision)

	// Collaborators
	hub := positioning.NewHub()
	maps := newMapProvider(cfg.MapServices)

	// Initialize services
	pricingService := services.NewPricingService(cfg.Pricing, maps, logging.Component(log, "pricing"))
	bundlingService := services.NewBundlingService(cfg.Bundling, maps, logging.Component(log, "bundling"))
	trackingService := services.NewTrackingService(
		taskRepo,
		stateStore,
		lockManager,
		hub,
		hub,
		maps,
		cfg.Tracking,
		logging.Component(log, "tracking"),
	)
	taskService := services.NewTaskService(
		taskRepo,
		index,
		pricingService,
		bundlingService,
		trackingService,
		lockManager,
		cfg.Bundling,
		logging.Component(log, "tasks"),
	)
	if err := taskService.RebuildIndex(ctx); err != nil {
		return err
	}

	// Initialize handlers
	router := api.NewRouter(
		tokens,
		handlers.NewPricingHandler(pricingService),
		handlers.NewBundleHandler(bundlingService, taskService),
		handlers.NewTaskHandler(taskService),
		handlers.NewTrackingHandler(trackingService, logging.Component(log, "tracking_ws")),
		handlers.NewPositionHandler(hub),
	)

	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinMiddleware(log))
	router.Setup(engine)

	// No WriteTimeout: websocket watchers keep their connection open.
	srv := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     engine,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting campusrun server", "addr", cfg.Server.Port)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err.Error())
	}
	trackingService.Shutdown(shutdownCtx)
	return nil
}

// openStateStore picks the published tracking state backend. With a DSN the
// state lives in Postgres and is fanned out across instances by LISTEN/NOTIFY.
func openStateStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.TrackingStateStore, *pgxpool.Pool, error) {
	if cfg.Postgres.DSN == "" {
		return memory.NewStateStore(), nil, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres, logging.Component(log, "postgres"))
	if err != nil {
		return nil, nil, err
	}
	store := postgres.NewStateStore(pool, logging.Component(log, "postgres"))
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	go store.Listen(ctx)
	return store, pool, nil
}

// newMapProvider only hands configured clients to the provider, so a missing
// URL reads as "service unavailable" rather than a typed nil.
func newMapProvider(cfg config.MapServicesConfig) mapsvc.Provider {
	var (
		geocoder mapsvc.Geocoder
		router   mapsvc.Router
	)
	if cfg.GeocoderURL != "" || cfg.RouterURL != "" {
		client := mapsvc.NewClient(cfg.GeocoderURL, cfg.RouterURL, cfg.UserAgent, cfg.Timeout)
		if cfg.GeocoderURL != "" {
			geocoder = client
		}
		if cfg.RouterURL != "" {
			router = client
		}
	}
	return mapsvc.NewProvider(geocoder, router)
}
