package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"restaurant-orders/internal/config"
	"restaurant-orders/internal/database"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/memstore"
	"restaurant-orders/internal/messaging"
	"restaurant-orders/internal/metrics"
	"restaurant-orders/internal/mongostore"
	"restaurant-orders/internal/notify"
	"restaurant-orders/internal/services/notification"
	"restaurant-orders/internal/services/order"
	"restaurant-orders/migrations"
)

func main() {
	// Parse command line flags
	var (
		mode       = flag.String("mode", "", "Service mode (order-service, notification-subscriber, migrate)")
		configPath = flag.String("config", "config.yaml", "Path to the YAML config file")
		port       = flag.Int("port", 0, "HTTP port, overrides server.port")
		prefetch   = flag.Int("prefetch", 10, "RabbitMQ prefetch count")
	)
	flag.Parse()

	// Validate required mode flag
	if *mode == "" {
		fmt.Fprintf(os.Stderr, "Error: --mode flag is required\n")
		flag.Usage()
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	log := logger.NewLoggerWithWriter(*mode, os.Stdout, logger.ParseLevel(cfg.Log.Level))
	requestID := logger.GenerateRequestID()

	log.Info("service_started", fmt.Sprintf("Starting %s", *mode), requestID, map[string]interface{}{
		"mode":    *mode,
		"port":    cfg.Server.Port,
		"storage": cfg.Storage.Driver,
	})

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)
		cancel()
	}()

	switch *mode {
	case "order-service":
		err = runOrderService(ctx, cfg, log)
	case "notification-subscriber":
		err = runNotificationSubscriber(ctx, cfg, log, *prefetch)
	case "migrate":
		err = runMigrations(ctx, cfg, log)
	default:
		log.Error("validation_failed", fmt.Sprintf("Unknown mode: %s", *mode), requestID, nil, nil)
		os.Exit(1)
	}
	if err != nil {
		log.Error("service_failed", fmt.Sprintf("%s failed", *mode), requestID, err, nil)
		os.Exit(1)
	}

	log.Info("service_stopped", "Service stopped gracefully", requestID, nil)
}

// runOrderService serves the HTTP API and the realtime websocket endpoint
func runOrderService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	requestID := logger.GenerateRequestID()

	repo, ping, closeStorage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStorage()

	m := metrics.NewServerMetrics("order-service")
	router := notify.NewRouter(log, notify.WithRecorder(m))

	opts := []order.Option{order.WithEventRecorder(m)}
	if ping != nil {
		opts = append(opts, order.WithHealthCheck("storage", ping))
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := messaging.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize messaging: %w", err)
		}
		defer conn.Close()

		log.Info("rabbitmq_connected", "Connected to RabbitMQ", requestID, map[string]interface{}{
			"exchange": conn.Exchange(),
		})

		opts = append(opts,
			order.WithPublisher(messaging.NewPublisher(conn, "order-service", log)),
			order.WithHealthCheck("rabbitmq", func(context.Context) error {
				if conn.IsClosed() {
					return errors.New("connection closed")
				}
				return nil
			}),
		)
	}

	service := order.NewService(repo, router, log, opts...)
	handler := order.NewHandler(service, router, log, order.HandlerConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		WebSocket: notify.WSConfig{
			SendBuffer: cfg.WebSocket.SendBuffer,
			WriteWait:  cfg.WebSocket.WriteWait,
			PongWait:   cfg.WebSocket.PongWait,
			PingPeriod: cfg.WebSocket.PingPeriod,
		},
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		Metrics:        m,
		MetricsHandler: m.Handler(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("service_started", fmt.Sprintf("Order Service started on port %d", cfg.Server.Port), requestID, map[string]interface{}{
			"port": cfg.Server.Port,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		// hijacked websocket connections are not tracked by Shutdown
		handler.CloseClients()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStorage connects the configured backend. The returned ping is nil when
// the backend has nothing to check.
func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (order.Repository, order.HealthCheck, func(), error) {
	requestID := logger.GenerateRequestID()

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := database.New(ctx, cfg, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}

		if err := db.RunMigrations(ctx, migrationFiles(cfg)); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return database.NewStore(db), db.Ping, db.Close, nil

	case config.DriverMongo:
		store, err := mongostore.Connect(ctx, cfg.MongoDB, log)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				log.Error("mongo_close_failed", "Failed to disconnect from MongoDB", requestID, err, nil)
			}
		}
		if err := store.SeedTables(ctx, cfg.Storage.SeedTables); err != nil {
			closeFn()
			return nil, nil, nil, fmt.Errorf("failed to seed tables: %w", err)
		}
		return store, store.Ping, closeFn, nil

	case config.DriverMemory:
		store := memstore.New()
		if err := store.SeedTables(ctx, cfg.Storage.SeedTables); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to seed tables: %w", err)
		}
		log.Warn("memory_storage", "Using in-memory storage, state is lost on restart", requestID, map[string]interface{}{
			"tables": cfg.Storage.SeedTables,
		})
		return store, nil, func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// migrationFiles prefers the configured directory and falls back to the
// migrations compiled into the binary
func migrationFiles(cfg *config.Config) fs.FS {
	if dir := cfg.Database.Migrations; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}

// runMigrations applies the SQL migrations and exits
func runMigrations(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrationFiles(cfg)); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("migrations_applied", "Database is up to date", logger.GenerateRequestID(), nil)
	return nil
}

// runNotificationSubscriber prints every lifecycle event published on the bus
func runNotificationSubscriber(ctx context.Context, cfg *config.Config, log *logger.Logger, prefetch int) error {
	conn, err := messaging.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}

	declare := func() (string, error) {
		return conn.DeclareQueue(cfg.RabbitMQ.Queue)
	}
	queue, err := declare()
	if err != nil {
		conn.Close()
		return err
	}

	consumer := messaging.NewConsumer(conn, log, queue, "notification-subscriber", prefetch).
		WithRedeclare(declare)

	return notification.NewSubscriber(consumer, log).Start(ctx)
}
