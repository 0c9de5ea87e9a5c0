package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	gRPC "google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/remitflow/golang_services/internal/platform/config"
	"github.com/remitflow/golang_services/internal/platform/database"
	"github.com/remitflow/golang_services/internal/platform/kvstore"
	"github.com/remitflow/golang_services/internal/platform/logger"
	"github.com/remitflow/golang_services/internal/platform/messagebroker"
	"github.com/remitflow/golang_services/internal/transaction_service/adapters/backend"
	"github.com/remitflow/golang_services/internal/transaction_service/adapters/events"
	"github.com/remitflow/golang_services/internal/transaction_service/adapters/exchangerate"
	grpcadapter "github.com/remitflow/golang_services/internal/transaction_service/adapters/grpc"
	httpadapter "github.com/remitflow/golang_services/internal/transaction_service/adapters/http"
	"github.com/remitflow/golang_services/internal/transaction_service/app"
	"github.com/remitflow/golang_services/internal/transaction_service/domain"
	"github.com/remitflow/golang_services/internal/transaction_service/network"
	"github.com/remitflow/golang_services/internal/transaction_service/queue"
	"github.com/remitflow/golang_services/internal/transaction_service/store"
)

const (
	serviceName     = "transaction-service"
	shutdownTimeout = 15 * time.Second
	drainTimeout    = 2 * time.Minute
	eventBuffer     = 64
)

type backendDeps struct {
	remote  domain.RemoteBackend
	checker network.Checker
	closeFn func()
}

func newBackend(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) (backendDeps, error) {
	switch cfg.BackendDriver {
	case "http":
		b := backend.NewHTTPBackend(cfg.BackendBaseURL, cfg.BackendAPIKey, cfg.BackendTimeout, appLogger)
		if cfg.BackendRateLimitRPS > 0 {
			b.SetRateLimiter(backend.NewLimiter(cfg.BackendRateLimitRPS, cfg.BackendRateLimitBurst))
		}
		return backendDeps{remote: b, checker: b, closeFn: func() {}}, nil
	default:
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, database.PoolOptions{}, appLogger)
		if err != nil {
			return backendDeps{}, err
		}
		b := backend.NewPostgresBackend(pool, appLogger)
		return backendDeps{remote: b, checker: b, closeFn: pool.Close}, nil
	}
}

func newLocalStore(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) (kvstore.Store, func(), error) {
	if cfg.LocalStoreDriver == "memory" {
		appLogger.Warn("Using in-memory local store; offline transactions will not survive a restart")
		return kvstore.NewMemoryStore(), func() {}, nil
	}
	rs, err := kvstore.NewRedisStore(ctx, cfg.RedisURL, "remitflow", appLogger)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)
	appLogger.Info("Transaction service starting...",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"metrics_port", cfg.MetricsPort,
		"local_store", cfg.LocalStoreDriver,
		"backend", cfg.BackendDriver,
	)
	if cfg.WebhookAPIKeyHash == "" {
		appLogger.Warn("WEBHOOK_API_KEY_HASH not set; all webhook calls will be rejected")
	}

	kv, closeKV, err := newLocalStore(mainCtx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to open local store", "error", err)
		os.Exit(1)
	}
	defer closeKV()

	remote, err := newBackend(mainCtx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize remote backend", "error", err)
		os.Exit(1)
	}
	defer remote.closeFn()

	fees, err := domain.NewFeeSchedule(cfg.BaseFee, cfg.DefaultCountryRate)
	if err != nil {
		appLogger.Error("Invalid fee configuration", "error", err)
		os.Exit(1)
	}
	rates, err := exchangerate.NewStaticProvider(cfg.ExchangeRates, time.Now())
	if err != nil {
		appLogger.Error("Invalid EXCHANGE_RATES", "error", err)
		os.Exit(1)
	}

	var chained []domain.Notifier
	var natsClient *messagebroker.NATSClient
	if cfg.NATSUrl != "" {
		natsClient, err = messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
		if err != nil {
			appLogger.Warn("NATS unavailable; change notifications stay in-process", "error", err)
			natsClient = nil
		} else {
			defer natsClient.Close()
			chained = append(chained, events.NewNATSNotifier(natsClient, appLogger))
		}
	}
	broadcaster := app.NewBroadcaster(eventBuffer, appLogger, chained...)

	pingCtx, cancelPing := context.WithTimeout(mainCtx, 3*time.Second)
	initiallyOnline := remote.checker.Ping(pingCtx) == nil
	cancelPing()
	monitor := network.NewMonitor(initiallyOnline, appLogger)

	opQueue, err := queue.New(mainCtx, kv, appLogger)
	if err != nil {
		appLogger.Error("Failed to restore paused operations", "error", err)
		os.Exit(1)
	}

	txStore := store.New(kv, cfg.SessionID, appLogger)
	tasks := app.NewTaskRunner(cfg.BackendTimeout*2, nil, appLogger)
	manager := app.NewTransactionManager(txStore, opQueue, monitor, remote.remote, rates, broadcaster, tasks,
		app.ManagerConfig{Fees: fees, MaxAttempts: cfg.QueueMaxAttempts, RemoteTimeout: cfg.BackendTimeout},
		appLogger,
	)
	reconciler := app.NewWebhookReconciler(txStore, broadcaster, appLogger)

	monitor.OnReconnect(func(ctx context.Context) {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		if _, err := opQueue.Drain(drainCtx); err != nil && !errors.Is(err, domain.ErrDrainInProgress) {
			appLogger.Warn("Reconnect drain interrupted", "error", err)
		}
	})
	monitor.OnChange(func(ctx context.Context, status network.Status) {
		_ = broadcaster.Notify(ctx, domain.Event{Type: domain.EventNetworkChanged, Message: fmt.Sprintf("online=%t", status.Online)})
	})

	healthReporter := grpcadapter.NewHealthReporter(initiallyOnline, appLogger)
	monitor.OnChange(healthReporter.Observe)

	prober := network.NewProber(monitor, remote.checker, cfg.NetworkProbeInterval, 2, appLogger)
	scheduler := app.NewDrainScheduler(cfg.DrainSchedule, opQueue, monitor, drainTimeout, appLogger)

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error { return prober.Run(groupCtx) })
	g.Go(func() error { return scheduler.Run(groupCtx) })
	if natsClient != nil {
		subscriber := events.NewStatusSubscriber(natsClient, reconciler, cfg.PaymentStatusSubject, appLogger)
		g.Go(func() error { return subscriber.Run(groupCtx) })
	}

	// --- gRPC health ---
	grpcServer := gRPC.NewServer()
	healthReporter.Register(grpcServer)
	reflection.Register(grpcServer)

	grpcListenAddress := fmt.Sprintf(":%d", cfg.GRPCPort)
	grpcListener, err := net.Listen("tcp", grpcListenAddress)
	if err != nil {
		appLogger.Error("Failed to listen for gRPC", "address", grpcListenAddress, "error", err)
		os.Exit(1)
	}
	g.Go(func() error {
		appLogger.Info("gRPC health server starting", "address", grpcListenAddress)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, gRPC.ErrServerStopped) {
			appLogger.Error("gRPC server failed to serve", "error", err)
			return err
		}
		return nil
	})

	// --- HTTP API and webhooks ---
	router := httpadapter.NewRouter(httpadapter.RouterConfig{
		Transactions:      manager,
		Reconciler:        reconciler,
		Queue:             opQueue,
		Network:           monitor,
		Events:            broadcaster,
		WebhookAPIKeyHash: cfg.WebhookAPIKeyHash,
		JWTSecret:         cfg.JWTAccessSecret,
		Logger:            appLogger,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		return nil
	})

	// --- Metrics ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		return nil
	})

	// --- Graceful shutdown ---
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var shutdownErrors error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics shutdown: %w", err))
		}
		healthReporter.Shutdown()
		grpcServer.GracefulStop()

		if err := tasks.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Detached remote writes still running at shutdown", "error", err)
		}
		appLogger.Info("Servers shut down", "pending_operations", opQueue.Len())
		return shutdownErrors
	})

	appLogger.Info("Transaction service is ready and running.", "online", initiallyOnline)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Service group encountered an error during run/shutdown", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Transaction service shut down successfully.")
}
