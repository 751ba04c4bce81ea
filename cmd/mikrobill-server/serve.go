package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	internalhttp "github.com/Butterfly-Student/MikroBill-API/internal/api/http"
	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/handler"
	"github.com/Butterfly-Student/MikroBill-API/internal/connection"
	"github.com/Butterfly-Student/MikroBill-API/internal/db"
	"github.com/Butterfly-Student/MikroBill-API/internal/devices"
	"github.com/Butterfly-Student/MikroBill-API/internal/events"
	grpcserver "github.com/Butterfly-Student/MikroBill-API/internal/grpc/server"
	"github.com/Butterfly-Student/MikroBill-API/internal/provisioning"
	"github.com/Butterfly-Student/MikroBill-API/internal/queue"
	"github.com/Butterfly-Student/MikroBill-API/internal/reconcile"
	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
	"github.com/Butterfly-Student/MikroBill-API/internal/statestore"
	"github.com/Butterfly-Student/MikroBill-API/internal/store"
	"github.com/Butterfly-Student/MikroBill-API/internal/voucher"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context) error {
	slog.Info("MikroBill API server", "version", AppVersion)

	if _, err := db.RunMigrations(ctx, config.Database); err != nil {
		return err
	}
	pool, err := db.InitDB(ctx, config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	queries := store.New(pool)

	redisClient, err := statestore.NewClient(ctx, config.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	mirror := statestore.New(redisClient, config.Redis.KeyPrefix)
	jobs := queue.New(redisClient, config.Redis.KeyPrefix, config.Queue)

	sealer, err := devices.NewSealer(config.Device.CredentialKey)
	if err != nil {
		return fmt.Errorf("device.credential_key: %w", err)
	}
	deviceService := devices.NewService(queries, sealer)
	registry := connection.NewRegistry(deviceService, routeros.Dial, config.Device.Config)
	defer registry.Stop()

	grpcSrv, err := grpcserver.NewServer(config.Grpc)
	if err != nil {
		return err
	}

	publisher := events.New(config.Kafka)
	defer publisher.Close()

	coordinator := provisioning.NewCoordinator(registry, mirror)
	provisioningService := provisioning.NewService(coordinator, queries)
	voucherService := voucher.NewService(coordinator, queries, deviceService, publisher)
	scheduler := voucher.NewScheduler(config.Voucher, queries, publisher)
	manager := reconcile.NewManager(config.Sync, registry, deviceService, mirror, jobs, grpcSrv)

	if n, err := scheduler.Restore(ctx); err != nil {
		slog.Warn("Failed to restore voucher expiry timers", "error", err)
	} else {
		slog.Info("Voucher expiry timers restored", "count", n)
	}

	stopBackground := startBackground(manager.InitializeAll, manager.StopAll, jobs.Run, scheduler.Run)
	defer stopBackground()

	services := &internalhttp.Services{
		Devices:      deviceService,
		Sync:         manager,
		Connections:  registry,
		Provisioning: provisioningService,
		Vouchers:     voucherService,
		Expiry:       scheduler,
		HealthChecks: map[string]handler.HealthCheck{
			"database": pool.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "X-API-Key", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services, config.Http)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 2)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		if err := grpcSrv.Start(); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case serveErr = <-errChan:
		slog.Error("Server error", "error", serveErr)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
			slog.Error("gRPC server shutdown error", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := stopBackground(); err != nil {
			slog.Error("Background worker error", "error", err)
		}
	}()

	wg.Wait()
	slog.Info("Shutdown complete")
	return serveErr
}

// startBackground runs the workers and the device initialization in one
// group. A failed initialization is logged without stopping the workers.
// The returned stop cancels the group, waits for it and only then runs
// teardown, so nothing is started after teardown. Calling stop again is a
// no-op.
func startBackground(initialize func(context.Context) error, teardown func(),
	workers ...func(context.Context) error) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	for _, run := range workers {
		group.Go(func() error { return run(ctx) })
	}
	group.Go(func() error {
		if err := initialize(ctx); err != nil {
			slog.Warn("Some devices failed to initialize", "error", err)
		}
		return nil
	})

	var once sync.Once
	var err error
	return func() error {
		once.Do(func() {
			cancel()
			err = group.Wait()
			teardown()
		})
		return err
	}
}
