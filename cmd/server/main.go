package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabcode/internal/api"
	"collabcode/internal/config"
	"collabcode/internal/db"
	"collabcode/internal/models"
	"collabcode/internal/registry"
	"collabcode/internal/repository"
	"collabcode/internal/sandbox"
	"collabcode/internal/services"
	"collabcode/internal/services/collaboration"
	"collabcode/internal/telemetry"

	"github.com/sirupsen/logrus"
)

func main() {
	// The execution engine re-executes this binary as its sandbox worker.
	if sandbox.IsWorkerProcess() {
		os.Exit(sandbox.RunWorker(os.Stdin, os.Stdout))
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("❌ Failed to load config: %v", err)
	}
	telemetry.InitLogging(cfg.LogLevel, cfg.LogFormat)

	logrus.Info("🚀 Starting collaborative code server...")

	jaegerShutdown, err := telemetry.InitJaeger("collabcode", cfg.JaegerEndpoint)
	if err != nil {
		logrus.Warnf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			logrus.Warnf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Snapshot persistence is optional and stays off the request path.
	var (
		snapshotRepo    *repository.SnapshotRepositoryImpl
		snapshotService *services.SnapshotService
		snapshotStore   api.SnapshotStore
	)
	if cfg.PersistenceEnabled() {
		database, err := db.NewGorm(cfg)
		if err != nil {
			logrus.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer database.Close()

		snapshotRepo = repository.NewSnapshotRepository(database.DB)
		snapshotStore = snapshotRepo
	} else {
		logrus.Info("Persistence disabled (DB_DRIVER=none)")
	}

	registryOpts := []registry.Option{registry.WithGracePeriod(cfg.RoomGracePeriod)}
	if snapshotRepo != nil {
		// the registry is needed to build the service, so expiry is routed through a closure
		registryOpts = append(registryOpts, registry.WithExpiryHandler(func(st models.RoomState) {
			snapshotService.OnRoomExpired(st)
		}))
	}
	rooms := registry.New(registryOpts...)
	defer rooms.Close()

	if snapshotRepo != nil {
		snapshotService = services.NewSnapshotService(snapshotRepo, rooms, cfg.SnapshotInterval, cfg.SnapshotKeep)
		snapshotService.Start()
	}

	engine, err := sandbox.NewEngine(sandbox.Limits{
		Timeout:        cfg.ExecutionTimeout,
		MemoryBytes:    int64(cfg.ExecutionMemoryMB) * 1024 * 1024,
		MaxOutputBytes: cfg.ExecutionMaxOutputKB * 1024,
	})
	if err != nil {
		logrus.Fatalf("❌ Failed to initialize execution engine: %v", err)
	}
	limits := engine.Limits()
	logrus.WithFields(logrus.Fields{
		"timeout":          limits.Timeout.String(),
		"memory_mb":        limits.MemoryBytes / (1024 * 1024),
		"max_output_bytes": limits.MaxOutputBytes,
	}).Info("✅ Execution engine ready")

	executions := services.NewExecutionService(engine, cfg.ExecutionWorkers, cfg.ExecutionQueueSize)
	executions.Start()

	hub := collaboration.NewHub(rooms, executions, cfg.ExecutionBroadcast)
	relay := collaboration.NewRelay(cfg.RoomGracePeriod)
	defer relay.Close()

	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()
	wsHandler := collaboration.NewWebSocketHandler(connCtx, hub, relay, cfg.OriginAllowed)

	handler := api.NewHandler(rooms, snapshotStore, executions, hub, relay)
	router := api.SetupRoutes(handler, wsHandler, cfg.OriginAllowed)

	addr := cfg.Addr()
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("🌐 Server listening on http://%s", addr)
		logrus.Info("📚 Endpoints:")
		logrus.Info("   GET /health, /api/health           - Liveness")
		logrus.Info("   GET /api/stats                     - Registry statistics")
		logrus.Info("   GET /api/sessions/:id              - Live session state")
		logrus.Info("   GET /api/sessions/:id/snapshots    - Persisted snapshots")
		logrus.Info("   WS  /ws                            - Presence, edits and execution")
		logrus.Info("   WS  /collaboration/:doc            - Document replication")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Warnf("⚠️  Server forced to shutdown: %v", err)
	}

	// hijacked websocket connections are not covered by server.Shutdown
	hub.Shutdown()
	cancelConns()

	executions.Shutdown()
	if snapshotService != nil {
		snapshotService.Shutdown()
	}

	logrus.Info("✓ Server shutdown complete")
}
