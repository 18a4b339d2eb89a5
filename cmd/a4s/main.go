// Package main is the A4S control plane entry point. One binary runs the
// agent registry, the container scheduler, the channel router, and the
// memory, skill and template surfaces together with shared infrastructure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/agent/docker"
	agenthandlers "github.com/lunarr-ai/a4s/internal/agent/handlers"
	"github.com/lunarr-ai/a4s/internal/agent/registry"
	"github.com/lunarr-ai/a4s/internal/agent/scheduler"
	channelhandlers "github.com/lunarr-ai/a4s/internal/channel/handlers"
	"github.com/lunarr-ai/a4s/internal/channel/orchestrator"
	"github.com/lunarr-ai/a4s/internal/common/config"
	"github.com/lunarr-ai/a4s/internal/common/httpmw"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/common/tracing"
	"github.com/lunarr-ai/a4s/internal/embeddings"
	gateways "github.com/lunarr-ai/a4s/internal/gateway/websocket"
	"github.com/lunarr-ai/a4s/internal/memory"
	memoryhandlers "github.com/lunarr-ai/a4s/internal/memory/handlers"
	skillshandlers "github.com/lunarr-ai/a4s/internal/skills/handlers"
	"github.com/lunarr-ai/a4s/internal/templates"
	"github.com/lunarr-ai/a4s/pkg/a2a"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting A4S control plane...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory, or NATS if configured)
	eventBus, busCleanup, err := provideEventBus(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()

	// 5. Embedding provider for semantic agent and skill search
	embedder, err := embeddings.Provide(cfg.Embeddings, log)
	if err != nil {
		log.Fatal("Failed to initialize embeddings provider", zap.Error(err))
	}

	// 6. Agent registry (Redis). An unreachable registry is not fatal:
	// requests answer 503 until it returns.
	agentRegistry := registry.NewRedisRegistry(cfg.Registry, embedder, log)
	defer agentRegistry.Close()
	if err := agentRegistry.Ping(ctx); err != nil {
		log.Warn("Redis registry not reachable - agent operations will fail until it returns",
			zap.String("addr", cfg.Registry.Addr),
			zap.Error(err))
	} else {
		log.Info("Connected to Redis registry", zap.String("addr", cfg.Registry.Addr))
	}

	// 7. Docker runtime. A missing daemon degrades spawning, not the API.
	runtime, err := docker.NewRuntime(cfg.Docker, cfg.API.BaseURL, cfg.API.GatewayURL, log)
	if err != nil {
		log.Fatal("Failed to create Docker runtime", zap.Error(err))
	}
	defer runtime.Close()
	if err := runtime.Ping(ctx); err != nil {
		log.Warn("Docker daemon not available - agent spawning will fail until it returns", zap.Error(err))
	} else {
		log.Info("Connected to Docker daemon")
		if err := runtime.EnsureNetwork(ctx); err != nil {
			log.Warn("Failed to ensure agent network", zap.Error(err))
		}
	}

	// 8. Channel and skill stores (SQLite, or PostgreSQL if configured)
	channelStore, skillStore, storeCleanup, err := provideStores(ctx, cfg, embedder, log)
	if err != nil {
		log.Fatal("Failed to initialize stores", zap.Error(err))
	}
	defer storeCleanup()

	// 9. Template agent catalog
	catalog, err := templates.Load(cfg.Templates.Path, log)
	if err != nil {
		log.Fatal("Failed to load template catalog", zap.Error(err))
	}

	// 10. Memory engine (optional external service)
	var memoryEngine *memory.Engine
	if cfg.Memory.BaseURL != "" {
		memoryEngine = memory.NewEngine(cfg.Memory)
		defer memoryEngine.Close()
	}

	// 11. Scheduler with idle reaper
	sched := scheduler.NewScheduler(agentRegistry, runtime, eventBus, log, scheduler.Config{
		IdleTimeout:    cfg.Scheduler.IdleTimeoutDuration(),
		ReaperInterval: cfg.Scheduler.ReaperIntervalDuration(),
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// 12. Channel orchestrator
	backboneID := ""
	if cfg.Backbone.Enabled {
		backboneID = cfg.Backbone.ID
	}
	a2aClient := a2a.NewClient()
	orch := orchestrator.New(channelStore, agentRegistry, sched, a2aClient, eventBus, backboneID, log)

	// 13. WebSocket gateway streaming bus events
	hub := gateways.NewHub(log)
	go hub.Run(ctx)
	if _, err := gateways.RegisterNotifications(ctx, eventBus, hub, log); err != nil {
		log.Error("Failed to register WebSocket notifications", zap.Error(err))
	}

	// 14. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "a4s"))
	router.Use(httpmw.OtelTracing("a4s"))

	agenthandlers.RegisterRoutes(router, agentRegistry, runtime, sched, eventBus, backboneID, log)
	channelhandlers.RegisterRoutes(router, channelStore, agentRegistry, orch, eventBus, backboneID, log)
	skillshandlers.RegisterRoutes(router, skillStore, log)
	templates.RegisterRoutes(router, catalog)
	gateways.RegisterRoutes(router, hub, log)
	if memoryEngine != nil {
		memoryhandlers.RegisterRoutes(router, memoryEngine, agentRegistry, log)
		log.Info("Memory API enabled", zap.String("base_url", cfg.Memory.BaseURL))
	} else {
		log.Info("Memory API disabled (memory.baseUrl not set)")
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("http", "/api/v1"),
		zap.String("websocket", "/api/v1/events/ws"),
		zap.String("health", "/health"))

	// 15. Backbone agent. Spawning may pull an image, so it runs off the
	// boot path; until it finishes, channel routing uses the search fallback.
	if cfg.Backbone.Enabled {
		go func() {
			if err := ensureBackboneAgent(ctx, cfg.Backbone, cfg.Docker.AgentPort, agentRegistry, runtime, log); err != nil {
				log.Error("Backbone agent setup failed - channel routing falls back to search", zap.Error(err))
			}
		}()
	}

	// 16. Embedded MCP server
	mcpEndpoint, mcpCleanup, err := provideMcpServer(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to start MCP server", zap.Error(err))
	}
	if mcpEndpoint != "" {
		log.Info("MCP server listening", zap.String("sse_endpoint", mcpEndpoint))
	}

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down A4S...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if mcpCleanup != nil {
		if err := mcpCleanup(); err != nil {
			log.Error("MCP server shutdown error", zap.Error(err))
		}
	}

	if err := sched.Stop(); err != nil {
		log.Error("Scheduler stop error", zap.Error(err))
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer shutdown error", zap.Error(err))
	}

	log.Info("A4S stopped")
}
