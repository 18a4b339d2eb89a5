// Package main implements a mock A2A agent for local development and e2e
// tests. It serves the two endpoints every spawned agent container must
// expose: GET /health for readiness probes and POST / for JSON-RPC
// message/send, answering with a deterministic echo of the inbound text.
//
// The binary reads the same environment the container runtime injects
// (AGENT_ID, AGENT_NAME), so an image built from it can stand in for a real
// agent behind the control plane.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/common/logger"
)

func main() {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: envOr("LOG_LEVEL", "info"), Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	port, err := strconv.Atoi(envOr("PORT", "8000"))
	if err != nil {
		log.Fatal("Invalid PORT", zap.String("port", os.Getenv("PORT")))
	}

	agent := &mockAgent{
		id:     envOr("AGENT_ID", "mock"),
		name:   envOr("AGENT_NAME", "Mock Agent"),
		logger: log.WithFields(zap.String("component", "mock-agent")),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", agent.handleHealth)
	router.POST("/", agent.handleMessage)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		log.Info("Mock agent listening",
			zap.String("agent_id", agent.id),
			zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Shutdown failed", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
