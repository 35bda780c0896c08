package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/agentmesh/internal/chaos"
	"github.com/xiaot623/agentmesh/internal/config"
	"github.com/xiaot623/agentmesh/internal/dispatch"
	"github.com/xiaot623/agentmesh/internal/history"
	"github.com/xiaot623/agentmesh/internal/policy"
	"github.com/xiaot623/agentmesh/internal/registry"
	"github.com/xiaot623/agentmesh/internal/resilience"
	"github.com/xiaot623/agentmesh/internal/router"
	"github.com/xiaot623/agentmesh/internal/service"
	adminhttp "github.com/xiaot623/agentmesh/internal/transport/http"
	"github.com/xiaot623/agentmesh/internal/transport/rpc"
	"github.com/xiaot623/agentmesh/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting agentmesh broker...")
	log.Printf("RPC Port: %d", cfg.RPCPort)
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)

	// Initialize history store
	store, err := history.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize history store: %v", err)
	}
	defer store.Close()

	// Initialize registries and router
	agents := registry.NewAgents()
	tools := registry.NewTools()
	registry.RegisterBuiltinTools(tools)
	msgRouter := router.New(agents)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize dispatcher
	dispatcher := dispatch.New(tools, policyEngine, dispatch.Config{
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		},
		Retry: resilience.RetryConfig{
			MaxAttempts:    cfg.RetryAttempts,
			BaseDelay:      cfg.RetryBaseDelay,
			AttemptTimeout: cfg.ToolTimeout,
		},
	})

	// Initialize failure injection from config
	injector := chaos.NewInjector()
	injector.SetDelay(cfg.ChaosDelay)
	injector.SetFail(cfg.ChaosFail)
	injector.SetFailureRate(cfg.ChaosFailureRate)

	// Initialize service
	svc := service.New(agents, tools, msgRouter, dispatcher, store, injector, cfg)

	// Initialize protocol handler and TCP server
	protoHandler := rpc.NewHandler(svc)
	rpcServer := rpc.NewServer(protoHandler)

	// Create admin Echo server
	adminServer := echo.New()
	adminServer.HideBanner = true

	// Middleware
	adminServer.Use(middleware.Logger())
	adminServer.Use(middleware.Recover())
	adminServer.Use(middleware.CORS())

	// Register admin and WebSocket routes
	adminhttp.NewHandler(svc).RegisterRoutes(adminServer)
	ws.NewServer(protoHandler).RegisterRoutes(adminServer)

	// Start RPC server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.RPCPort)
		if err := rpcServer.Start(addr); err != nil {
			log.Fatalf("Failed to start RPC server: %v", err)
		}
	}()

	// Start admin server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := adminServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start admin server: %v", err)
		}
	}()

	log.Printf("JSON-RPC broker started on port %d", cfg.RPCPort)
	log.Printf("Admin API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down broker...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown RPC server gracefully: %v", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown admin server gracefully: %v", err)
	}

	log.Println("Broker stopped")
}
