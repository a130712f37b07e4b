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

	"github.com/finpilot/orchestrator/internal/adapter/llm"
	"github.com/finpilot/orchestrator/internal/adapter/vector"
	"github.com/finpilot/orchestrator/internal/config"
	"github.com/finpilot/orchestrator/internal/guard"
	"github.com/finpilot/orchestrator/internal/ledger"
	"github.com/finpilot/orchestrator/internal/replay"
	"github.com/finpilot/orchestrator/internal/service"
	"github.com/finpilot/orchestrator/internal/stage"
	"github.com/finpilot/orchestrator/internal/store"
	handler "github.com/finpilot/orchestrator/internal/transport/http"
	"github.com/finpilot/orchestrator/policy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting orchestrator...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Decision backend: %s", cfg.DecisionBackendURL)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}
	recordGuard := guard.New(policyEngine)

	decisionClient := llm.NewDecisionClient(cfg.Mode, cfg.DecisionBackendURL, cfg.DecisionAPIKey, cfg.DecisionModel, cfg.DecisionMaxRetries)
	var searchClient vector.SearchClient
	if cfg.Mode == llm.ModeMock {
		searchClient = vector.NewMockClient()
	} else {
		searchClient = vector.NewClient(cfg.VectorBackendURL)
	}

	memory := ledger.NewMemoryStore(db, recordGuard, searchClient, cfg.StorageMaxRetries)
	compliance := ledger.NewComplianceLedger(db, recordGuard, cfg.StorageMaxRetries)
	payments := ledger.NewPaymentLedger(db, recordGuard, compliance, cfg.StorageMaxRetries)
	profiles := ledger.NewProfileRegistry(db, recordGuard, cfg.StorageMaxRetries)

	decider := stage.NewBackendDecider(decisionClient, stage.NewSimulatedDecider(), stage.Timeouts{
		Analyst:     cfg.AnalystTimeout,
		Compliance:  cfg.ComplianceTimeout,
		Transaction: cfg.TransactionTimeout,
	})
	executor := stage.NewExecutor(decider)

	svc := service.New(db, memory, compliance, payments, profiles, executor, cfg)
	replayEngine := replay.NewEngine(db, memory, compliance, payments, profiles)

	h := handler.NewHandler(svc, replayEngine)

	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.Logger())
	server.Use(middleware.Recover())
	server.Use(middleware.CORS())

	h.RegisterRoutes(server)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down orchestrator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Orchestrator stopped")
}
