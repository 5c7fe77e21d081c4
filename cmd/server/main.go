package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumen-erp/be-procurement/internal/client"
	"github.com/lumen-erp/be-procurement/internal/config"
	"github.com/lumen-erp/be-procurement/internal/database"
	"github.com/lumen-erp/be-procurement/internal/handler"
	"github.com/lumen-erp/be-procurement/internal/logger"
	"github.com/lumen-erp/be-procurement/internal/middleware"
	"github.com/lumen-erp/be-procurement/internal/repository"
	"github.com/lumen-erp/be-procurement/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Procurement Workflow Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: time.Duration(cfg.Database.MaxConnTimeSec) * time.Second,
		MaxIdleTime: time.Duration(cfg.Database.MaxIdleTimeSec) * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	caseRepo := repository.NewCaseRepository(db)
	purchasingRepo := repository.NewPurchasingCaseRepository(db)
	tierRulesRepo := repository.NewTierRulesRepository(db)
	auditRepo := repository.NewCaseAuditRepository(db)

	// Initialize NATS notification publisher (optional)
	var publisher *client.NotificationPublisher
	if cfg.NATS.Enabled && cfg.NATS.URL != "" {
		conn, err := client.Connect(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
		} else {
			defer conn.Drain()
			publisher = client.NewNotificationPublisher(conn, log.Logger)
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS notification publisher initialized")
		}
	}

	// Initialize services
	tierAssigner := service.NewRuleTierAssigner(tierRulesRepo, log)
	pipeline := service.NewPipeline()

	var events service.EventPublisher
	if publisher != nil {
		events = publisher
	}
	workflowService := service.NewWorkflowService(caseRepo, purchasingRepo, auditRepo, tierAssigner, pipeline, events, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(workflowService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Purchasing case routes
	mux.HandleFunc("/api/v1/purchasing-cases", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListPurchasingCases(w, r)
		case http.MethodPost:
			httpHandler.OpenPurchasingCase(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/purchasing-cases/get", httpHandler.GetPurchasingCase)

	// Case routes
	mux.HandleFunc("/api/v1/cases", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListCases(w, r)
		case http.MethodPost:
			httpHandler.CreateCase(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/cases/get", httpHandler.GetCase)
	mux.HandleFunc("/api/v1/cases/review", httpHandler.SubmitReview)
	mux.HandleFunc("/api/v1/cases/approve", httpHandler.SubmitApproval)
	mux.HandleFunc("/api/v1/cases/next-stage", httpHandler.CreateNextStage)
	mux.HandleFunc("/api/v1/cases/pending", httpHandler.GetPendingCases)
	mux.HandleFunc("/api/v1/cases/audit", httpHandler.GetAuditTrail)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
