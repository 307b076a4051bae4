package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/fraud-platform/card-fraud-rule-management/internal/approval"
	"github.com/fraud-platform/card-fraud-rule-management/internal/compiler"
	"github.com/fraud-platform/card-fraud-rule-management/internal/events"
	"github.com/fraud-platform/card-fraud-rule-management/internal/handler"
	"github.com/fraud-platform/card-fraud-rule-management/internal/objectstore"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/config"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/database"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/logger"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/middleware"
	"github.com/fraud-platform/card-fraud-rule-management/internal/publisher"
	"github.com/fraud-platform/card-fraud-rule-management/internal/repository"
	"github.com/fraud-platform/card-fraud-rule-management/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting fraud rule governance service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	store, err := newObjectStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize object storage backend")
	}
	log.Info().Str("backend", cfg.Storage.Backend).Msg("Object storage backend initialized")

	natsConn, err := nats.Connect(cfg.NATS.URL, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		log.Warn().Err(err).Msg("NATS unavailable, audit fan-out will be a no-op")
		natsConn = nil
	} else {
		defer natsConn.Close()
	}
	notifier := events.New(natsConn, log.Logger)

	// Repositories
	ruleRepo := repository.NewRuleRepository(db)
	rulesetRepo := repository.NewRulesetRepository(db)
	fieldRepo := repository.NewFieldRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	manifestRepo := repository.NewManifestRepository(db)

	// Compiler + publisher
	loader := service.NewRepositoryLoader(ruleRepo, rulesetRepo, fieldRepo)
	comp := compiler.New(loader)
	pub := publisher.New(comp, store, manifestRepo, time.Now)

	// Approval engine
	approvalEngine := approval.New(db, ruleRepo, rulesetRepo, fieldRepo, approvalRepo, auditRepo, pub, notifier, log.Logger)

	// Services
	ruleService := service.NewRuleService(ruleRepo)
	rulesetService := service.NewRulesetService(rulesetRepo, ruleRepo)
	fieldService := service.NewFieldService(db, fieldRepo)
	registryService := service.NewFieldRegistryService(db, fieldRepo, store)

	httpHandler := handler.NewHTTPHandler(
		ruleService, rulesetService, fieldService, registryService, loader, approvalEngine, auditRepo, log.Logger,
	)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRules(w, r)
		case http.MethodPost:
			httpHandler.CreateRule(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/rules/versions", httpHandler.CreateRuleVersion)
	mux.HandleFunc("/api/v1/rules/versions/submit", httpHandler.SubmitRuleVersion)
	mux.HandleFunc("/api/v1/rules/versions/approve", httpHandler.ApproveRuleVersion)
	mux.HandleFunc("/api/v1/rules/versions/reject", httpHandler.RejectRuleVersion)

	mux.HandleFunc("/api/v1/rulesets", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRulesets(w, r)
		case http.MethodPost:
			httpHandler.CreateRuleset(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/rulesets/versions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRulesetVersions(w, r)
		case http.MethodPost:
			httpHandler.CreateRulesetVersion(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/rulesets/versions/submit", httpHandler.SubmitRulesetVersion)
	mux.HandleFunc("/api/v1/rulesets/versions/approve", httpHandler.ApproveRulesetVersion)
	mux.HandleFunc("/api/v1/rulesets/versions/reject", httpHandler.RejectRulesetVersion)
	mux.HandleFunc("/api/v1/rulesets/activate", httpHandler.ActivateRulesetVersion)

	mux.HandleFunc("/api/v1/fields", httpHandler.CreateField)
	mux.HandleFunc("/api/v1/fields/catalog", httpHandler.GetActiveCatalog)
	mux.HandleFunc("/api/v1/fields/registry/publish", httpHandler.PublishFieldRegistry)

	mux.HandleFunc("/api/v1/audit", httpHandler.ListAudit)
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.ListPendingApprovals)

	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// The gRPC surface is a reflection-only shim: identity/permission
	// resolution lives outside this service, so there is no domain service
	// to register here yet.
	grpcServer := grpc.NewServer()
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

func newObjectStore(ctx context.Context, cfg config.StorageConfig) (objectstore.Store, error) {
	switch cfg.Backend {
	case "s3":
		return objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			Prefix:    cfg.Prefix,
			PathStyle: cfg.PathStyle,
		})
	default:
		return objectstore.NewFilesystemStore(cfg.Root)
	}
}
