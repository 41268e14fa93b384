package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog/mssql"
	"github.com/dota-labs/dota-engine/pkg/config"
	"github.com/dota-labs/dota-engine/pkg/logging"
	"github.com/dota-labs/dota-engine/pkg/mcp"
	"github.com/dota-labs/dota-engine/pkg/mcp/tools"
	"github.com/dota-labs/dota-engine/pkg/middleware"
	"github.com/dota-labs/dota-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("transport", cfg.Transport),
		zap.String("catalog", cfg.Catalog.Database),
		zap.String("catalog_host", cfg.Catalog.Host),
		zap.String("version", cfg.Version))

	catalogCfg := mssql.Config{
		Host:                   cfg.Catalog.Host,
		Port:                   cfg.Catalog.Port,
		Database:               cfg.Catalog.Database,
		Username:               cfg.Catalog.Username,
		Password:               cfg.Catalog.Password,
		Encrypt:                cfg.Catalog.Encrypt,
		TrustServerCertificate: cfg.Catalog.TrustServerCertificate,
		ConnectionTimeout:      cfg.Catalog.ConnectionTimeout,
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), time.Minute)
	provider, err := mssql.New(connectCtx, &catalogCfg, logger)
	cancelConnect()
	if err != nil {
		logger.Fatal("failed to connect to catalog", zap.String("error", logging.SanitizeError(err)))
	}

	connections := services.NewConnectionManager(provider, catalogCfg, logger)
	defer func() { _ = connections.Close() }()

	schemaCache := services.NewSchemaCache(connections, logger)
	connections.OnSwitch(schemaCache.Invalidate)

	resolver := services.NewNameResolver(schemaCache, connections, logger)
	locator := services.NewWriterLocator(connections, logger)
	walker := services.NewLineageWalker(connections, logger)
	disambiguator := services.NewDisambiguator(connections, locator, logger)

	lineageService, err := services.NewLineageService(
		cfg.Lineage, schemaCache, connections, resolver, locator, walker, disambiguator, logger)
	if err != nil {
		logger.Fatal("failed to create lineage service", zap.Error(err))
	}
	catalogService := services.NewCatalogService(connections, resolver, logger)
	jobsService := services.NewJobsService(connections, resolver, logger)

	// Warm the snapshot so the first lineage request does not pay for a full
	// catalog listing. Failure is not fatal; requests refresh lazily.
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 2*time.Minute)
	if counts, notes, err := schemaCache.Refresh(warmCtx); err != nil {
		logger.Warn("initial schema refresh failed, continuing with lazy refresh",
			zap.String("error", logging.SanitizeError(err)))
	} else {
		logger.Info("schema snapshot warmed",
			zap.Int("tables", counts.Tables),
			zap.Int("procedures", counts.Procedures),
			zap.Strings("notes", notes))
	}
	cancelWarm()

	mcpServer := mcp.NewServer("dota-engine", cfg.Version, logger)
	tools.RegisterLineageTools(mcpServer.MCP(), &tools.LineageToolDeps{
		LineageService: lineageService,
		Logger:         logger,
	})
	tools.RegisterSchemaTools(mcpServer.MCP(), &tools.SchemaToolDeps{
		CatalogService: catalogService,
		SchemaCache:    schemaCache,
		Logger:         logger,
	})
	tools.RegisterJobsTools(mcpServer.MCP(), &tools.JobsToolDeps{
		JobsService: jobsService,
		Logger:      logger,
	})
	tools.RegisterConnectionTools(mcpServer.MCP(), &tools.ConnectionToolDeps{
		Connections: connections,
		SchemaCache: schemaCache,
		Logger:      logger,
	})
	tools.RegisterAskTool(mcpServer.MCP(), &tools.AskToolDeps{
		LineageService: lineageService,
		JobsService:    jobsService,
		Logger:         logger,
	})

	if cfg.Transport == "stdio" {
		logger.Info("serving MCP over stdio")
		if err := mcpServer.NewStdioServer().Listen(context.Background(), os.Stdin, os.Stdout); err != nil {
			logger.Fatal("stdio server failed", zap.Error(err))
		}
		return
	}

	mux := http.NewServeMux()
	mcpHandler := middleware.MCPRequestLogger(logger)(mcpServer.NewStreamableHTTPServer())
	mux.Handle("/mcp", requirePOST(mcpHandler))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": cfg.Version,
		})
	})

	httpServer := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: middleware.RequestLogger(logger)(mux),
	}

	go func() {
		logger.Info("starting dota-engine",
			zap.String("addr", httpServer.Addr),
			zap.String("version", cfg.Version))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

// requirePOST returns 405 Method Not Allowed for non-POST requests. MCP over
// HTTP streaming uses POST for JSON-RPC requests.
func requirePOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
